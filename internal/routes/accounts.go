package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/duobank/duobank/internal/account"
)

// RegisterAccountRoutes wires account read endpoints.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler) {
	r.Get("/accounts", h.List)
	r.Get("/accounts/reconcile", h.Reconcile)
	r.Get("/accounts/:accountId/balance", h.Balance)
}
