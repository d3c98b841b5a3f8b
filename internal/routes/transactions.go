package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/duobank/duobank/internal/transactions"
)

// RegisterTransactionRoutes wires the money movement endpoints. Writes go
// through the idempotency middleware.
func RegisterTransactionRoutes(r fiber.Router, h *transactions.Handler, idem fiber.Handler) {
	r.Get("/transactions", h.List)
	r.Get("/transactions/:transactionId", h.Detail)
	if idem != nil {
		r.Post("/transactions/transfer", idem, h.Transfer)
		r.Post("/transactions/exchange", idem, h.Exchange)
	} else {
		r.Post("/transactions/transfer", h.Transfer)
		r.Post("/transactions/exchange", h.Exchange)
	}
}
