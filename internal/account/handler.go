package account

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/duobank/duobank/internal/ledger"
)

// Handler exposes account HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type accountResponse struct {
	ID           string `json:"id"`
	Currency     string `json:"currency"`
	BalanceCents int64  `json:"balance_cents"`
	Balance      string `json:"balance"`
}

func toResponse(view View) accountResponse {
	return accountResponse{
		ID:           view.ID,
		Currency:     string(view.Currency),
		BalanceCents: view.BalanceCents,
		Balance:      view.Balance,
	}
}

// List returns the authenticated user's accounts.
func (h *Handler) List(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	views, err := h.service.List(c.UserContext(), userID)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]accountResponse, 0, len(views))
	for _, view := range views {
		out = append(out, toResponse(view))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"accounts": out})
}

// Balance returns one account's balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	view, err := h.service.Balance(c.UserContext(), userID, c.Params("accountId"))
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toResponse(view))
}

// Reconcile compares each account balance against the sum of its entries.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	report, err := h.service.Reconcile(c.UserContext(), userID)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	items := make([]fiber.Map, 0, len(report.Items))
	for _, item := range report.Items {
		items = append(items, fiber.Map{
			"account_id":    item.AccountID,
			"currency":      string(item.Currency),
			"balance_cents": item.BalanceCents,
			"ledger_sum":    item.LedgerSumCents,
			"diff_cents":    item.DiffCents,
			"ok":            item.OK,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"ok": report.OK, "accounts": items})
}
