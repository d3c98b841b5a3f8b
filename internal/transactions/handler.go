package transactions

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/duobank/duobank/internal/ledger"
	"github.com/duobank/duobank/internal/money"
)

// maxListLimit caps the page size of transaction listings.
const maxListLimit = 100

// Handler exposes the transfer, exchange, listing, and detail endpoints.
type Handler struct {
	engine *ledger.Engine
	store  ledger.Store
}

// NewHandler builds the transactions HTTP handler.
func NewHandler(engine *ledger.Engine, store ledger.Store) *Handler {
	return &Handler{engine: engine, store: store}
}

type transferRequest struct {
	ToEmail  string `json:"to_email"`
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// Transfer moves funds to another user within one currency.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	userID, _ := c.Locals("user_id").(string)

	currency, err := money.ParseCurrency(req.Currency)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	outcome, err := h.engine.Transfer(c.UserContext(), userID, req.ToEmail, currency, req.Amount)
	if err != nil {
		return mapLedgerError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transaction_id": outcome.TransactionID,
		"status":         "completed",
	})
}

type exchangeRequest struct {
	FromCurrency string `json:"from_currency"`
	Amount       string `json:"amount"`
}

// Exchange converts funds between the user's own USD and EUR accounts.
func (h *Handler) Exchange(c *fiber.Ctx) error {
	var req exchangeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	userID, _ := c.Locals("user_id").(string)

	fromCurrency, err := money.ParseCurrency(req.FromCurrency)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	outcome, err := h.engine.Exchange(c.UserContext(), userID, fromCurrency, req.Amount)
	if err != nil {
		return mapLedgerError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transaction_id":   outcome.TransactionID,
		"rate":             outcome.Rate,
		"dst_amount_cents": outcome.DstAmountCents,
		"status":           "completed",
	})
}

// List pages through the user's transactions, newest first.
func (h *Handler) List(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	filter := ledger.ListFilter{
		Type:  c.Query("type"),
		Page:  queryInt(c, "page", 1),
		Limit: queryInt(c, "limit", 20),
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Type != "" && filter.Type != ledger.TypeTransfer && filter.Type != ledger.TypeExchange {
		return fiber.NewError(http.StatusBadRequest, "unknown transaction type")
	}

	page, err := h.store.ListTransactions(c.UserContext(), userID, filter)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	items := make([]fiber.Map, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, summaryJSON(item))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"page":  page.Page,
		"limit": page.Limit,
		"items": items,
	})
}

// Detail returns one transaction with its ledger entries. Only participants
// can see it.
func (h *Handler) Detail(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	detail, err := h.store.TransactionDetail(c.UserContext(), userID, c.Params("transactionId"))
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	entries := make([]fiber.Map, 0, len(detail.Entries))
	for _, entry := range detail.Entries {
		entries = append(entries, fiber.Map{
			"id":           entry.ID,
			"account_id":   entry.AccountID,
			"currency":     string(entry.Currency),
			"amount_cents": entry.AmountCents,
			"created_at":   entry.CreatedAt,
		})
	}

	out := fiber.Map{
		"id":         detail.ID,
		"type":       detail.Type,
		"created_at": detail.CreatedAt,
		"entries":    entries,
	}
	switch detail.Type {
	case ledger.TypeTransfer:
		out["currency"] = string(detail.Currency)
		out["amount_cents"] = detail.AmountCents
		out["amount"] = money.FormatAmount(detail.AmountCents, detail.Currency)
	case ledger.TypeExchange:
		out["src_currency"] = string(detail.SrcCurrency)
		out["dst_currency"] = string(detail.DstCurrency)
		out["src_amount_cents"] = detail.SrcAmountCents
		out["dst_amount_cents"] = detail.DstAmountCents
		out["rate"] = rateString(detail.SrcCurrency, detail.DstCurrency, detail.RateNumerator, detail.RateDenominator)
	}
	return c.Status(http.StatusOK).JSON(out)
}

func summaryJSON(item ledger.TransactionSummary) fiber.Map {
	out := fiber.Map{
		"id":         item.ID,
		"type":       item.Type,
		"created_at": item.CreatedAt,
	}
	switch item.Type {
	case ledger.TypeTransfer:
		out["direction"] = item.Direction
		out["currency"] = string(item.Currency)
		out["amount_cents"] = item.AmountCents
		out["amount"] = money.FormatAmount(item.AmountCents, item.Currency)
		out["counterparty"] = item.CounterpartyEmail
	case ledger.TypeExchange:
		out["src_currency"] = string(item.SrcCurrency)
		out["dst_currency"] = string(item.DstCurrency)
		out["src_amount_cents"] = item.SrcAmountCents
		out["dst_amount_cents"] = item.DstAmountCents
		out["rate"] = rateString(item.SrcCurrency, item.DstCurrency, item.RateNumerator, item.RateDenominator)
	}
	return out
}

func rateString(src, dst money.Currency, num, den int64) string {
	return string(src) + "->" + string(dst) + " " + strconv.FormatInt(num, 10) + "/" + strconv.FormatInt(den, 10)
}

func queryInt(c *fiber.Ctx, key string, fallback int) int {
	value, err := strconv.Atoi(c.Query(key))
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

// mapLedgerError translates engine errors into HTTP statuses. Validation and
// balance problems are the caller's fault; a broken invariant is ours.
func mapLedgerError(err error) error {
	switch {
	case errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrUnsupportedCurrency),
		errors.Is(err, ledger.ErrAmountNotPositive),
		errors.Is(err, ledger.ErrSelfTransfer),
		errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrRecipientNotFound),
		errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
