package transactions

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/duobank/duobank/internal/ledger"
	"github.com/duobank/duobank/internal/money"
)

func newListApp(t *testing.T) (*fiber.App, string) {
	t.Helper()
	store := ledger.NewMemoryStore()
	store.Bootstrap()
	engine := ledger.NewEngine(store, nil, nil)

	userID := store.AddUser("maria@test.com", "Maria")
	store.AddAccount(userID, money.USD, 100_000)
	peerID := store.AddUser("hassan@test.com", "Hassan")
	store.AddAccount(peerID, money.USD, 0)

	if _, err := engine.Transfer(context.Background(), userID, "hassan@test.com", money.USD, "1.00"); err != nil {
		t.Fatalf("seed transfer: %v", err)
	}

	h := NewHandler(engine, store)
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		return c.Next()
	})
	app.Get("/transactions", h.List)
	return app, userID
}

func TestListClampsLimit(t *testing.T) {
	app, _ := newListApp(t)

	req := httptest.NewRequest(fiber.MethodGet, "/transactions?limit=1000000", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Page  int `json:"page"`
		Limit int `json:"limit"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Limit != maxListLimit {
		t.Fatalf("limit = %d, want %d", body.Limit, maxListLimit)
	}
}

func TestListRejectsUnknownType(t *testing.T) {
	app, _ := newListApp(t)

	req := httptest.NewRequest(fiber.MethodGet, "/transactions?type=refund", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
