package account

import (
	"context"
	"errors"
	"testing"

	"github.com/duobank/duobank/internal/ledger"
	"github.com/duobank/duobank/internal/money"
)

func TestListAndBalance(t *testing.T) {
	store := ledger.NewMemoryStore()
	userID := store.AddUser("maria@test.com", "Maria")
	usdID := store.AddAccount(userID, money.USD, 123_45)
	store.AddAccount(userID, money.EUR, 0)

	otherID := store.AddUser("hassan@test.com", "Hassan")
	otherUSD := store.AddAccount(otherID, money.USD, 999)

	svc := NewService(store)
	ctx := context.Background()

	views, err := svc.List(ctx, userID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(views))
	}

	view, err := svc.Balance(ctx, userID, usdID)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if view.BalanceCents != 123_45 {
		t.Fatalf("balance = %d, want 12345", view.BalanceCents)
	}
	if view.Balance != "USD 123.45" {
		t.Fatalf("formatted balance = %q", view.Balance)
	}

	// Foreign accounts look like missing accounts.
	if _, err := svc.Balance(ctx, userID, otherUSD); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := svc.Balance(ctx, userID, "no-such-id"); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestReconcileFlagsDrift(t *testing.T) {
	store := ledger.NewMemoryStore()
	userID := store.AddUser("lina@test.com", "Lina")
	// Seeded directly, without entries: reconcile must flag it.
	store.AddAccount(userID, money.USD, 500)
	store.AddAccount(userID, money.EUR, 0)

	svc := NewService(store)
	report, err := svc.Reconcile(context.Background(), userID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.OK {
		t.Fatal("expected reconcile mismatch for seeded balance")
	}
	var flagged int
	for _, item := range report.Items {
		if !item.OK {
			flagged++
			if item.DiffCents != 500 {
				t.Fatalf("diff = %d, want 500", item.DiffCents)
			}
		}
	}
	if flagged != 1 {
		t.Fatalf("expected exactly 1 flagged account, got %d", flagged)
	}
}
