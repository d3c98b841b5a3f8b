package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/duobank/duobank/internal/audit"
	"github.com/duobank/duobank/internal/ledger"
	"github.com/duobank/duobank/internal/money"
)

func newTestService(t *testing.T) (*Service, *ledger.MemoryStore, *audit.MemorySink) {
	t.Helper()
	store := ledger.NewMemoryStore()
	store.Bootstrap()
	engine := ledger.NewEngine(store, nil, nil)
	sink := audit.NewMemorySink()
	svc := NewService(NewMemoryRepository(store), engine, sink, nil)
	return svc, store, sink
}

func TestRegisterCreatesFundedAccounts(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "  Maria@Test.com ", "Maria", "Password123!")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.ID == "" {
		t.Fatal("expected a user id")
	}
	if user.Email != "maria@test.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}

	accounts, err := store.ListAccounts(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	for _, acc := range accounts {
		var want int64
		switch acc.Currency {
		case money.USD:
			want = 100_000
		case money.EUR:
			want = 50_000
		}
		if acc.BalanceCents != want {
			t.Fatalf("%s balance = %d, want %d", acc.Currency, acc.BalanceCents, want)
		}
	}

	// Welcome grants must be entry-backed, not seeded.
	report, err := store.Reconcile(ctx, user.ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !report.OK {
		t.Fatalf("reconcile mismatch after registration: %+v", report.Items)
	}

	// Registration audit is written inside the same transaction as the
	// grants, after them.
	actions := store.AuditActions()
	if len(actions) != 3 {
		t.Fatalf("expected 3 audit entries, got %d: %v", len(actions), actions)
	}
	if actions[0] != "transaction.grant" || actions[1] != "transaction.grant" {
		t.Fatalf("expected two grant audits first, got %v", actions)
	}
	if actions[2] != "auth.register" {
		t.Fatalf("expected auth.register last, got %v", actions)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "maria@test.com", "Maria", "Password123!"); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, err := svc.Register(ctx, "MARIA@test.com", "Other", "Password123!")
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "not-an-email", "X", "Password123!"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := svc.Register(ctx, "ok@test.com", "X", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestRegisterIsAtomicWhenGrantsFail(t *testing.T) {
	// No Bootstrap: the system account is missing, so the welcome grants
	// cannot be posted and the whole registration must roll back.
	store := ledger.NewMemoryStore()
	engine := ledger.NewEngine(store, nil, nil)
	svc := NewService(NewMemoryRepository(store), engine, nil, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, "maria@test.com", "Maria", "Password123!")
	if !errors.Is(err, ledger.ErrSystemAccountMissing) {
		t.Fatalf("expected ErrSystemAccountMissing, got %v", err)
	}

	// The failed registration must leave no user row, no accounts and no
	// audit entries, and the email must remain available.
	if _, err := svc.repo.FindByEmail(ctx, "maria@test.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound after rollback, got %v", err)
	}
	if actions := store.AuditActions(); len(actions) != 0 {
		t.Fatalf("expected no audit entries, got %v", actions)
	}

	store.Bootstrap()
	user, err := svc.Register(ctx, "maria@test.com", "Maria", "Password123!")
	if err != nil {
		t.Fatalf("re-register after rollback: %v", err)
	}
	accounts, err := store.ListAccounts(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, "hassan@test.com", "Hassan", "Password123!")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	user, err := svc.Authenticate(ctx, "Hassan@Test.com", "Password123!")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.ID != created.ID {
		t.Fatalf("authenticated wrong user: %s != %s", user.ID, created.ID)
	}

	if entries := sink.Entries(); len(entries) != 1 || entries[0].Action != "auth.login" {
		t.Fatalf("expected one auth.login audit entry, got %+v", entries)
	}

	if _, err := svc.Authenticate(ctx, "hassan@test.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ghost@test.com", "Password123!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}
