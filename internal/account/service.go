package account

import (
	"context"

	"github.com/duobank/duobank/internal/ledger"
	"github.com/duobank/duobank/internal/money"
)

// Service answers account reads: listing, single-account balance, and the
// balance-vs-entries reconciliation report.
type Service struct {
	store ledger.Store
}

func NewService(store ledger.Store) *Service {
	return &Service{store: store}
}

// View is an account as rendered to its owner.
type View struct {
	ID           string
	Currency     money.Currency
	BalanceCents int64
	Balance      string
}

// List returns the user's accounts, one per currency.
func (s *Service) List(ctx context.Context, userID string) ([]View, error) {
	rows, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(rows))
	for _, row := range rows {
		views = append(views, toView(row))
	}
	return views, nil
}

// Balance returns a single account. Accounts owned by other users are
// reported as missing rather than forbidden.
func (s *Service) Balance(ctx context.Context, userID, accountID string) (View, error) {
	row, ok, err := s.store.Account(ctx, accountID)
	if err != nil {
		return View{}, err
	}
	if !ok || row.UserID != userID {
		return View{}, ledger.ErrAccountNotFound
	}
	return toView(row), nil
}

// Reconcile recomputes every balance of the user from its ledger entries and
// reports any drift.
func (s *Service) Reconcile(ctx context.Context, userID string) (ledger.ReconcileReport, error) {
	return s.store.Reconcile(ctx, userID)
}

func toView(row ledger.AccountRow) View {
	return View{
		ID:           row.ID,
		Currency:     row.Currency,
		BalanceCents: row.BalanceCents,
		Balance:      money.FormatAmount(row.BalanceCents, row.Currency),
	}
}
