package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/duobank/duobank/internal/money"
)

// Seed helpers for the in-memory store. Used by tests and by the
// credential-free development wiring; the Postgres deployment seeds through
// cmd/seed instead.

// AddUser registers a user record and returns its id.
func (s *MemoryStore) AddUser(email, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.users[id] = memUser{ID: id, Email: email, Name: name, CreatedAt: time.Now().UTC()}
	s.usersByEmail[email] = id
	return id
}

// AddAccount creates an account with the given starting balance. The balance
// is set directly, without backing ledger entries, the way system accounts
// are seeded.
func (s *MemoryStore) AddAccount(userID string, currency money.Currency, balanceCents int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.accounts[id] = &AccountRow{ID: id, UserID: userID, Currency: currency, BalanceCents: balanceCents}
	s.byOwner[ownerKey{userID: userID, currency: currency}] = id
	return id
}

// Bootstrap seeds the reserved system user and its FX accounts.
func (s *MemoryStore) Bootstrap() {
	systemID := s.AddUser(SystemEmail, "SYSTEM")
	s.mu.Lock()
	s.systemUserID = systemID
	s.mu.Unlock()
	s.AddAccount(systemID, money.USD, 1_000_000_000_000)
	s.AddAccount(systemID, money.EUR, 1_000_000_000_000)
}

// AuditActions returns the actions of the audit entries written through units
// of work, in write order.
func (s *MemoryStore) AuditActions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	actions := make([]string, 0, len(s.audits))
	for _, entry := range s.audits {
		actions = append(actions, entry.Action)
	}
	return actions
}
