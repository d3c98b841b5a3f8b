package identity

import (
	"context"

	"github.com/duobank/duobank/internal/ledger"
)

type memoryRepository struct {
	store *ledger.MemoryStore
}

// NewMemoryRepository constructs a repository for tests and credential-free
// development, reading users straight from the in-memory ledger store so the
// engine and the identity lookups share one source of truth.
func NewMemoryRepository(store *ledger.MemoryStore) Repository {
	return &memoryRepository{store: store}
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (User, error) {
	rec, ok := r.store.FindUserByEmail(email)
	if !ok {
		return User{}, ErrUserNotFound
	}
	return fromRecord(rec), nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
	rec, ok := r.store.FindUserByID(id)
	if !ok {
		return User{}, ErrUserNotFound
	}
	return fromRecord(rec), nil
}

func fromRecord(rec ledger.UserRecord) User {
	return User{
		ID:           rec.ID,
		Email:        rec.Email,
		Name:         rec.Name,
		PasswordHash: rec.PasswordHash,
		CreatedAt:    rec.CreatedAt,
	}
}
