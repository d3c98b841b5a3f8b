package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUserNotFound occurs when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailTaken occurs when the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
)

// Repository reads persisted users. Creation goes through the ledger engine,
// which provisions the user, its accounts and the welcome grants in one
// transaction.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindByEmail fetches a user by its unique lowercase email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.findOne(ctx, `SELECT id, email, name, password_hash, created_at FROM users WHERE email = $1`, email)
}

// FindByID fetches a user by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	return r.findOne(ctx, `SELECT id, email, name, password_hash, created_at FROM users WHERE id = $1`, userID)
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, arg any) (User, error) {
	var (
		id        uuid.UUID
		user      User
		hash      string
		createdAt time.Time
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(&id, &user.Email, &user.Name, &hash, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	user.ID = id.String()
	user.PasswordHash = []byte(hash)
	user.CreatedAt = createdAt.UTC()
	return user, nil
}
