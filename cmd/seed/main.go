package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/duobank/duobank/internal/config"
	"github.com/duobank/duobank/internal/identity"
	"github.com/duobank/duobank/internal/infra"
	"github.com/duobank/duobank/internal/ledger"
	"github.com/duobank/duobank/internal/logging"
	"github.com/duobank/duobank/internal/money"
)

const (
	systemReserveCents = 1_000_000_000_000
	demoPassword       = "Password123!"
)

var demoUsers = []struct {
	email string
	name  string
}{
	{"maria@test.com", "Maria"},
	{"hassan@test.com", "Hassan"},
	{"lina@test.com", "Lina"},
}

// Seeds the database: schema, the reserved system user with its FX reserves,
// and a few demo users with welcome balances.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL must be set to seed")
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := infra.Migrate(ctx, db); err != nil {
		logger.Error("migrate", "error", err)
		os.Exit(1)
	}

	if err := seedSystemUser(ctx, db); err != nil {
		logger.Error("seed system user", "error", err)
		os.Exit(1)
	}
	logger.Info("system user ready", "email", ledger.SystemEmail)

	store := ledger.NewPostgresStore(db)
	engine := ledger.NewEngine(store, nil, logger)
	repo := identity.NewPostgresRepository(db)
	idSvc := identity.NewService(repo, engine, nil, logger)

	for _, demo := range demoUsers {
		user, err := idSvc.Register(ctx, demo.email, demo.name, demoPassword)
		if errors.Is(err, identity.ErrEmailTaken) {
			logger.Info("demo user already present", "email", demo.email)
			continue
		}
		if err != nil {
			logger.Error("seed demo user", "email", demo.email, "error", err)
			os.Exit(1)
		}
		logger.Info("demo user created", "email", user.Email, "user_id", user.ID)
	}

	logger.Info("seed complete")
}

// seedSystemUser inserts the reserved user and its reserve accounts. The
// reserves are seeded directly, without backing entries; the system accounts
// are the one exception to entry-backed balances.
func seedSystemUser(ctx context.Context, db *pgxpool.Pool) error {
	var existing uuid.UUID
	err := db.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, ledger.SystemEmail).Scan(&existing)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	// Random throwaway password: the system user never logs in.
	hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	systemID := uuid.New()
	if _, err := tx.Exec(ctx, `INSERT INTO users (id, email, name, password_hash, created_at)
        VALUES ($1, $2, $3, $4, $5)`,
		systemID, ledger.SystemEmail, "SYSTEM", string(hash), time.Now().UTC()); err != nil {
		return err
	}

	for _, currency := range []money.Currency{money.USD, money.EUR} {
		if _, err := tx.Exec(ctx, `INSERT INTO accounts (id, user_id, currency, balance_cents)
            VALUES ($1, $2, $3, $4)`, uuid.New(), systemID, string(currency), int64(systemReserveCents)); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
