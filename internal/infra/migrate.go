package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations run in order. Each one applies inside its own transaction and
// is recorded in schema_migrations.
var migrations = []struct {
	version int
	sql     string
}{
	{1, `
        CREATE TABLE users (
            id UUID PRIMARY KEY,
            email TEXT NOT NULL UNIQUE,
            name TEXT NOT NULL,
            password_hash TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`},
	{2, `
        CREATE TABLE accounts (
            id UUID PRIMARY KEY,
            user_id UUID NOT NULL REFERENCES users(id),
            currency TEXT NOT NULL CHECK (currency IN ('USD', 'EUR')),
            balance_cents BIGINT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            UNIQUE (user_id, currency)
        )`},
	{3, `
        CREATE TABLE transactions (
            id UUID PRIMARY KEY,
            type TEXT NOT NULL CHECK (type IN ('transfer', 'exchange')),
            from_user_id UUID NOT NULL REFERENCES users(id),
            to_user_id UUID NOT NULL REFERENCES users(id),
            from_account_id UUID NOT NULL REFERENCES accounts(id),
            to_account_id UUID NOT NULL REFERENCES accounts(id),
            currency TEXT,
            amount_cents BIGINT,
            src_currency TEXT,
            dst_currency TEXT,
            src_amount_cents BIGINT,
            dst_amount_cents BIGINT,
            rate_numerator BIGINT,
            rate_denominator BIGINT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`},
	{4, `
        CREATE TABLE ledger_entries (
            id UUID PRIMARY KEY,
            transaction_id UUID NOT NULL REFERENCES transactions(id),
            account_id UUID NOT NULL REFERENCES accounts(id),
            currency TEXT NOT NULL,
            amount_cents BIGINT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`},
	{5, `
        CREATE TABLE audit_logs (
            id BIGSERIAL PRIMARY KEY,
            user_id UUID,
            action TEXT NOT NULL,
            entity_type TEXT,
            entity_id UUID,
            ip TEXT,
            user_agent TEXT,
            metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`},
	{6, `
        CREATE INDEX idx_transactions_from_user ON transactions (from_user_id, created_at DESC);
        CREATE INDEX idx_transactions_to_user ON transactions (to_user_id, created_at DESC);
        CREATE INDEX idx_ledger_entries_account ON ledger_entries (account_id);
        CREATE INDEX idx_ledger_entries_transaction ON ledger_entries (transaction_id);
        CREATE INDEX idx_audit_logs_user ON audit_logs (user_id, created_at DESC)`},
}

// Migrate applies any pending schema migrations.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS schema_migrations (
            version INT PRIMARY KEY,
            applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		applied, err := isApplied(ctx, db, m.version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		tx, err := db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

func isApplied(ctx context.Context, db *pgxpool.Pool, version int) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %d: %w", version, err)
	}
	return exists, nil
}
