package audit

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
)

// Entry is one audit record. Metadata is stored as JSON.
type Entry struct {
	UserID     string
	Action     string
	EntityType string
	EntityID   string
	IP         string
	UserAgent  string
	Metadata   map[string]any
}

// Sink persists audit entries. Ledger mutations write their entry inside the
// same transaction as the balance change, so a failed audit write aborts the
// whole operation.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
}

// Querier matches both pgxpool.Pool and pgx.Tx so the same insert can run
// standalone or inside an open transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertSQL = `INSERT INTO audit_logs (user_id, action, entity_type, entity_id, ip, user_agent, metadata)
        VALUES (NULLIF($1, '')::uuid, $2, NULLIF($3, ''), NULLIF($4, '')::uuid, NULLIF($5, ''), NULLIF($6, ''), $7::jsonb)`

// WriteWith inserts an audit entry using the provided querier, typically an
// open pgx transaction.
func WriteWith(ctx context.Context, q Querier, entry Entry) error {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, insertSQL,
		entry.UserID, entry.Action, entry.EntityType, entry.EntityID, entry.IP, entry.UserAgent, payload)
	return err
}

// PostgresSink writes audit entries straight to the pool, outside any
// caller-managed transaction. Used for events like logins.
type PostgresSink struct {
	db Querier
}

// NewPostgresSink builds a Postgres-backed audit sink.
func NewPostgresSink(db Querier) *PostgresSink {
	return &PostgresSink{db: db}
}

// Write persists one audit entry.
func (s *PostgresSink) Write(ctx context.Context, entry Entry) error {
	return WriteWith(ctx, s.db, entry)
}

// MemorySink collects audit entries in memory for tests and dev mode.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemorySink constructs an in-memory audit sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write appends the entry.
func (s *MemorySink) Write(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of everything written so far.
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
