// Package sqlite implements the persistence ports on an embedded SQLite
// database (modernc.org/sqlite, pure Go, no cgo). All credit movements
// run inside transactions; the schema enforces non-negative balances and
// the one-refund-per-story rule so races cannot corrupt the ledger.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Store wraps the database handle and implements the persistence ports.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (or creates) the database at path, applies pragmas and runs
// migrations. Use ":memory:" for tests.
func Open(path string, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent debits.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		credits_balance INTEGER NOT NULL DEFAULT 0 CHECK (credits_balance >= 0),
		total_credits_purchased INTEGER NOT NULL DEFAULT 0,
		total_credits_spent INTEGER NOT NULL DEFAULT 0,
		stripe_customer_id TEXT NOT NULL DEFAULT '',
		subscription_status TEXT NOT NULL DEFAULT 'free',
		subscription_end TIMESTAMP,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		last_login_at TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		kind TEXT NOT NULL CHECK (kind IN ('purchase','spend','refund')),
		delta INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('pending','completed','failed','refunded')),
		story_id TEXT NOT NULL DEFAULT '',
		external_id TEXT,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_ledger_account_created
		ON ledger_entries(account_id, created_at DESC)`,

	// Duplicate webhook deliveries hit this and are absorbed.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_external_id
		ON ledger_entries(external_id) WHERE external_id IS NOT NULL`,

	// At most one refund per story, enforced at the storage layer.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_refund_once
		ON ledger_entries(story_id, kind) WHERE kind = 'refund'`,

	`CREATE TABLE IF NOT EXISTS stories (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		story_type TEXT NOT NULL CHECK (story_type IN ('fiction','biography')),
		title TEXT NOT NULL DEFAULT '',
		length_type TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '',
		generation_status TEXT NOT NULL DEFAULT 'pending',
		word_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_stories_account
		ON stories(account_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS story_extras (
		id TEXT PRIMARY KEY,
		story_id TEXT NOT NULL REFERENCES stories(id),
		extra_type TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		token_hash TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		expires_at TIMESTAMP NOT NULL,
		revoked INTEGER NOT NULL DEFAULT 0
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
