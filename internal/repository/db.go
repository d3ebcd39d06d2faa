package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/inamkkkk/funding-inam/internal/domain"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx. Repos
// are constructed over the DB and rebound to a transaction with WithTx so the
// pledge transition and the campaign adjustment can share one transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	// Writers on disjoint campaigns contend for the single sqlite write
	// lock; wait instead of failing.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS campaigns (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			category TEXT NOT NULL,
			creator_id TEXT NOT NULL,
			goal_amount TEXT NOT NULL,
			raised_amount TEXT NOT NULL,
			deadline DATETIME NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_deadline ON campaigns(deadline)`,

		`CREATE TABLE IF NOT EXISTS pledges (
			id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			provider TEXT NOT NULL,
			provider_reference TEXT,
			reward_tier TEXT,
			anonymous INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (campaign_id) REFERENCES campaigns(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pledges_campaign ON pledges(campaign_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pledges_status ON pledges(status)`,
		`CREATE INDEX IF NOT EXISTS idx_pledges_provider_ref ON pledges(provider, provider_reference)`,

		`CREATE TABLE IF NOT EXISTS settlement_events (
			provider_event_id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			pledge_id TEXT NOT NULL,
			campaign_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			settled_amount TEXT NOT NULL,
			pledge_status TEXT NOT NULL,
			raised_after TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_events_pledge ON settlement_events(pledge_id)`,

		`CREATE TABLE IF NOT EXISTS audit_entries (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			pledge_id TEXT,
			campaign_id TEXT,
			provider TEXT,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			recorded_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_kind ON audit_entries(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_severity ON audit_entries(severity)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_campaign ON audit_entries(campaign_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:60], err)
		}
	}

	return nil
}

// InTx runs fn inside a transaction, committing on nil and rolling back on
// error. The caller is responsible for bounding ctx.
func InTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin tx", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrap("commit", err)
	}
	return nil
}

// wrap annotates a storage error, folding context timeouts and cancellation
// into the transient class so callers can retry.
func wrap(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, domain.ErrTransient)
	}
	return fmt.Errorf("%s: %w", op, err)
}
