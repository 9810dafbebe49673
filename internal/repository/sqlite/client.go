package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/marketmypractice/correlation-service/internal/config"
	"github.com/marketmypractice/correlation-service/internal/domain"
)

// Client wraps the SQLite connection used as the primary store.
type Client struct {
	db  *sql.DB
	log *zap.Logger
}

// NewClient opens the primary store and initializes its schema.
// The path may be ":memory:" for tests.
func NewClient(ctx context.Context, cfg config.Store, log *zap.Logger) (*Client, error) {
	log.Info("Opening primary store", zap.String("path", cfg.Path))

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// A single connection serializes writers at the pool level; uniqueness
	// constraints remain the correctness mechanism across processes.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeoutMilli),
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	client := &Client{db: db, log: log}
	if err := client.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info("Primary store ready")
	return client, nil
}

// DB returns the underlying database handle.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Ping checks if the store connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the store connection.
func (c *Client) Close() error {
	c.log.Info("Closing primary store")
	return c.db.Close()
}

// InitSchema creates all tables and indexes if they do not exist.
// Timestamps are stored as Unix nanoseconds so range scans stay ordered.
func (c *Client) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS canonical_users (
			id TEXT PRIMARY KEY,
			fingerprint_hash TEXT NOT NULL DEFAULT '',
			ip_subnet TEXT NOT NULL DEFAULT '',
			browser_family TEXT NOT NULL DEFAULT '',
			os TEXT NOT NULL DEFAULT '',
			device_class TEXT NOT NULL DEFAULT '',
			first_seen INTEGER NOT NULL,
			last_seen INTEGER NOT NULL,
			session_count INTEGER NOT NULL DEFAULT 0,
			action_count INTEGER NOT NULL DEFAULT 0,
			is_returning INTEGER NOT NULL DEFAULT 0,
			converted INTEGER NOT NULL DEFAULT 0,
			lead_id TEXT NOT NULL DEFAULT '',
			archived INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_subnet ON canonical_users(ip_subnet)`,
		// Exact-digest matches must resolve to a single canonical user, so the
		// digest key is unique among live users. Degraded users carry an empty
		// digest and archived users drop out of matching; both stay out of the
		// index so they never block a fresh insert.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_fingerprint ON canonical_users(fingerprint_hash)
			WHERE fingerprint_hash != '' AND archived = 0`,
		`CREATE TABLE IF NOT EXISTS raw_session_map (
			raw_session_id TEXT PRIMARY KEY,
			canonical_user_id TEXT NOT NULL REFERENCES canonical_users(id),
			mapped_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_map_user ON raw_session_map(canonical_user_id)`,
		`CREATE TABLE IF NOT EXISTS unified_sessions (
			canonical_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			raw_session_id TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			last_activity_at INTEGER NOT NULL,
			duration_sec INTEGER NOT NULL DEFAULT 0,
			page_views INTEGER NOT NULL DEFAULT 0,
			actions INTEGER NOT NULL DEFAULT 0,
			is_bounce INTEGER NOT NULL DEFAULT 1,
			landing_page TEXT NOT NULL DEFAULT '',
			exit_page TEXT NOT NULL DEFAULT '',
			referrer_type TEXT NOT NULL DEFAULT '',
			referrer_domain TEXT NOT NULL DEFAULT '',
			geo TEXT NOT NULL DEFAULT '',
			device_class TEXT NOT NULL DEFAULT '',
			browser_family TEXT NOT NULL DEFAULT '',
			os TEXT NOT NULL DEFAULT '',
			converted INTEGER NOT NULL DEFAULT 0,
			conversion_value REAL NOT NULL DEFAULT 0,
			campaign TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON unified_sessions(user_id, last_activity_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_raw ON unified_sessions(raw_session_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS session_events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON session_events(session_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS lead_submissions (
			lead_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL,
			submitted_at INTEGER NOT NULL,
			campaign TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_user ON lead_submissions(user_id, submitted_at)`,
		`CREATE TABLE IF NOT EXISTS ad_spend_sessions (
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			campaign TEXT NOT NULL DEFAULT '',
			cost REAL NOT NULL DEFAULT 0,
			converted INTEGER NOT NULL DEFAULT 0,
			conversion_value REAL NOT NULL DEFAULT 0,
			roi REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (session_id, platform, campaign)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_adspend_user ON ad_spend_sessions(user_id)`,
		`CREATE TABLE IF NOT EXISTS heartbeats (
			component_type TEXT NOT NULL,
			component_id TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			first_seen INTEGER NOT NULL,
			status TEXT NOT NULL,
			metrics TEXT NOT NULL DEFAULT '{}',
			is_leader INTEGER NOT NULL DEFAULT 0,
			quorum_size INTEGER NOT NULL DEFAULT 0,
			quorum_members TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (component_type, component_id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	c.log.Info("Store schema initialized")
	return nil
}

// inTx runs fn inside a transaction, rolling back on error.
func (c *Client) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr("begin", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.log.Error("Rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapStoreErr("commit", err)
	}
	return nil
}

// isConstraintErr reports whether err is a uniqueness/constraint violation.
func isConstraintErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "constraint")
}

// wrapStoreErr classifies driver failures into the retryable taxonomy.
func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		strings.Contains(err.Error(), "database is locked") {
		return &domain.StoreUnavailableError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
