// Package store provides the embedded SQLite database for waymark.
//
// The database runs fully locally using go-sqlite3 with WAL mode so reads
// stay concurrent with writes. It holds two record sets: locations (saved
// places) and entries (the location-relevant slice of journal items).
// Every mutation lands here first; dirty rows (synced=0) are pushed to the
// remote service later by the push worker.
//
// The store is the serialization point for the engine: multi-row mutations
// that must be consistent (merge, promote, propagate) run inside a single
// transaction via WithTx.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection with schema and transaction helpers.
type Store struct {
	conn *sql.DB
	path string
}

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Repository and engine queries take a DBTX so the same statement can run
// standalone or inside a caller's transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created; call InitSchema before use.
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One logical writer per device; a small pool covers WAL readers
	// running alongside a sweep.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)

	s := &Store{conn: conn, path: path}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%s failed: %w", pragma, err)
		}
	}

	return s, nil
}

// DB returns the underlying sql.DB connection for standalone statements.
func (s *Store) DB() *sql.DB {
	return s.conn
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the locations and entries tables if they don't exist.
// Idempotent - safe to call multiple times.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS locations (
		location_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		source TEXT NOT NULL DEFAULT 'manual',
		address TEXT,
		neighborhood TEXT,
		postal_code TEXT,
		city TEXT,
		subdivision TEXT,
		region TEXT,
		country TEXT,
		mapbox_place_id TEXT,
		foursquare_fsq_id TEXT,
		merge_ignore_ids TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT,

		-- Sync bookkeeping: 0 = dirty/pending push, 1 = acknowledged
		synced INTEGER NOT NULL DEFAULT 0,
		sync_action TEXT
	);

	CREATE TABLE IF NOT EXISTS entries (
		entry_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		entry_latitude REAL,
		entry_longitude REAL,
		place_name TEXT,
		address TEXT,
		neighborhood TEXT,
		postal_code TEXT,
		city TEXT,
		subdivision TEXT,
		region TEXT,
		country TEXT,
		location_id TEXT REFERENCES locations(location_id),
		geocode_status TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT,
		synced INTEGER NOT NULL DEFAULT 0,
		sync_action TEXT
	);

	-- Indexes for duplicate scans and propagation
	CREATE INDEX IF NOT EXISTS idx_locations_user ON locations(user_id, deleted_at);
	CREATE INDEX IF NOT EXISTS idx_locations_dirty ON locations(synced);
	CREATE INDEX IF NOT EXISTS idx_entries_location ON entries(location_id);
	CREATE INDEX IF NOT EXISTS idx_entries_user ON entries(user_id, deleted_at);
	CREATE INDEX IF NOT EXISTS idx_entries_geocode ON entries(geocode_status);
	CREATE INDEX IF NOT EXISTS idx_entries_dirty ON entries(synced);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// WithTx runs fn inside a transaction. The transaction is rolled back if fn
// returns an error or panics, and committed otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DirtyCounts reports rows pending push for a user, for status display.
func (s *Store) DirtyCounts(ctx context.Context, userID string) (locations, entries int, err error) {
	err = s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM locations WHERE user_id = ? AND synced = 0`, userID).Scan(&locations)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count dirty locations: %w", err)
	}
	err = s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE user_id = ? AND synced = 0`, userID).Scan(&entries)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count dirty entries: %w", err)
	}
	return locations, entries, nil
}
