package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLite is a Client backed by a single table in a local SQLite file.
// It suits single-host deployments where running memcached is not wanted.
type SQLite struct {
	conn    *sql.DB
	path    string
	timeout time.Duration
}

// OpenSQLite opens (creating if needed) the cache database at path.
//
// The database is opened in WAL mode so external readers can query entries
// while the daemon writes.
func OpenSQLite(ctx context.Context, path string, opts Options) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite cache path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: path, Err: fmt.Errorf("failed to create database directory: %w", err)}
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: path, Err: err}
	}

	// One writer at a time; the sync loop is sequential anyway.
	conn.SetMaxOpenConns(1)

	s := &SQLite{conn: conn, path: path, timeout: opts.timeout()}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, &ConnectionError{Op: "dial", Addr: path, Err: err}
	}

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		sqliteSchema,
	} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			_ = conn.Close()
			return nil, &ConnectionError{Op: "init", Addr: path, Err: err}
		}
	}

	return s, nil
}

// Get implements Client.Get.
func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	if s.conn == nil {
		return "", false, &ConnectionError{Op: "get", Addr: s.path, Err: errClosed}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var value string
	err := s.conn.QueryRowContext(ctx, "SELECT value FROM entries WHERE key = ?", key).Scan(&value)
	switch {
	case err == nil:
		return value, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	default:
		return "", false, &ConnectionError{Op: "get", Addr: s.path, Err: err}
	}
}

// Set implements Client.Set.
func (s *SQLite) Set(ctx context.Context, key, value string) error {
	if s.conn == nil {
		return &ConnectionError{Op: "set", Addr: s.path, Err: errClosed}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO entries (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return &ConnectionError{Op: "set", Addr: s.path, Err: err}
	}
	return nil
}

// Len returns the number of stored entries.
func (s *SQLite) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLite) Close() error {
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
