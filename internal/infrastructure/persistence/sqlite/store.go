// Package sqlite implements the durable key-value store on an SQLite file.
// It is the default backend for the single-device CLI.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
	CREATE TABLE IF NOT EXISTS kv_store (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)
`

const (
	queryGet    = `SELECT value FROM kv_store WHERE key = ?`
	queryUpsert = `
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	queryDelete = `DELETE FROM kv_store WHERE key = ?`
	queryList   = `SELECT key, value, updated_at FROM kv_store WHERE key LIKE ? ESCAPE '\' ORDER BY key`
)

// Entry is one row of kv_store.
type Entry struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Store implements study.Store on SQLite.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema. ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite: failed to create data directory: %w", err)
			}
		}
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to connect to database: %w", err)
	}

	// SQLite doesn't support multiple writers; one connection also keeps
	// an in-memory database alive for the life of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: failed to create kv_store table: %w", err)
	}

	return &Store{db: db}, nil
}

// Get implements study.Store.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	if err := s.db.GetContext(ctx, &value, queryGet, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("sqlite: get %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements study.Store.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, queryUpsert, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("sqlite: set %q: %w", key, err)
	}
	return nil
}

// Remove implements study.Store.
func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, queryDelete, key); err != nil {
		return fmt.Errorf("sqlite: remove %q: %w", key, err)
	}
	return nil
}

// List returns every entry whose key starts with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]Entry, error) {
	var entries []Entry
	if err := s.db.SelectContext(ctx, &entries, queryList, escapeLike(prefix)+"%"); err != nil {
		return nil, fmt.Errorf("sqlite: list %q: %w", prefix, err)
	}
	return entries, nil
}

// Ping implements study.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
