package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	queryGet    = `SELECT value FROM kv_store WHERE key = $1`
	queryUpsert = `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	queryDelete = `DELETE FROM kv_store WHERE key = $1`
)

// Store implements study.Store on the kv_store table.
type Store struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// Open connects, applies migrations and returns a ready store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	pool, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Get implements study.Store.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if s.closed.Load() {
		return "", false, ErrClosed
	}
	var value string
	if err := s.pool.QueryRow(ctx, queryGet, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("postgres: get %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements study.Store.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if _, err := s.pool.Exec(ctx, queryUpsert, key, value); err != nil {
		return fmt.Errorf("postgres: set %q: %w", key, err)
	}
	return nil
}

// Remove implements study.Store.
func (s *Store) Remove(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if _, err := s.pool.Exec(ctx, queryDelete, key); err != nil {
		return fmt.Errorf("postgres: remove %q: %w", key, err)
	}
	return nil
}

// Ping implements study.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.pool.Ping(ctx)
}

// Close closes the pool. Later calls fail with ErrClosed.
func (s *Store) Close() error {
	if !s.closed.Swap(true) {
		s.pool.Close()
	}
	return nil
}
