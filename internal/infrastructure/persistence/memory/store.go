// Package memory implements study.Store in process memory. It backs tests
// and local development; nothing survives a restart.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrKeyEmpty is returned when an empty key is provided.
var ErrKeyEmpty = errors.New("memory store: key cannot be empty")

// Store is a map guarded by a RWMutex.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

// Get implements study.Store.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if key == "" {
		return "", false, ErrKeyEmpty
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

// Set implements study.Store.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return ErrKeyEmpty
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// Remove implements study.Store.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Ping implements study.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Keys returns the stored keys with the given prefix, sorted.
func (s *Store) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
