package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/study-companion/internal/domain/shared"
	"github.com/studyhub/study-companion/internal/infrastructure/persistence/postgres"
	"github.com/studyhub/study-companion/pkg/circuitbreaker"
	"github.com/studyhub/study-companion/pkg/logger"
	"github.com/studyhub/study-companion/pkg/retry"
)

func quickRetrier() *retry.Retrier {
	return &retry.Retrier{Attempts: 2, Backoff: retry.Backoff{Initial: time.Millisecond, Max: time.Millisecond}}
}

func TestOpen_Memory(t *testing.T) {
	ctx := context.Background()
	b, err := Open(ctx, Options{})
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, BackendMemory, b.Name)
	require.NoError(t, b.Store.Set(ctx, "stats_u1", "{}"))
	v, found, err := b.Store.Get(ctx, "stats_u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "{}", v)
	assert.NoError(t, b.Ping(ctx))
}

func TestOpen_SQLiteWithBreaker(t *testing.T) {
	ctx := context.Background()
	b, err := Open(ctx, Options{
		Backend:    "SQLite",
		SQLitePath: filepath.Join(t.TempDir(), "study.db"),
		Breaker:    true,
	})
	require.NoError(t, err)
	defer b.Close()

	_, ok := b.Store.(*GuardedStore)
	assert.True(t, ok)
	require.NoError(t, b.Store.Set(ctx, "streak", "1"))
	assert.NoError(t, b.Ping(ctx))
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "cassandra", Retrier: quickRetrier()})
	assert.ErrorIs(t, err, ErrUnknownBackend)
	assert.ErrorIs(t, err, shared.ErrStoreOpen)
}

type brokenStore struct{ calls int }

var errDown = errors.New("connection reset")

func (s *brokenStore) Get(context.Context, string) (string, bool, error) {
	s.calls++
	return "", false, errDown
}
func (s *brokenStore) Set(context.Context, string, string) error { s.calls++; return errDown }
func (s *brokenStore) Remove(context.Context, string) error      { s.calls++; return errDown }

func TestGuardedStore_FailsFastWhenOpen(t *testing.T) {
	ctx := context.Background()
	inner := &brokenStore{}
	g := Guard(inner, circuitbreaker.New(circuitbreaker.Settings{
		Name:      "store:test",
		Threshold: 2,
		Cooldown:  time.Hour,
	}))

	assert.ErrorIs(t, g.Set(ctx, "k", "v"), errDown)
	_, _, err := g.Get(ctx, "k")
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, circuitbreaker.StateOpen, g.State())

	err = g.Remove(ctx, "k")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 2, inner.calls)

	m := g.BreakerMetrics()
	assert.Equal(t, circuitbreaker.StateOpen, m.State)
	assert.Equal(t, int64(2), m.Failures)
	assert.Equal(t, int64(1), m.Rejected)
}

func TestNewBreaker_AppliesOverrides(t *testing.T) {
	cb := newBreaker("redis", Options{BreakerThreshold: 1, BreakerTimeout: time.Hour}, logger.Nop())
	_ = cb.Execute(context.Background(), func(context.Context) error { return errDown })

	m := cb.Metrics()
	assert.Equal(t, "store:redis", m.Name)
	assert.Equal(t, circuitbreaker.StateOpen, m.State)
}

func TestDialTransient(t *testing.T) {
	refused := errors.New("dial tcp: connection refused")
	badPassword := fmt.Errorf("postgres: ping: %w", &pgconn.PgError{Code: "28P01"})

	assert.True(t, dialTransient(BackendPostgres)(refused))
	assert.False(t, dialTransient(BackendPostgres)(badPassword))
	assert.True(t, dialTransient(BackendSQLite)(refused))
	assert.False(t, dialTransient(BackendSQLite)(fmt.Errorf("sqlite: %w", fs.ErrPermission)))
	assert.False(t, dialTransient(BackendMemory)(context.Canceled))
}

func TestOpen_StopsRetryingFinalErrors(t *testing.T) {
	var retried int
	r := quickRetrier()
	r.Attempts = 5
	r.Transient = dialTransient(BackendPostgres)
	r.OnRetry = func(int, error, time.Duration) { retried++ }

	_, err := Open(context.Background(), Options{
		Backend:  BackendPostgres,
		Postgres: postgres.Config{URL: "postgres://%zz"},
		Retrier:  r,
	})
	assert.ErrorIs(t, err, shared.ErrStoreOpen)
	assert.Zero(t, retried)
}
