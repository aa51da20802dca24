// Package persistence selects and opens the configured key-value backend.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/studyhub/study-companion/internal/domain/shared"
	"github.com/studyhub/study-companion/internal/domain/study"
	"github.com/studyhub/study-companion/internal/infrastructure/persistence/memory"
	"github.com/studyhub/study-companion/internal/infrastructure/persistence/postgres"
	redisstore "github.com/studyhub/study-companion/internal/infrastructure/persistence/redis"
	"github.com/studyhub/study-companion/internal/infrastructure/persistence/sqlite"
	"github.com/studyhub/study-companion/pkg/circuitbreaker"
	"github.com/studyhub/study-companion/pkg/logger"
	"github.com/studyhub/study-companion/pkg/retry"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Backends lists every supported backend name.
func Backends() []string {
	return []string{BackendMemory, BackendSQLite, BackendRedis, BackendPostgres}
}

// ErrUnknownBackend is returned for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown store backend")

// Options selects and configures a backend.
type Options struct {
	Backend    string
	SQLitePath string
	Redis      redisstore.Config
	Postgres   postgres.Config

	// Breaker wraps the store in a circuit breaker when true.
	Breaker          bool
	BreakerThreshold int
	BreakerTimeout   time.Duration

	// Retrier dials the backend. Defaults to retry.StoreConnect with the
	// backend's error classification.
	Retrier *retry.Retrier

	Logger *logger.Logger
}

// Backend is an opened store together with its resources.
type Backend struct {
	Name  string
	Store study.Store

	closer func() error
}

// Ping checks the backend when it supports health checks.
func (b *Backend) Ping(ctx context.Context) error {
	if p, ok := b.Store.(study.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases the backend's connections.
func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

type closingStore interface {
	study.Store
	study.Pinger
	Close() error
}

// Open dials the backend named in opts, retrying transient failures.
func Open(ctx context.Context, opts Options) (*Backend, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	name := strings.ToLower(strings.TrimSpace(opts.Backend))
	if name == "" {
		name = BackendMemory
	}
	log = log.With(logger.Component("store"), logger.String("backend", name))

	retrier := opts.Retrier
	if retrier == nil {
		retrier = retry.StoreConnect(dialTransient(name), func(attempt int, err error, delay time.Duration) {
			log.Warn("store connect failed, retrying",
				logger.Int("attempt", attempt),
				logger.Err(err),
				logger.Duration("delay", delay),
			)
		})
	}

	var store closingStore
	err := retrier.Do(ctx, func(ctx context.Context) error {
		s, err := dial(ctx, name, opts)
		if err != nil {
			return err
		}
		store = s
		return nil
	})
	if err != nil {
		return nil, shared.ErrStoreOpen.Wrap(fmt.Errorf("%s: %w", name, err))
	}

	b := &Backend{Name: name, Store: store, closer: store.Close}
	if opts.Breaker {
		b.Store = Guard(store, newBreaker(name, opts, log))
	}
	log.Info("store opened", logger.Bool("breaker", opts.Breaker))
	return b, nil
}

func dial(ctx context.Context, name string, opts Options) (closingStore, error) {
	switch name {
	case BackendMemory:
		return memory.New(), nil
	case BackendSQLite:
		s, err := sqlite.Open(ctx, opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		s, err := redisstore.Open(ctx, opts.Redis)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendPostgres:
		s, err := postgres.Open(ctx, opts.Postgres)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, retry.Permanent(fmt.Errorf("%w: %q", ErrUnknownBackend, name))
	}
}

// dialTransient classifies a failed dial of the named backend. Only errors
// that can clear without operator action are retried.
func dialTransient(name string) func(error) bool {
	return func(err error) bool {
		switch {
		case errors.Is(err, context.Canceled):
			return false
		case errors.Is(err, fs.ErrPermission):
			return false
		case name == BackendPostgres:
			return postgres.Transient(err)
		case name == BackendRedis:
			return redisstore.Transient(err)
		}
		return true
	}
}

func newBreaker(name string, opts Options, log *logger.Logger) *circuitbreaker.Breaker {
	settings := circuitbreaker.ForStore(name)
	if opts.BreakerThreshold > 0 {
		settings.Threshold = opts.BreakerThreshold
	}
	if opts.BreakerTimeout > 0 {
		settings.Cooldown = opts.BreakerTimeout
	}
	settings.OnStateChange = func(breaker string, from, to circuitbreaker.State) {
		log.Warn("store circuit state changed",
			logger.String("breaker", breaker),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	}
	return circuitbreaker.New(settings)
}
