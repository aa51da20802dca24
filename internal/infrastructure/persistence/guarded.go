package persistence

import (
	"context"
	"errors"

	"github.com/studyhub/study-companion/internal/domain/shared"
	"github.com/studyhub/study-companion/internal/domain/study"
	"github.com/studyhub/study-companion/pkg/circuitbreaker"
)

// ErrBackendUnavailable is returned while the store's circuit is open.
var ErrBackendUnavailable = shared.NewDomainError("storage", "guard", shared.ErrServiceUnavailable, "store backend unavailable")

// GuardedStore routes every call through a circuit breaker so a dead backend
// fails fast instead of stalling tracker writes.
type GuardedStore struct {
	inner study.Store
	cb    *circuitbreaker.Breaker
}

// Guard wraps store with cb.
func Guard(store study.Store, cb *circuitbreaker.Breaker) *GuardedStore {
	return &GuardedStore{inner: store, cb: cb}
}

type lookup struct {
	value string
	found bool
}

// Get implements study.Store.
func (g *GuardedStore) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := circuitbreaker.Call(ctx, g.cb, func(ctx context.Context) (lookup, error) {
		v, found, err := g.inner.Get(ctx, key)
		return lookup{value: v, found: found}, err
	})
	if err != nil {
		return "", false, g.mapErr(err)
	}
	return res.value, res.found, nil
}

// Set implements study.Store.
func (g *GuardedStore) Set(ctx context.Context, key, value string) error {
	return g.mapErr(g.cb.Execute(ctx, func(ctx context.Context) error {
		return g.inner.Set(ctx, key, value)
	}))
}

// Remove implements study.Store.
func (g *GuardedStore) Remove(ctx context.Context, key string) error {
	return g.mapErr(g.cb.Execute(ctx, func(ctx context.Context) error {
		return g.inner.Remove(ctx, key)
	}))
}

// Ping bypasses the breaker so health checks see the backend itself.
func (g *GuardedStore) Ping(ctx context.Context) error {
	if p, ok := g.inner.(study.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// State returns the breaker state.
func (g *GuardedStore) State() circuitbreaker.State {
	return g.cb.State()
}

// BreakerMetrics returns the breaker's counters for the health report.
func (g *GuardedStore) BreakerMetrics() circuitbreaker.Metrics {
	return g.cb.Metrics()
}

func (g *GuardedStore) mapErr(err error) error {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return ErrBackendUnavailable.Wrap(err)
	}
	return err
}
