package handlers

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/studyhub/study-companion/pkg/circuitbreaker"
)

// DefaultCheckTimeout bounds each check when the registry is given none.
const DefaultCheckTimeout = 5 * time.Second

// CheckFunc inspects one dependency. Details, when not nil, are shown in the
// report next to the outcome.
type CheckFunc func(ctx context.Context) (details any, err error)

// HealthChecker produces the body of GET /health.
type HealthChecker interface {
	Check(ctx context.Context) Report
}

// Report is the health of the companion and each of its dependencies.
type Report struct {
	Healthy   bool              `json:"healthy"`
	Version   string            `json:"version,omitempty"`
	Uptime    string            `json:"uptime"`
	CheckedAt time.Time         `json:"checkedAt"`
	Failing   []string          `json:"failing,omitempty"`
	Checks    map[string]Result `json:"checks,omitempty"`
}

// Result is the outcome of one check.
type Result struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
	Took    string `json:"took"`
	Details any    `json:"details,omitempty"`
}

// Registry runs its checks concurrently, each under its own timeout.
type Registry struct {
	version string
	timeout time.Duration
	started time.Time

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewRegistry creates an empty registry. A non-positive timeout means
// DefaultCheckTimeout.
func NewRegistry(version string, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Registry{
		version: version,
		timeout: timeout,
		started: time.Now(),
		checks:  make(map[string]CheckFunc),
	}
}

// Register adds or replaces the check called name.
func (r *Registry) Register(name string, fn CheckFunc) {
	r.mu.Lock()
	r.checks[name] = fn
	r.mu.Unlock()
}

// Check implements HealthChecker. The companion is healthy when every check
// passes; an empty registry is healthy.
func (r *Registry) Check(ctx context.Context) Report {
	r.mu.RLock()
	checks := make(map[string]CheckFunc, len(r.checks))
	for name, fn := range r.checks {
		checks[name] = fn
	}
	r.mu.RUnlock()

	report := Report{
		Healthy:   true,
		Version:   r.version,
		Uptime:    time.Since(r.started).Round(time.Second).String(),
		CheckedAt: time.Now().UTC(),
		Checks:    make(map[string]Result, len(checks)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, fn := range checks {
		name, fn := name, fn
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := r.run(ctx, fn)
			mu.Lock()
			report.Checks[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	for name, res := range report.Checks {
		if !res.Healthy {
			report.Healthy = false
			report.Failing = append(report.Failing, name)
		}
	}
	sort.Strings(report.Failing)
	return report
}

func (r *Registry) run(ctx context.Context, fn CheckFunc) Result {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	details, err := fn(ctx)
	res := Result{
		Healthy: err == nil,
		Took:    time.Since(start).Round(time.Millisecond).String(),
		Details: details,
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// Pinger is a dependency that can report connectivity, such as a store
// backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreCheck pings the store backend.
func StoreCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) (any, error) {
		return nil, p.Ping(ctx)
	}
}

// ErrBreakerOpen is reported while a store's circuit breaker rejects calls.
var ErrBreakerOpen = errors.New("store circuit breaker is open")

// BreakerCheck reports a breaker's counters and fails while it is open.
func BreakerCheck(metrics func() circuitbreaker.Metrics) CheckFunc {
	return func(context.Context) (any, error) {
		m := metrics()
		if m.State == circuitbreaker.StateOpen {
			return m, ErrBreakerOpen
		}
		return m, nil
	}
}

// SessionStats is the details of SessionsCheck.
type SessionStats struct {
	Active int `json:"active"`
}

// SessionsCheck reports how many study sessions are running. It never fails.
func SessionsCheck(active func() int) CheckFunc {
	return func(context.Context) (any, error) {
		return SessionStats{Active: active()}, nil
	}
}
