// Package circuitbreaker stops calling a store backend after a run of
// failures and lets a single trial call through once a cool-down has passed.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the position of a breaker.
type State int

const (
	// StateClosed passes every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down ends.
	StateOpen
	// StateHalfOpen lets one trial call through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in health reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrOpen is returned instead of calling the backend while the breaker is
// open, or while the half-open trial call is still running.
var ErrOpen = errors.New("circuit breaker is open")

// Settings tune a Breaker.
type Settings struct {
	Name string

	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int

	// Cooldown is how long the breaker stays open before the trial call.
	Cooldown time.Duration

	// IsFailure decides whether an error counts against the backend. Nil
	// counts every error.
	IsFailure func(error) bool

	// OnStateChange is called with the breaker lock held; it must not call
	// back into the breaker.
	OnStateChange func(name string, from, to State)

	// Now defaults to time.Now.
	Now func() time.Time
}

// ForStore returns the settings used for a store backend. A caller that
// cancels its own context is not counted as a backend failure.
func ForStore(backend string) Settings {
	return Settings{
		Name:      "store:" + backend,
		Threshold: 5,
		Cooldown:  15 * time.Second,
		IsFailure: func(err error) bool { return !errors.Is(err, context.Canceled) },
	}
}

// Metrics is a point-in-time view of a breaker.
type Metrics struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	Requests            int64     `json:"requests"`
	Failures            int64     `json:"failures"`
	Rejected            int64     `json:"rejected"`
	Trips               int64     `json:"trips"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	OpenedAt            time.Time `json:"openedAt,omitzero"`
}

// Breaker guards calls to one backend.
type Breaker struct {
	settings Settings

	mu       sync.Mutex
	state    State
	streak   int
	openedAt time.Time
	trial    bool
	stats    Metrics
}

// New creates a closed breaker. Non-positive Threshold and Cooldown fall
// back to the store defaults.
func New(s Settings) *Breaker {
	def := ForStore("")
	if s.Threshold <= 0 {
		s.Threshold = def.Threshold
	}
	if s.Cooldown <= 0 {
		s.Cooldown = def.Cooldown
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &Breaker{settings: s}
}

// Execute calls fn unless the breaker rejects the call, and records the
// outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(trial, err)
	return err
}

// Call is Execute for functions that return a value.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.settings.Now().Sub(b.openedAt) < b.settings.Cooldown {
			b.stats.Rejected++
			return false, ErrOpen
		}
		b.transition(StateHalfOpen)
		b.trial = true
		return true, nil
	case StateHalfOpen:
		if b.trial {
			b.stats.Rejected++
			return false, ErrOpen
		}
		b.trial = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Requests++
	if trial {
		b.trial = false
	}

	failed := err != nil && (b.settings.IsFailure == nil || b.settings.IsFailure(err))
	if !failed {
		b.streak = 0
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
		return
	}

	b.stats.Failures++
	b.streak++
	if b.state == StateHalfOpen || b.streak >= b.settings.Threshold {
		b.trip()
	}
}

// trip opens the breaker. Requires b.mu.
func (b *Breaker) trip() {
	b.openedAt = b.settings.Now()
	if b.state != StateOpen {
		b.stats.Trips++
	}
	b.transition(StateOpen)
}

// transition requires b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateClosed {
		b.openedAt = time.Time{}
	}
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.settings.Name, from, to)
	}
}

// State returns the current state. An open breaker whose cool-down has
// passed still reports open until the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns the counters and state of the breaker.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.stats
	m.Name = b.settings.Name
	m.State = b.state
	m.ConsecutiveFailures = b.streak
	m.OpenedAt = b.openedAt
	return m
}
