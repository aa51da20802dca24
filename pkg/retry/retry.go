// Package retry redials a store backend until it answers, waiting a little
// longer after every failed attempt.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Do gives up on it at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Backoff is a doubling delay schedule capped at Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64
}

// Delay returns the wait after failed attempt n, counting from 1.
func (b Backoff) Delay(n int) time.Duration {
	d := b.Initial
	for i := 1; i < n && d < b.Max; i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		d += time.Duration(float64(d) * b.Jitter * (2*rand.Float64() - 1))
	}
	return max(d, 0)
}

// Retrier repeats an operation while it fails with a transient error.
type Retrier struct {
	// Attempts includes the first call. Values below one mean one.
	Attempts int
	Backoff  Backoff

	// Transient reports whether a failure may clear on its own. Nil treats
	// every error not marked Permanent as transient.
	Transient func(error) bool

	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// StoreConnect returns the retrier used when a store backend is opened:
// five attempts over roughly six seconds.
func StoreConnect(transient func(error) bool, onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	return &Retrier{
		Attempts:  5,
		Backoff:   Backoff{Initial: 200 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.1},
		Transient: transient,
		OnRetry:   onRetry,
	}
}

// Do calls op until it succeeds, fails with a non-transient error, runs out
// of attempts or ctx ends. It returns the last error from op, or ctx's error
// if op never ran.
func (r *Retrier) Do(ctx context.Context, op func(context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		last = op(ctx)
		if last == nil {
			return nil
		}
		if attempt >= r.Attempts || !r.retryable(last) {
			return last
		}

		delay := r.Backoff.Delay(attempt)
		if r.OnRetry != nil {
			r.OnRetry(attempt, last, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last
		case <-timer.C:
		}
	}
}

func (r *Retrier) retryable(err error) bool {
	if IsPermanent(err) {
		return false
	}
	return r.Transient == nil || r.Transient(err)
}
