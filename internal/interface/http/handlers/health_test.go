package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/study-companion/pkg/circuitbreaker"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRegistry_Empty(t *testing.T) {
	report := NewRegistry("test", 0).Check(context.Background())
	assert.True(t, report.Healthy)
	assert.Empty(t, report.Checks)
	assert.Equal(t, "test", report.Version)
}

func TestRegistry_ReportsFailingChecks(t *testing.T) {
	r := NewRegistry("test", 0)
	r.Register("store", StoreCheck(pingFunc(func(context.Context) error { return nil })))
	r.Register("sessions", SessionsCheck(func() int { return 3 }))

	report := r.Check(context.Background())
	require.True(t, report.Healthy)
	assert.Equal(t, SessionStats{Active: 3}, report.Checks["sessions"].Details)

	r.Register("cache", StoreCheck(pingFunc(func(context.Context) error { return errors.New("refused") })))
	r.Register("breaker", BreakerCheck(func() circuitbreaker.Metrics {
		return circuitbreaker.Metrics{Name: "store:sqlite", State: circuitbreaker.StateOpen, Trips: 1}
	}))

	report = r.Check(context.Background())
	assert.False(t, report.Healthy)
	assert.Equal(t, []string{"breaker", "cache"}, report.Failing)
	assert.Equal(t, "refused", report.Checks["cache"].Error)
	assert.Equal(t, ErrBreakerOpen.Error(), report.Checks["breaker"].Error)
	assert.True(t, report.Checks["store"].Healthy)
}

func TestRegistry_Timeout(t *testing.T) {
	r := NewRegistry("test", 10*time.Millisecond)
	r.Register("slow", StoreCheck(pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})))

	report := r.Check(context.Background())
	assert.False(t, report.Healthy)
	assert.Contains(t, report.Checks["slow"].Error, "deadline exceeded")
}

func TestBreakerCheck_MetricsInReport(t *testing.T) {
	b := circuitbreaker.New(circuitbreaker.ForStore("sqlite"))
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("locked") })

	r := NewRegistry("test", 0)
	r.Register("store_breaker", BreakerCheck(b.Metrics))

	body, err := json.Marshal(r.Check(context.Background()))
	require.NoError(t, err)

	var decoded struct {
		Checks map[string]struct {
			Healthy bool `json:"healthy"`
			Details struct {
				Name     string `json:"name"`
				State    string `json:"state"`
				Failures int    `json:"failures"`
			} `json:"details"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	got := decoded.Checks["store_breaker"]
	assert.True(t, got.Healthy)
	assert.Equal(t, "store:sqlite", got.Details.Name)
	assert.Equal(t, "closed", got.Details.State)
	assert.Equal(t, 1, got.Details.Failures)
}
