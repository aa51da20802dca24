package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg RateLimitConfig) (*RateLimiter, *time.Time) {
	t.Helper()
	rl := NewRateLimiter(cfg)
	t.Cleanup(rl.Close)
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	rl, now := newTestLimiter(t, RateLimitConfig{RequestsPerMinute: 60, BurstSize: 2, BanThreshold: 10, BanDuration: time.Minute})

	assert.True(t, rl.Check("a").Allowed)
	assert.True(t, rl.Check("a").Allowed)

	res := rl.Check("a")
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Second, res.RetryAfter)

	// Other clients have their own bucket.
	assert.True(t, rl.Check("b").Allowed)

	*now = now.Add(time.Second)
	assert.True(t, rl.Check("a").Allowed)
}

func TestRateLimiter_BansRepeatOffenders(t *testing.T) {
	rl, now := newTestLimiter(t, RateLimitConfig{RequestsPerMinute: 60, BurstSize: 1, BanThreshold: 2, BanDuration: time.Minute})

	require.True(t, rl.Check("a").Allowed)
	assert.False(t, rl.Check("a").IsBanned)
	res := rl.Check("a")
	assert.True(t, res.IsBanned)
	assert.Equal(t, time.Minute, res.RetryAfter)

	*now = now.Add(30 * time.Second)
	assert.True(t, rl.Check("a").IsBanned)

	*now = now.Add(31 * time.Second)
	assert.True(t, rl.Check("a").Allowed)

	rl.Reset("a")
	rl.cleanup()
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl, _ := newTestLimiter(t, RateLimitConfig{RequestsPerMinute: 6, BurstSize: 1, BanThreshold: 10, BanDuration: time.Minute})

	r := gin.New()
	r.POST("/login", RateLimit(rl), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	send := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
		return rec
	}

	assert.Equal(t, http.StatusNoContent, send().Code)
	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), codeRateLimited)
}
