package http

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// Per-client token buckets for the credential endpoints. Repeated violations
// earn a temporary ban.
// ══════════════════════════════════════════════════════════════════════════════

// RateLimitConfig holds configuration for the rate limiter.
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate per client. Zero disables limiting.
	RequestsPerMinute int

	// BurstSize is the bucket capacity.
	BurstSize int

	// CleanupInterval is how often idle buckets and expired bans are dropped.
	CleanupInterval time.Duration

	// BanDuration is how long a client is refused after BanThreshold violations.
	BanDuration  time.Duration
	BanThreshold int
}

// DefaultRateLimitConfig returns limits suited to login and registration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
		BanDuration:       10 * time.Minute,
		BanThreshold:      5,
	}
}

// RateLimiter implements per-client rate limiting using the token bucket algorithm.
type RateLimiter struct {
	config  RateLimitConfig
	now     func() time.Time
	buckets sync.Map // map[string]*tokenBucket
	bans    sync.Map // map[string]time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type tokenBucket struct {
	mu           sync.Mutex
	tokens       float64
	lastRefill   time.Time
	violations   int
	lastViolated time.Time
}

// RateLimitResult is the outcome of a single check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
	IsBanned   bool
	Remaining  int
}

// NewRateLimiter creates a limiter and starts its cleanup loop. Call Close
// to stop it.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = def.RequestsPerMinute
	}
	if config.BurstSize <= 0 {
		config.BurstSize = def.BurstSize
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.BanThreshold <= 0 {
		config.BanThreshold = def.BanThreshold
	}
	rl := &RateLimiter{
		config: config,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Check consumes a token for key.
func (rl *RateLimiter) Check(key string) RateLimitResult {
	now := rl.now()

	if until, ok := rl.bans.Load(key); ok {
		expires := until.(time.Time)
		if now.Before(expires) {
			return RateLimitResult{IsBanned: true, RetryAfter: expires.Sub(now)}
		}
		rl.bans.Delete(key)
	}

	b := rl.bucket(key, now)
	b.mu.Lock()
	defer b.mu.Unlock()

	rate := rl.ratePerSecond()
	b.tokens = math.Min(float64(rl.config.BurstSize), b.tokens+now.Sub(b.lastRefill).Seconds()*rate)
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return RateLimitResult{Allowed: true, Remaining: int(b.tokens)}
	}

	// Violations older than the ban window are forgiven.
	if now.Sub(b.lastViolated) > rl.config.BanDuration {
		b.violations = 0
	}
	b.violations++
	b.lastViolated = now
	if b.violations >= rl.config.BanThreshold && rl.config.BanDuration > 0 {
		rl.bans.Store(key, now.Add(rl.config.BanDuration))
		b.violations = 0
		return RateLimitResult{IsBanned: true, RetryAfter: rl.config.BanDuration}
	}

	wait := time.Duration((1 - b.tokens) / rate * float64(time.Second))
	return RateLimitResult{RetryAfter: wait}
}

// Reset clears the state of key.
func (rl *RateLimiter) Reset(key string) {
	rl.buckets.Delete(key)
	rl.bans.Delete(key)
}

// Close stops the cleanup loop.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) ratePerSecond() float64 {
	return float64(rl.config.RequestsPerMinute) / 60.0
}

func (rl *RateLimiter) bucket(key string, now time.Time) *tokenBucket {
	if v, ok := rl.buckets.Load(key); ok {
		return v.(*tokenBucket)
	}
	b := &tokenBucket{tokens: float64(rl.config.BurstSize), lastRefill: now}
	actual, _ := rl.buckets.LoadOrStore(key, b)
	return actual.(*tokenBucket)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup drops full buckets and expired bans.
func (rl *RateLimiter) cleanup() {
	now := rl.now()
	idle := time.Duration(float64(rl.config.BurstSize)/rl.ratePerSecond()) * time.Second

	rl.buckets.Range(func(key, value any) bool {
		b := value.(*tokenBucket)
		b.mu.Lock()
		inactive := now.Sub(b.lastRefill) > idle && now.Sub(b.lastViolated) > rl.config.BanDuration
		b.mu.Unlock()
		if inactive {
			rl.buckets.Delete(key)
		}
		return true
	})

	rl.bans.Range(func(key, value any) bool {
		if now.After(value.(time.Time)) {
			rl.bans.Delete(key)
		}
		return true
	})
}

// RateLimit rejects clients that exceed rl with 429 and a Retry-After header.
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := rl.Check(c.ClientIP())
		if res.Allowed {
			c.Next()
			return
		}
		seconds := int(math.Ceil(res.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
		abortError(c, http.StatusTooManyRequests, codeRateLimited, "too many requests")
	}
}
