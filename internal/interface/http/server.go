// Package http implements the REST API of the study companion on gin.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/studyhub/study-companion/internal/application/home"
	"github.com/studyhub/study-companion/internal/application/tracker"
	"github.com/studyhub/study-companion/internal/domain/identity"
	"github.com/studyhub/study-companion/internal/infrastructure/auth"
	"github.com/studyhub/study-companion/internal/interface/http/handlers"
	"github.com/studyhub/study-companion/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// RequestTimeout bounds the context of each request. Zero disables it.
	RequestTimeout time.Duration

	// AllowedOrigins - allowed origins for CORS. "*" allows any origin.
	AllowedOrigins []string

	// TrustedProxies - proxies whose X-Forwarded-For is honored.
	TrustedProxies []string

	// AllowRegistration enables POST /api/auth/register.
	AllowRegistration bool

	// AuthRateLimit limits /api/auth per client. RequestsPerMinute 0 disables it.
	AuthRateLimit RateLimitConfig

	// Debug switches gin to debug mode.
	Debug bool
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8080,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
		RequestTimeout:    10 * time.Second,
		AllowedOrigins:    []string{"*"},
		AllowRegistration: true,
		AuthRateLimit:     DefaultRateLimitConfig(),
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Sessions is the session manager as seen by the API.
type Sessions interface {
	Start(ctx context.Context, id identity.Identity) (tracker.Snapshot, error)
	End(ctx context.Context, userID string) (tracker.Snapshot, error)
	RecordQuiz(ctx context.Context, userID string) (tracker.Snapshot, error)
	Heartbeat(userID string) (tracker.Snapshot, error)
	Stats(ctx context.Context, userID string) (tracker.Snapshot, error)
}

// Dashboard serves the home screen.
type Dashboard interface {
	Home(ctx context.Context, id identity.Identity) (home.Dashboard, error)
	Navigate(ctx context.Context, userID, feature string) (home.NavigationResult, error)
}

// Authenticator registers users and verifies tokens.
type Authenticator interface {
	Register(ctx context.Context, email, password, displayName string) (identity.Identity, error)
	Login(ctx context.Context, email, password string) (auth.Token, error)
	Issue(id identity.Identity) (auth.Token, error)
	Verify(token string) (identity.Identity, error)
}

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	Sessions  Sessions
	Dashboard Dashboard
	Auth      Authenticator

	// HealthChecker backs GET /health. Defaults to an empty registry.
	HealthChecker handlers.HealthChecker

	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	limiter    *RateLimiter
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.HealthChecker == nil {
		deps.HealthChecker = handlers.NewRegistry("", 0)
	}

	if config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: config,
		deps:   deps,
		engine: gin.New(),
		logger: deps.Logger.With(logger.Component("http")),
	}

	if err := s.engine.SetTrustedProxies(config.TrustedProxies); err != nil {
		s.logger.Warn("invalid trusted proxies, trusting none", logger.Err(err))
		_ = s.engine.SetTrustedProxies(nil)
	}

	s.engine.Use(
		RequestID(),
		RequestLogger(s.logger),
		Recovery(s.logger),
		CORS(config.AllowedOrigins),
		Timeout(config.RequestTimeout),
	)
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.engine,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	s.engine.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "not_found", "route not found")
	})

	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/health/live", s.handleLive)

	api := s.engine.Group("/api")

	authGroup := api.Group("/auth")
	if s.config.AuthRateLimit.RequestsPerMinute > 0 {
		s.limiter = NewRateLimiter(s.config.AuthRateLimit)
		authGroup.Use(RateLimit(s.limiter))
	}
	if s.config.AllowRegistration {
		authGroup.POST("/register", s.handleRegister)
	}
	authGroup.POST("/login", s.handleLogin)

	protected := api.Group("")
	protected.Use(RequireAuth(s.deps.Auth))
	{
		protected.POST("/session/start", s.handleSessionStart)
		protected.POST("/session/end", s.handleSessionEnd)
		protected.POST("/session/quiz", s.handleSessionQuiz)
		protected.POST("/session/heartbeat", s.handleSessionHeartbeat)
		protected.GET("/stats", s.handleStats)
		protected.GET("/home", s.handleHome)
		protected.POST("/navigate/:feature", s.handleNavigate)
	}
}

// Handler returns the root handler. Tests drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Close()
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}
