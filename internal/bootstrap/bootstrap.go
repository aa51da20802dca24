// Package bootstrap builds the shared infrastructure of the companion
// binaries from a loaded configuration.
package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/studyhub/study-companion/config"
	"github.com/studyhub/study-companion/internal/domain/shared"
	"github.com/studyhub/study-companion/internal/infrastructure/messaging"
	"github.com/studyhub/study-companion/internal/infrastructure/persistence"
	"github.com/studyhub/study-companion/internal/infrastructure/persistence/postgres"
	redisstore "github.com/studyhub/study-companion/internal/infrastructure/persistence/redis"
	"github.com/studyhub/study-companion/internal/interface/http/handlers"
	"github.com/studyhub/study-companion/pkg/logger"
)

// NewLogger builds the process logger from the observability settings.
func NewLogger(cfg *config.Config) *logger.Logger {
	format := cfg.Observability.LogFormat
	if format == "" {
		format = "json"
	}
	return logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		Format:    format,
		AddCaller: true,
	}).With(
		logger.String("service", cfg.App.Name),
		logger.String("version", cfg.App.Version),
	)
}

// RedisConfig converts the Redis settings to the store client config.
func RedisConfig(cfg *config.Config) redisstore.Config {
	rc := redisstore.DefaultConfig()
	rc.Addr = cfg.Redis.Addr()
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.KeyPrefix = cfg.Redis.KeyPrefix
	if cfg.Redis.PoolSize > 0 {
		rc.PoolSize = cfg.Redis.PoolSize
	}
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	if cfg.Redis.DialTimeout > 0 {
		rc.DialTimeout = cfg.Redis.DialTimeout
	}
	if cfg.Redis.ReadTimeout > 0 {
		rc.ReadTimeout = cfg.Redis.ReadTimeout
	}
	if cfg.Redis.WriteTimeout > 0 {
		rc.WriteTimeout = cfg.Redis.WriteTimeout
	}
	return rc
}

// StoreOptions converts the store settings to persistence options.
func StoreOptions(cfg *config.Config, log *logger.Logger) persistence.Options {
	pg := postgres.DefaultConfig()
	pg.URL = cfg.Database.URL
	if cfg.Database.MaxConns > 0 {
		pg.MaxConns = int32(cfg.Database.MaxConns)
	}
	if cfg.Database.MinConns > 0 {
		pg.MinConns = int32(cfg.Database.MinConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		pg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	}
	if cfg.Database.ConnMaxIdleTime > 0 {
		pg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	}

	return persistence.Options{
		Backend:          cfg.Store.Backend,
		SQLitePath:       cfg.SQLite.Path,
		Redis:            RedisConfig(cfg),
		Postgres:         pg,
		Breaker:          cfg.Store.BreakerEnabled,
		BreakerThreshold: cfg.Store.BreakerThreshold,
		BreakerTimeout:   cfg.Store.BreakerTimeout,
		Logger:           log,
	}
}

// OpenStore opens the configured backend.
func OpenStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (*persistence.Backend, error) {
	return persistence.Open(ctx, StoreOptions(cfg, log))
}

// EventBus is a bus together with its shutdown.
type EventBus struct {
	shared.EventBus
	Close func() error
}

// NewEventBus builds the in-process bus, or the Redis-backed one when
// events are distributed. Every event is logged when LogEvents is set.
func NewEventBus(cfg *config.Config, log *logger.Logger) (*EventBus, error) {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = log

	var bus *EventBus
	if cfg.Events.Distributed {
		client := redisstore.NewClient(RedisConfig(cfg))
		rb, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewGoRedisClient(client),
			ChannelName:    cfg.Events.Channel,
			LocalBusConfig: local,
			Logger:         log,
		})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis event bus: %w", err)
		}
		bus = &EventBus{EventBus: rb, Close: rb.Close}
	} else {
		mb := messaging.NewInMemoryEventBus(local)
		bus = &EventBus{EventBus: mb, Close: mb.Close}
	}

	if cfg.Events.LogEvents {
		if err := bus.SubscribeAll(messaging.LogHandler(log)); err != nil {
			_ = bus.Close()
			return nil, err
		}
	}
	return bus, nil
}

// AuthSecret returns the configured signing secret. Outside production an
// empty secret becomes a random one, so tokens do not survive a restart.
func AuthSecret(cfg *config.Config, log *logger.Logger) string {
	if cfg.Auth.JWTSecret != "" {
		return cfg.Auth.JWTSecret
	}
	log.Warn("AUTH_JWT_SECRET is empty, using a random secret")
	return uuid.NewString() + uuid.NewString()
}

// HealthChecks registers the store, breaker and session checks on registry.
func HealthChecks(registry *handlers.Registry, backend *persistence.Backend, activeSessions func() int) {
	registry.Register("store", handlers.StoreCheck(backend))
	if g, ok := backend.Store.(*persistence.GuardedStore); ok {
		registry.Register("store_breaker", handlers.BreakerCheck(g.BreakerMetrics))
	}
	registry.Register("sessions", handlers.SessionsCheck(activeSessions))
}
