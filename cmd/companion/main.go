// Package main is the entry point of the study companion API server.
//
// The server hosts the study sessions of many users. It restores each
// user's stats from the configured store when their session starts,
// credits study time on every scheduler tick, and flushes all sessions
// on shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/studyhub/study-companion/config"
	"github.com/studyhub/study-companion/internal/application/home"
	"github.com/studyhub/study-companion/internal/application/tracker"
	"github.com/studyhub/study-companion/internal/bootstrap"
	"github.com/studyhub/study-companion/internal/infrastructure/auth"
	"github.com/studyhub/study-companion/internal/infrastructure/scheduler"
	"github.com/studyhub/study-companion/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/studyhub/study-companion/internal/interface/http"
	"github.com/studyhub/study-companion/internal/interface/http/handlers"
	"github.com/studyhub/study-companion/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := bootstrap.NewLogger(cfg)
	defer func() { _ = log.Sync() }()

	log.Info("starting study companion API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("timezone", cfg.App.Location.String()),
		logger.String("store", cfg.Store.Backend),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. STORE
	// ─────────────────────────────────────────────────────────────────────────
	backend, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		log.Info("closing store")
		if err := backend.Close(); err != nil {
			log.Error("store close failed", logger.Err(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus, err := bootstrap.NewEventBus(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	defer func() {
		log.Info("closing event bus")
		_ = bus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. SERVICES
	// ─────────────────────────────────────────────────────────────────────────
	manager := tracker.NewManager(backend.Store, tracker.Options{
		Location:     cfg.App.Location,
		TickInterval: cfg.Session.TickInterval,
		WriteTimeout: cfg.Store.WriteTimeout,
		IdleTimeout:  cfg.Session.IdleTimeout,
		Publisher:    bus,
		Logger:       log,
	})
	defer manager.Close()

	authSvc := auth.NewService(backend.Store, auth.Config{
		Secret:     bootstrap.AuthSecret(cfg, log),
		TokenTTL:   cfg.Auth.TokenTTL,
		BcryptCost: cfg.Auth.BcryptCost,
		Issuer:     cfg.Auth.Issuer,
	}, bus, log)

	dashboard := home.NewService(manager, cfg.App.Location, tracker.SystemClock{}, log)

	health := handlers.NewRegistry(cfg.App.Version, 0)
	bootstrap.HealthChecks(health, backend, manager.ActiveSessions)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:   log,
		Timezone: cfg.App.Location,
	})
	if err := sched.Register(jobs.NewTickJob(manager, log), cfg.Session.TickInterval); err != nil {
		return fmt.Errorf("failed to register tick job: %w", err)
	}
	if err := sched.Register(jobs.NewSweepJob(manager, log), cfg.Session.SweepInterval); err != nil {
		return fmt.Errorf("failed to register sweep job: %w", err)
	}
	sched.OnJobError(func(job string, err error) {
		log.Error("job failed", logger.String("job", job), logger.Err(err))
	})
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	authLimit := httpapi.DefaultRateLimitConfig()
	authLimit.RequestsPerMinute = cfg.HTTP.AuthRatePerMinute
	authLimit.BurstSize = cfg.HTTP.AuthRateBurst

	server := httpapi.NewServer(httpapi.Config{
		Host:              cfg.HTTP.Host,
		Port:              cfg.HTTP.Port,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
		RequestTimeout:    cfg.HTTP.RequestTimeout,
		AllowedOrigins:    cfg.HTTP.AllowedOrigins,
		TrustedProxies:    cfg.HTTP.TrustedProxies,
		AllowRegistration: cfg.Auth.AllowRegistration,
		AuthRateLimit:     authLimit,
		Debug:             cfg.App.Debug,
	}, httpapi.Dependencies{
		Sessions:      manager,
		Dashboard:     dashboard,
		Auth:          authSvc,
		HealthChecker: health,
		Logger:        log,
	})
	errCh := server.StartAsync()

	log.Info("study companion API is running", logger.String("address", cfg.HTTP.Addr()))

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error("http server stopped", logger.Err(serveErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", logger.Err(err))
	}
	if err := sched.Stop(); err != nil {
		log.Error("scheduler stop failed", logger.Err(err))
	}
	if err := manager.EndAll(shutdownCtx); err != nil {
		log.Error("failed to end sessions", logger.Err(err))
	}

	log.Info("shutdown completed")
	return serveErr
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.HTTP.ShutdownTimeout > 0 {
		return cfg.HTTP.ShutdownTimeout
	}
	return cfg.App.ShutdownTimeout
}
