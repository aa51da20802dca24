// Package main is a single-user study tracker for the terminal.
//
// It starts a session for the identity configured in IDENTITY_USER_ID,
// credits study time on every tick, and reads commands from stdin:
//
//	quiz   record a completed quiz
//	stats  print the current stats
//	home   print the dashboard
//	quit   end the session and exit
//
// SIGINT and SIGTERM end the session the same way quit does.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/studyhub/study-companion/config"
	"github.com/studyhub/study-companion/internal/application/home"
	"github.com/studyhub/study-companion/internal/application/tracker"
	"github.com/studyhub/study-companion/internal/bootstrap"
	"github.com/studyhub/study-companion/internal/domain/identity"
	"github.com/studyhub/study-companion/internal/infrastructure/scheduler"
	"github.com/studyhub/study-companion/internal/infrastructure/scheduler/jobs"
	"github.com/studyhub/study-companion/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// tickFunc adapts a single tracker to jobs.SessionTicker.
type tickFunc func() bool

func (f tickFunc) Tick() int {
	if f() {
		return 1
	}
	return 0
}

func run(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Logs go to stderr so they do not interleave with command output.
	log := logger.New(logger.Options{
		Output: os.Stderr,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
		Format: "console",
	})
	defer func() { _ = log.Sync() }()

	backend, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = backend.Close() }()

	bus, err := bootstrap.NewEventBus(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	defer func() { _ = bus.Close() }()

	t := tracker.New(backend.Store, tracker.Options{
		Location:     cfg.App.Location,
		TickInterval: cfg.Session.TickInterval,
		WriteTimeout: cfg.Store.WriteTimeout,
		Publisher:    bus,
		Logger:       log,
	})
	defer t.Close()

	provider := identity.Static{
		UserID:      cfg.Identity.UserID,
		DisplayName: cfg.Identity.DisplayName,
		Email:       cfg.Identity.Email,
	}
	id, ok := provider.Current(ctx)
	if !ok {
		fmt.Fprintln(out, "No identity configured (IDENTITY_USER_ID). Nothing to track.")
		return nil
	}

	return runSession(ctx, t, id, cfg.App.Location, cfg.Session.TickInterval, in, out, log)
}

// runSession owns one session from start to end. Once the session has
// started it is ended on every return path.
func runSession(ctx context.Context, t *tracker.Tracker, id identity.Identity, loc *time.Location, every time.Duration, in io.Reader, out io.Writer, log *logger.Logger) error {
	snap, err := t.InitializeSession(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer func() {
		final, _ := t.EndSession(context.WithoutCancel(ctx))
		fmt.Fprintln(out, "Session ended.")
		printStats(out, final)
	}()
	fmt.Fprintf(out, "%s, %s! Session %s started. Streak: %d day(s).\n",
		home.Greeting(time.Now().In(loc)), id.Name(), snap.SessionID, snap.Stats.Streak)

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: log, Timezone: loc})
	if err := sched.Register(jobs.NewTickJob(tickFunc(t.Tick), log), every); err != nil {
		return fmt.Errorf("failed to register tick job: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() { _ = sched.Stop() }()

	commands := make(chan string)
	go func() {
		defer close(commands)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case commands <- strings.ToLower(strings.TrimSpace(scanner.Text())):
			case <-ctx.Done():
				return
			}
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case cmd, ok := <-commands:
			if !ok || cmd == "quit" || cmd == "exit" {
				break loop
			}
			if err := handleCommand(ctx, t, id, loc, cmd, out); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}

	return nil
}

func handleCommand(ctx context.Context, t *tracker.Tracker, id identity.Identity, loc *time.Location, cmd string, out io.Writer) error {
	switch cmd {
	case "":
		return nil
	case "quiz":
		snap, err := t.RecordQuizCompletion(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Quiz recorded (%d completed).\n", snap.Stats.CompletedQuizzes)
		if snap.Stats.DailyGoalMet {
			fmt.Fprintln(out, "Daily goal met!")
		}
	case "stats":
		printStats(out, t.Snapshot())
	case "home":
		snap := t.Snapshot()
		fmt.Fprintf(out, "%s, %s\n", home.Greeting(time.Now().In(loc)), id.Name())
		for _, card := range home.QuickStats(snap.Stats) {
			fmt.Fprintf(out, "  %-18s %s\n", card.Title, card.Value)
		}
		for _, f := range home.Catalog() {
			fmt.Fprintf(out, "  -> %-14s %s\n", f.Name, f.Description)
		}
	case "help":
		fmt.Fprintln(out, "commands: quiz, stats, home, quit")
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func printStats(out io.Writer, snap tracker.Snapshot) {
	s := snap.Stats
	fmt.Fprintf(out, "Study hours: %.2f | Quizzes: %d | Streak: %d | Daily goal: %t\n",
		s.StudyHours, s.CompletedQuizzes, s.Streak, s.DailyGoalMet)
}
