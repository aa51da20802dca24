// Package jobs contains the scheduled jobs that drive study sessions.
package jobs

import (
	"context"

	"github.com/studyhub/study-companion/pkg/logger"
)

// SessionTicker advances every active session by one tick.
type SessionTicker interface {
	Tick() int
}

// TrackerSweeper ends abandoned sessions and drops trackers that are no
// longer active.
type TrackerSweeper interface {
	Sweep(ctx context.Context) int
}

// TickJob credits one tick of study time to every active session.
type TickJob struct {
	sessions SessionTicker
	log      *logger.Logger
}

// NewTickJob creates the session tick job.
func NewTickJob(sessions SessionTicker, log *logger.Logger) *TickJob {
	if log == nil {
		log = logger.Nop()
	}
	return &TickJob{sessions: sessions, log: log.With(logger.Component("tick_job"))}
}

// Name implements scheduler.Job.
func (j *TickJob) Name() string { return "session_tick" }

// Description implements scheduler.Job.
func (j *TickJob) Description() string { return "adds one tick of study time to active sessions" }

// Run implements scheduler.Job.
func (j *TickJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n := j.sessions.Tick(); n > 0 {
		j.log.Debug("sessions ticked", logger.Int("active", n))
	}
	return nil
}

// SweepJob ends sessions whose client went away and retires idle trackers so
// memory does not grow with every user that ever started a session.
type SweepJob struct {
	trackers TrackerSweeper
	log      *logger.Logger
}

// NewSweepJob creates the idle tracker sweep job.
func NewSweepJob(trackers TrackerSweeper, log *logger.Logger) *SweepJob {
	if log == nil {
		log = logger.Nop()
	}
	return &SweepJob{trackers: trackers, log: log.With(logger.Component("sweep_job"))}
}

// Name implements scheduler.Job.
func (j *SweepJob) Name() string { return "tracker_sweep" }

// Description implements scheduler.Job.
func (j *SweepJob) Description() string { return "ends abandoned sessions and retires idle trackers" }

// Run implements scheduler.Job.
func (j *SweepJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n := j.trackers.Sweep(ctx); n > 0 {
		j.log.Info("idle trackers retired", logger.Int("count", n))
	}
	return nil
}
