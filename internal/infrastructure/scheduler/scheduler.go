// Package scheduler runs the periodic jobs of the study companion: the
// one-minute session tick and the idle tracker sweep. Timing is delegated to
// gocron; this package adds job bookkeeping, logging and metrics.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/studyhub/study-companion/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job defines the interface that all scheduled jobs must implement.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job.
	// The context is cancelled when the scheduler is stopping.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// JobResult contains the result of a job execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler manages and executes scheduled jobs.
type Scheduler struct {
	mu sync.RWMutex

	cron   *gocron.Scheduler
	logger *logger.Logger

	jobs    map[string]*scheduledJob
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	metrics *SchedulerMetrics

	onJobError func(jobName string, err error)
}

type scheduledJob struct {
	job      Job
	every    time.Duration
	lastRun  time.Time
	runCount int64
}

// SchedulerConfig contains configuration for the Scheduler.
type SchedulerConfig struct {
	Logger *logger.Logger

	// Timezone for schedule calculations (default: UTC).
	Timezone *time.Location

	// RunImmediately runs each job once at Start instead of waiting a full
	// interval for the first run.
	RunImmediately bool
}

// NewScheduler creates a new Scheduler with the given configuration.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}

	cron := gocron.NewScheduler(config.Timezone)
	cron.SingletonModeAll()
	if !config.RunImmediately {
		cron.WaitForScheduleAll()
	}

	return &Scheduler{
		cron:    cron,
		logger:  config.Logger.With(logger.Component("scheduler")),
		jobs:    make(map[string]*scheduledJob),
		metrics: NewSchedulerMetrics(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// JOB REGISTRATION
// ══════════════════════════════════════════════════════════════════════════════

// Register schedules job to run every interval.
func (s *Scheduler) Register(job Job, every time.Duration) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}
	if every <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, every)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	sj := &scheduledJob{job: job, every: every}
	if _, err := s.cron.Every(every).Tag(name).Do(s.runJob, sj); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.jobs[name] = sj

	s.logger.Info("job registered",
		logger.String("job", name),
		logger.Duration("every", every),
	)
	return nil
}

// Unregister removes a job from the scheduler.
func (s *Scheduler) Unregister(jobName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobName]; !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}
	if err := s.cron.RemoveByTag(jobName); err != nil {
		return fmt.Errorf("unschedule %s: %w", jobName, err)
	}
	delete(s.jobs, jobName)
	return nil
}

// OnJobError sets a callback to be called when a job fails.
func (s *Scheduler) OnJobError(fn func(jobName string, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onJobError = fn
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start runs the scheduler in the background until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	s.cron.StartAsync()
	s.logger.Info("scheduler started", logger.Int("jobs", s.cron.Len()))

	go func() {
		<-s.ctx.Done()
		_ = s.Stop()
	}()
	return nil
}

// Stop stops scheduling new runs and waits for running jobs to complete.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	s.cron.Stop()
	cancel()
	s.wg.Wait()

	s.logger.Info("scheduler stopped")
	return nil
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// runJob executes a single job and records the result.
func (s *Scheduler) runJob(sj *scheduledJob) {
	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.RUnlock()
	defer s.wg.Done()

	s.execute(ctx, sj)
}

func (s *Scheduler) execute(ctx context.Context, sj *scheduledJob) JobResult {
	name := sj.job.Name()
	result := JobResult{JobName: name, StartedAt: time.Now()}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrJobPanic, r)
			}
		}()
		return sj.job.Run(ctx)
	}()

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	result.Success = err == nil
	result.Error = err

	s.mu.Lock()
	sj.lastRun = result.StartedAt
	sj.runCount++
	onJobError := s.onJobError
	s.mu.Unlock()

	s.metrics.RecordExecution(name, result.Duration, result.Success)

	if err != nil {
		s.logger.Error("job failed",
			logger.String("job", name),
			logger.Duration("duration", result.Duration),
			logger.Err(err),
		)
		if onJobError != nil {
			onJobError(name, err)
		}
	} else {
		s.logger.Debug("job completed",
			logger.String("job", name),
			logger.Duration("duration", result.Duration),
		)
	}
	return result
}

// RunNow immediately executes a job by name, ignoring its schedule.
func (s *Scheduler) RunNow(ctx context.Context, jobName string) (JobResult, error) {
	s.mu.RLock()
	sj, exists := s.jobs[jobName]
	s.mu.RUnlock()
	if !exists {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}
	return s.execute(ctx, sj), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS & INFO
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo contains information about a registered job.
type JobInfo struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Every       time.Duration `json:"every"`
	LastRun     time.Time     `json:"lastRun,omitzero"`
	RunCount    int64         `json:"runCount"`
}

// ListJobs returns information about all registered jobs.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, sj := range s.jobs {
		infos = append(infos, JobInfo{
			Name:        name,
			Description: sj.job.Description(),
			Every:       sj.every,
			LastRun:     sj.lastRun,
			RunCount:    sj.runCount,
		})
	}
	return infos
}

// GetMetrics returns scheduler metrics.
func (s *Scheduler) GetMetrics() *SchedulerMetrics {
	return s.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// SchedulerMetrics tracks scheduler performance metrics.
type SchedulerMetrics struct {
	mu sync.RWMutex

	TotalRuns     int64
	TotalFailures int64
	RunsByJob     map[string]int64
	FailuresByJob map[string]int64
	TotalDuration time.Duration
}

// NewSchedulerMetrics creates a new metrics tracker.
func NewSchedulerMetrics() *SchedulerMetrics {
	return &SchedulerMetrics{
		RunsByJob:     make(map[string]int64),
		FailuresByJob: make(map[string]int64),
	}
}

// RecordExecution records a job execution.
func (m *SchedulerMetrics) RecordExecution(jobName string, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalRuns++
	m.RunsByJob[jobName]++
	m.TotalDuration += duration
	if !success {
		m.TotalFailures++
		m.FailuresByJob[jobName]++
	}
}

// Snapshot returns a point-in-time snapshot of metrics.
func (m *SchedulerMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	avg := time.Duration(0)
	if m.TotalRuns > 0 {
		avg = m.TotalDuration / time.Duration(m.TotalRuns)
	}
	return MetricsSnapshot{
		TotalRuns:       m.TotalRuns,
		TotalFailures:   m.TotalFailures,
		AverageDuration: avg,
	}
}

// MetricsSnapshot is a point-in-time snapshot of scheduler metrics.
type MetricsSnapshot struct {
	TotalRuns       int64         `json:"totalRuns"`
	TotalFailures   int64         `json:"totalFailures"`
	AverageDuration time.Duration `json:"averageDuration"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobAlreadyExists = errors.New("job already exists")
	ErrSchedulerRunning = errors.New("scheduler is already running")
	ErrInvalidInterval  = errors.New("interval must be positive")
	ErrJobPanic         = errors.New("job panicked")
)
