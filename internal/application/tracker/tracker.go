// Package tracker implements the study session tracker: it restores a user's
// stats, applies the daily streak rule on session start, accrues time on a
// fixed tick, counts quiz completions and flushes the elapsed time on end.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studyhub/study-companion/internal/domain/identity"
	"github.com/studyhub/study-companion/internal/domain/shared"
	"github.com/studyhub/study-companion/internal/domain/study"
	"github.com/studyhub/study-companion/pkg/logger"
	"github.com/studyhub/study-companion/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// State is the lifecycle state of a tracker.
type State int

const (
	// StateIdle means no session is running.
	StateIdle State = iota
	// StateLoading means stats are being restored.
	StateLoading
	// StateActive means the session is accruing time.
	StateActive
	// StateEnding means the final elapsed time is being flushed.
	StateEnding
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON responses.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// errTrackerClosed is returned by lifecycle calls on a retired tracker.
var errTrackerClosed = errors.New("tracker closed")

// ══════════════════════════════════════════════════════════════════════════════
// OPTIONS
// ══════════════════════════════════════════════════════════════════════════════

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// Options configures trackers.
type Options struct {
	// Location is the calendar used for streak days.
	Location *time.Location

	// TickInterval is the cadence of Tick; each tick adds TickInterval.Hours().
	TickInterval time.Duration

	// WriteTimeout bounds each background store write.
	WriteTimeout time.Duration

	// IdleTimeout ends an active session whose client has not been seen for
	// this long. Zero disables expiry. Only Manager consults it.
	IdleTimeout time.Duration

	Clock     Clock
	Publisher shared.EventPublisher
	Logger    *logger.Logger
}

// DefaultOptions returns options for a one-minute tick in the local timezone.
func DefaultOptions() Options {
	return Options{
		Location:     time.Local,
		TickInterval: study.DefaultTickInterval,
		WriteTimeout: 5 * time.Second,
		Clock:        SystemClock{},
		Publisher:    shared.NopPublisher{},
		Logger:       logger.Nop(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Location == nil {
		o.Location = d.Location
	}
	if o.TickInterval <= 0 {
		o.TickInterval = d.TickInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.IdleTimeout < 0 {
		o.IdleTimeout = 0
	}
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	if o.Publisher == nil {
		o.Publisher = d.Publisher
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	return o
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is a copy of a tracker's state.
type Snapshot struct {
	UserID        string      `json:"userId"`
	DisplayName   string      `json:"displayName"`
	State         State       `json:"state"`
	SessionID     string      `json:"sessionId,omitempty"`
	SessionStart  time.Time   `json:"sessionStart,omitzero"`
	LastStudyDate time.Time   `json:"lastStudyDate,omitzero"`
	Stats         study.Stats `json:"-"`
}

// ══════════════════════════════════════════════════════════════════════════════
// TRACKER
// ══════════════════════════════════════════════════════════════════════════════

// Tracker owns the study session of one user at a time.
type Tracker struct {
	store     study.Store
	writer    *writer
	opts      Options
	log       *logger.Logger
	increment float64

	// lifecycle serializes InitializeSession and EndSession.
	lifecycle sync.Mutex

	mu            sync.Mutex
	state         State
	closed        bool
	ident         identity.Identity
	stats         study.Stats
	sessionID     string
	start         time.Time
	lastStudyDate time.Time
	lastSeen      time.Time

	// unverified is set when the persisted record could not be read. Stats
	// and the last study date are not written until a later read succeeds.
	unverified bool
}

// New creates an idle tracker writing to store.
func New(store study.Store, opts Options) *Tracker {
	opts = opts.withDefaults()
	log := opts.Logger.With(logger.Component("tracker"))
	return &Tracker{
		store:     store,
		writer:    newWriter(store, log, opts.WriteTimeout),
		opts:      opts,
		log:       log,
		increment: study.TickIncrement(opts.TickInterval),
	}
}

// InitializeSession restores the user's stats, applies the streak rule and
// enters the Active state. It is a no-op while the same user is active; a
// different user's session is ended first.
func (t *Tracker) InitializeSession(ctx context.Context, id identity.Identity) (Snapshot, error) {
	if id.IsZero() {
		return t.Snapshot(), shared.ErrNoIdentity
	}

	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Snapshot{}, errTrackerClosed
	}
	if t.state == StateActive {
		if t.ident.UserID == id.UserID {
			t.lastSeen = t.opts.Clock.Now()
			snap := t.snapshotLocked()
			t.mu.Unlock()
			return snap, nil
		}
		t.mu.Unlock()
		t.endSessionLocked(ctx, t.opts.Clock.Now())
		t.mu.Lock()
	}
	t.state = StateLoading
	t.ident = id
	t.mu.Unlock()

	log := t.log.With(logger.UserID(id.UserID))
	restored := Restore(ctx, t.store, id.UserID, t.opts.Location, log)
	if !restored.StaleStart.IsZero() {
		log.Warn("discarding stale session start",
			logger.Time("stale_start", restored.StaleStart),
		)
	}
	if restored.Failed {
		log.Warn("persisted stats unavailable, holding stats writes until a read succeeds")
	}

	now := t.opts.Clock.Now()
	stats := restored.Stats
	previous := stats.Streak
	next, outcome := study.StreakTransition(now, restored.LastStudyDate, previous, t.opts.Location)
	stats.Streak = next
	stats.Touch(now)

	sessionID := uuid.New().String()

	t.mu.Lock()
	t.stats = stats
	t.start = now
	t.sessionID = sessionID
	t.lastStudyDate = timeutil.StartOfDay(now, t.opts.Location)
	t.lastSeen = now
	t.unverified = restored.Failed
	t.state = StateActive
	snap := t.snapshotLocked()
	t.persistLocked()
	t.mu.Unlock()

	uid := id.UserID
	t.writer.set(study.StudyStartKey(uid), EncodeStudyStart(now))
	if !restored.Failed {
		t.writer.set(study.LastStudyDateKey(uid), EncodeLastStudyDate(now, t.opts.Location))
	}
	t.writer.set(study.LastActiveKey(uid), EncodeLastActive(now))

	log.Info("study session started",
		logger.SessionID(sessionID),
		logger.Int("streak", next),
		logger.String("streak_outcome", outcome.String()),
		logger.Float64("study_hours", stats.StudyHours),
	)

	t.publish(shared.NewSessionStartedEvent(uid, sessionID, now, next, stats.StudyHours))
	if outcome != study.StreakKept && !restored.Failed {
		t.publish(shared.NewStreakUpdatedEvent(uid, previous, next, outcome == study.StreakReset, now))
	}

	return snap, nil
}

// Tick adds one tick's worth of study time. It reports whether the tracker
// was active. Wall time between ticks is not consulted.
func (t *Tracker) Tick() bool {
	t.reconcile(context.Background())

	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return false
	}
	now := t.opts.Clock.Now()
	t.stats.AddHours(t.increment)
	t.stats.Touch(now)
	t.persistLocked()
	uid, sid, hours := t.ident.UserID, t.sessionID, t.stats.StudyHours
	t.mu.Unlock()

	t.writer.set(study.LastActiveKey(uid), EncodeLastActive(now))
	t.publish(shared.NewSessionTickedEvent(uid, sid, hours, now))
	return true
}

// RecordQuizCompletion counts a completed quiz. The daily goal flag is set
// once the cumulative count reaches study.DailyGoalThreshold.
func (t *Tracker) RecordQuizCompletion(ctx context.Context) (Snapshot, error) {
	t.reconcile(ctx)

	t.mu.Lock()
	if t.state != StateActive {
		snap := t.snapshotLocked()
		t.mu.Unlock()
		return snap, shared.ErrNotActive
	}
	now := t.opts.Clock.Now()
	t.lastSeen = now
	t.stats.RecordQuiz()
	t.stats.Touch(now)
	t.persistLocked()
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.log.Info("quiz completed",
		logger.UserID(snap.UserID),
		logger.Int("completed_quizzes", snap.Stats.CompletedQuizzes),
		logger.Bool("daily_goal_met", snap.Stats.DailyGoalMet),
	)
	t.publish(shared.NewQuizCompletedEvent(snap.UserID, snap.Stats.CompletedQuizzes, snap.Stats.DailyGoalMet, now))
	return snap, nil
}

// EndSession adds the wall-clock hours since the session start, waits for the
// final stats to be written and returns to Idle. Without an active session it
// is a no-op. The session ends even when ctx expires before the final write
// lands; the write still completes in the background.
func (t *Tracker) EndSession(ctx context.Context) (Snapshot, error) {
	snap, _ := t.endSession(ctx)
	return snap, nil
}

// endSession is EndSession that also reports a flush cut short by ctx.
func (t *Tracker) endSession(ctx context.Context) (Snapshot, error) {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	return t.endSessionLocked(ctx, t.opts.Clock.Now())
}

// Heartbeat records client activity on the active session.
func (t *Tracker) Heartbeat() (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return t.snapshotLocked(), shared.ErrNotActive
	}
	t.lastSeen = t.opts.Clock.Now()
	return t.snapshotLocked(), nil
}

// expireIdle ends the session if its client has not been seen for timeout.
// Elapsed time is credited up to the last activity. It does not wait for a
// lifecycle call in progress.
func (t *Tracker) expireIdle(ctx context.Context, timeout time.Duration) bool {
	if !t.lifecycle.TryLock() {
		return false
	}
	defer t.lifecycle.Unlock()

	t.mu.Lock()
	active, seen, uid := t.state == StateActive, t.lastSeen, t.ident.UserID
	t.mu.Unlock()
	if !active {
		return false
	}
	idle := t.opts.Clock.Now().Sub(seen)
	if idle < timeout {
		return false
	}

	t.log.Info("ending abandoned session",
		logger.UserID(uid),
		logger.Duration("idle", idle),
	)
	t.endSessionLocked(ctx, seen)
	return true
}

// endSessionLocked ends the session as of end. It requires t.lifecycle and
// returns a non-nil error only when ctx expired before the final flush.
func (t *Tracker) endSessionLocked(ctx context.Context, end time.Time) (Snapshot, error) {
	t.reconcile(ctx)

	t.mu.Lock()
	if t.state != StateActive || t.start.IsZero() {
		snap := t.snapshotLocked()
		t.mu.Unlock()
		return snap, nil
	}
	t.state = StateEnding
	if end.Before(t.start) {
		end = t.start
	}
	elapsed := end.Sub(t.start)
	t.stats.AddHours(timeutil.HoursSince(t.start, end))
	t.stats.Touch(end)
	if t.unverified {
		t.log.Warn("persisted stats still unreadable, session hours not saved",
			logger.UserID(t.ident.UserID),
			logger.Float64("session_hours", timeutil.HoursSince(t.start, end)),
		)
	}
	t.persistLocked()
	uid, sid, hours := t.ident.UserID, t.sessionID, t.stats.StudyHours
	t.mu.Unlock()

	t.writer.remove(study.StudyStartKey(uid))
	t.writer.set(study.LastActiveKey(uid), EncodeLastActive(end))

	err := t.writer.drain(ctx)
	if err != nil {
		t.log.Warn("final stats not flushed before deadline",
			logger.UserID(uid),
			logger.Err(err),
		)
	}

	t.mu.Lock()
	t.state = StateIdle
	t.start = time.Time{}
	t.sessionID = ""
	t.lastSeen = time.Time{}
	t.unverified = false
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.log.Info("study session ended",
		logger.UserID(uid),
		logger.SessionID(sid),
		logger.Duration("elapsed", elapsed),
		logger.Float64("study_hours", hours),
	)
	t.publish(shared.NewSessionEndedEvent(uid, sid, elapsed, hours, end))

	return snap, err
}

// Persist writes the current stats and waits for the write queue to drain.
func (t *Tracker) Persist(ctx context.Context) error {
	t.mu.Lock()
	if t.ident.IsZero() {
		t.mu.Unlock()
		return nil
	}
	t.persistLocked()
	t.mu.Unlock()
	return t.writer.drain(ctx)
}

// persistLocked queues the current stats record unless the stored record is
// unverified. Requires t.mu.
func (t *Tracker) persistLocked() {
	if t.unverified {
		return
	}
	data, err := EncodeStats(t.stats)
	if err != nil {
		t.log.Error("encode stats failed", logger.UserID(t.ident.UserID), logger.Err(err))
		return
	}
	t.writer.set(study.StatsKey(t.ident.UserID), data)
}

// reconcile retries the read of a record that failed to load at session start.
// On success the stored stats absorb this session's hours and quizzes, the
// streak is recomputed against the stored last study date and writes resume.
func (t *Tracker) reconcile(ctx context.Context) {
	t.mu.Lock()
	if !t.unverified || t.state != StateActive {
		t.mu.Unlock()
		return
	}
	uid, sid := t.ident.UserID, t.sessionID
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, t.opts.WriteTimeout)
	defer cancel()
	log := t.log.With(logger.UserID(uid))
	restored := Restore(ctx, t.store, uid, t.opts.Location, log)
	if restored.Failed {
		return
	}

	t.mu.Lock()
	if !t.unverified || t.sessionID != sid {
		t.mu.Unlock()
		return
	}
	loc := t.opts.Location
	merged := restored.Stats
	merged.AddHours(t.stats.StudyHours)
	merged.CompletedQuizzes += t.stats.CompletedQuizzes
	merged.DailyGoalMet = merged.DailyGoalMet || merged.CompletedQuizzes >= study.DailyGoalThreshold
	previous := restored.Stats.Streak
	next, outcome := study.StreakTransition(t.start, restored.LastStudyDate, previous, loc)
	merged.Streak = next
	merged.LastUpdated = t.stats.LastUpdated
	t.stats = merged
	t.unverified = false
	t.persistLocked()
	start := t.start
	t.mu.Unlock()

	t.writer.set(study.LastStudyDateKey(uid), EncodeLastStudyDate(start, loc))

	log.Info("persisted stats recovered",
		logger.Float64("study_hours", merged.StudyHours),
		logger.Int("streak", next),
	)
	if outcome != study.StreakKept {
		t.publish(shared.NewStreakUpdatedEvent(uid, previous, next, outcome == study.StreakReset, start))
	}
}

// Snapshot returns a copy of the tracker's state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		UserID:        t.ident.UserID,
		DisplayName:   t.ident.Name(),
		State:         t.state,
		SessionID:     t.sessionID,
		SessionStart:  t.start,
		LastStudyDate: t.lastStudyDate,
		Stats:         t.stats,
	}
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// retire closes an idle tracker. It fails without blocking if a lifecycle
// call is running or a session is active.
func (t *Tracker) retire() bool {
	if !t.lifecycle.TryLock() {
		return false
	}
	defer t.lifecycle.Unlock()

	t.mu.Lock()
	if t.state != StateIdle || t.closed {
		t.mu.Unlock()
		return false
	}
	t.closed = true
	t.mu.Unlock()

	t.writer.close()
	return true
}

// Close stops the background writer after draining it. It does not end an
// active session; call EndSession first.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.writer.close()
}

func (t *Tracker) publish(ev shared.Event) {
	if err := t.opts.Publisher.Publish(ev); err != nil {
		t.log.Debug("publish event failed",
			logger.String("event_type", string(ev.EventType())),
			logger.Err(err),
		)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RESTORE
// ══════════════════════════════════════════════════════════════════════════════

// Restored is the persisted state of a user.
type Restored struct {
	Stats         study.Stats
	LastStudyDate time.Time
	// StaleStart is a session start marker left by a session that never ended.
	StaleStart time.Time
	// Failed reports that the stats or last study date could not be read.
	// Missing and corrupt values do not set it.
	Failed bool
}

// Restore reads a user's persisted state. Missing keys yield zero values.
// Read failures and corrupt values are logged and also yield zero values;
// read failures additionally set Failed.
func Restore(ctx context.Context, store study.Store, userID string, loc *time.Location, log *logger.Logger) Restored {
	var r Restored
	if log == nil {
		log = logger.Nop()
	}

	raw, ok, err := readKey(ctx, store, study.StatsKey(userID), log)
	r.Failed = err != nil
	if ok {
		stats, err := DecodeStats(raw)
		if err != nil {
			log.Error("stats record unreadable, using defaults",
				logger.Key(study.StatsKey(userID)),
				logger.Err(err),
			)
		} else {
			r.Stats = stats
		}
	}

	raw, ok, err = readKey(ctx, store, study.LastStudyDateKey(userID), log)
	r.Failed = r.Failed || err != nil
	if ok {
		d, err := DecodeLastStudyDate(raw, loc)
		if err != nil {
			log.Error("last study date unreadable, ignoring",
				logger.Key(study.LastStudyDateKey(userID)),
				logger.Err(err),
			)
		} else {
			r.LastStudyDate = d
		}
	}

	if raw, ok, _ := readKey(ctx, store, study.StudyStartKey(userID), log); ok {
		if start, err := DecodeStudyStart(raw, loc); err == nil {
			r.StaleStart = start
		} else {
			log.Warn("session start marker unreadable", logger.Err(err))
		}
	}

	return r
}

func readKey(ctx context.Context, store study.Store, key string, log *logger.Logger) (string, bool, error) {
	raw, found, err := store.Get(ctx, key)
	if err != nil {
		err = shared.ErrStorageRead.Wrap(err)
		log.Error("store read failed", logger.Key(key), logger.Err(err))
		return "", false, err
	}
	return raw, found, nil
}
