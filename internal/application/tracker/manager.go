package tracker

import (
	"context"
	"errors"
	"sync"

	"github.com/studyhub/study-companion/internal/domain/identity"
	"github.com/studyhub/study-companion/internal/domain/shared"
	"github.com/studyhub/study-companion/internal/domain/study"
	"github.com/studyhub/study-companion/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION MANAGER
// One tracker per user; the scheduler drives Tick for all of them.
// ══════════════════════════════════════════════════════════════════════════════

// Manager hosts the trackers of many users.
type Manager struct {
	store study.Store
	opts  Options
	log   *logger.Logger

	mu       sync.RWMutex
	trackers map[string]*Tracker
}

// NewManager creates a manager whose trackers write to store.
func NewManager(store study.Store, opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		store:    store,
		opts:     opts,
		log:      opts.Logger.With(logger.Component("session_manager")),
		trackers: make(map[string]*Tracker),
	}
}

func (m *Manager) tracker(userID string, create bool) *Tracker {
	m.mu.RLock()
	t, ok := m.trackers[userID]
	m.mu.RUnlock()
	if ok || !create {
		return t
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok = m.trackers[userID]; ok {
		return t
	}
	t = New(m.store, m.opts)
	m.trackers[userID] = t
	return t
}

// Start initializes a session for id, creating its tracker on demand.
func (m *Manager) Start(ctx context.Context, id identity.Identity) (Snapshot, error) {
	if id.IsZero() {
		return Snapshot{State: StateIdle}, shared.ErrNoIdentity
	}

	for {
		t := m.tracker(id.UserID, true)
		snap, err := t.InitializeSession(ctx, id)
		if errors.Is(err, errTrackerClosed) {
			// Retired by Sweep between lookup and call; the map no longer holds it.
			continue
		}
		return snap, err
	}
}

func (m *Manager) snapshotTrackers() []*Tracker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trackers := make([]*Tracker, 0, len(m.trackers))
	for _, t := range m.trackers {
		trackers = append(trackers, t)
	}
	return trackers
}

// Tick ticks every active tracker and returns how many were active.
func (m *Manager) Tick() int {
	ticked := 0
	for _, t := range m.snapshotTrackers() {
		if t.Tick() {
			ticked++
		}
	}
	return ticked
}

// RecordQuiz counts a completed quiz for userID's active session.
func (m *Manager) RecordQuiz(ctx context.Context, userID string) (Snapshot, error) {
	t := m.tracker(userID, false)
	if t == nil {
		return Snapshot{UserID: userID, State: StateIdle}, shared.ErrNotActive
	}
	return t.RecordQuizCompletion(ctx)
}

// End ends userID's session. Ending a user without a session returns the
// persisted stats and no error.
func (m *Manager) End(ctx context.Context, userID string) (Snapshot, error) {
	t := m.tracker(userID, false)
	if t == nil {
		return m.Stats(ctx, userID)
	}
	return t.EndSession(ctx)
}

// Heartbeat marks userID's active session as still in use.
func (m *Manager) Heartbeat(userID string) (Snapshot, error) {
	t := m.tracker(userID, false)
	if t == nil {
		return Snapshot{UserID: userID, State: StateIdle}, shared.ErrNotActive
	}
	return t.Heartbeat()
}

// Stats returns the live snapshot of an active session, or the persisted
// stats when the user has none. Reading an active session counts as activity.
func (m *Manager) Stats(ctx context.Context, userID string) (Snapshot, error) {
	if userID == "" {
		return Snapshot{State: StateIdle}, shared.ErrNoIdentity
	}
	if t := m.tracker(userID, false); t != nil {
		if snap, err := t.Heartbeat(); err == nil {
			return snap, nil
		}
	}

	r := Restore(ctx, m.store, userID, m.opts.Location, m.log.With(logger.UserID(userID)))
	return Snapshot{
		UserID:        userID,
		DisplayName:   shared.DefaultDisplayName,
		State:         StateIdle,
		LastStudyDate: r.LastStudyDate,
		Stats:         r.Stats,
	}, nil
}

// ActiveSessions returns the number of trackers in the Active state.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, t := range m.trackers {
		if t.State() == StateActive {
			n++
		}
	}
	return n
}

// ExpireIdle ends active sessions whose client has been silent for longer
// than Options.IdleTimeout and returns how many were ended.
func (m *Manager) ExpireIdle(ctx context.Context) int {
	if m.opts.IdleTimeout <= 0 {
		return 0
	}

	ended := 0
	for _, t := range m.snapshotTrackers() {
		if t.expireIdle(ctx, m.opts.IdleTimeout) {
			ended++
		}
	}
	if ended > 0 {
		m.log.Info("abandoned sessions ended", logger.Int("count", ended))
	}
	return ended
}

// Sweep ends abandoned sessions, then retires idle trackers. It returns how
// many trackers were removed.
func (m *Manager) Sweep(ctx context.Context) int {
	m.ExpireIdle(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for uid, t := range m.trackers {
		if t.retire() {
			delete(m.trackers, uid)
			removed++
		}
	}
	if removed > 0 {
		m.log.Debug("idle trackers retired", logger.Int("count", removed))
	}
	return removed
}

// EndAll ends every active session. It is called on shutdown and reports
// sessions whose final write had not landed when ctx expired.
func (m *Manager) EndAll(ctx context.Context) error {
	var errs []error
	for _, t := range m.snapshotTrackers() {
		if _, err := t.endSession(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Close stops every tracker's writer. Call EndAll first.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uid, t := range m.trackers {
		t.Close()
		delete(m.trackers, uid)
	}
}
