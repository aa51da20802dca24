package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/study-companion/internal/domain/identity"
	"github.com/studyhub/study-companion/internal/domain/shared"
	"github.com/studyhub/study-companion/internal/domain/study"
	"github.com/studyhub/study-companion/internal/infrastructure/persistence/memory"
)

// ══════════════════════════════════════════════════════════════════════════════
// TEST DOUBLES
// ══════════════════════════════════════════════════════════════════════════════

var testLoc = time.FixedZone("UTC+5", 5*60*60)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(ev shared.Event) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.EventType())
	}
	return out
}

// flakyStore fails reads or writes on demand.
type flakyStore struct {
	*memory.Store
	mu        sync.Mutex
	failRead  bool
	failWrite bool
	// readFailures fails the next n reads of a key.
	readFailures map[string]int
	setDelay     time.Duration
}

func (s *flakyStore) failNextReads(key string, n int) {
	s.mu.Lock()
	if s.readFailures == nil {
		s.readFailures = make(map[string]int)
	}
	s.readFailures[key] = n
	s.mu.Unlock()
}

func (s *flakyStore) slowWrites(d time.Duration) {
	s.mu.Lock()
	s.setDelay = d
	s.mu.Unlock()
}

func (s *flakyStore) setFail(read, write bool) {
	s.mu.Lock()
	s.failRead, s.failWrite = read, write
	s.mu.Unlock()
}

func (s *flakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	fail := s.failRead
	if n := s.readFailures[key]; n > 0 {
		s.readFailures[key] = n - 1
		fail = true
	}
	s.mu.Unlock()
	if fail {
		return "", false, errors.New("disk on fire")
	}
	return s.Store.Get(ctx, key)
}

func (s *flakyStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	fail, delay := s.failWrite, s.setDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return errors.New("disk full")
	}
	return s.Store.Set(ctx, key, value)
}

func newTestTracker(t *testing.T, store study.Store, clock Clock) (*Tracker, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	tr := New(store, Options{
		Location:     testLoc,
		TickInterval: time.Minute,
		Clock:        clock,
		Publisher:    pub,
	})
	t.Cleanup(tr.Close)
	return tr, pub
}

func alice() identity.Identity {
	return identity.Identity{UserID: "alice", DisplayName: "Alice", Email: "alice@example.com"}
}

func mustGet(t *testing.T, s study.Store, key string) (string, bool) {
	t.Helper()
	v, ok, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	return v, ok
}

// ══════════════════════════════════════════════════════════════════════════════
// INITIALIZE
// ══════════════════════════════════════════════════════════════════════════════

func TestInitializeSession_NewUserGetsDefaults(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc))
	tr, pub := newTestTracker(t, memory.New(), clock)

	snap, err := tr.InitializeSession(ctx, alice())
	require.NoError(t, err)

	assert.Equal(t, StateActive, snap.State)
	assert.Equal(t, 1, snap.Stats.Streak)
	assert.Equal(t, 0.0, snap.Stats.StudyHours)
	assert.Equal(t, 0, snap.Stats.CompletedQuizzes)
	assert.NotEmpty(t, snap.SessionID)
	assert.Equal(t, clock.Now(), snap.SessionStart)
	assert.Contains(t, pub.types(), shared.EventSessionStarted)
	assert.Contains(t, pub.types(), shared.EventStreakUpdated)
}

func TestInitializeSession_NoIdentityStaysIdle(t *testing.T) {
	tr, _ := newTestTracker(t, memory.New(), newFakeClock(time.Now()))

	snap, err := tr.InitializeSession(context.Background(), identity.Identity{})
	assert.ErrorIs(t, err, shared.ErrNoIdentity)
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, StateIdle, tr.State())
}

func TestInitializeSession_PersistsMarkers(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc)
	tr, _ := newTestTracker(t, store, newFakeClock(now))

	_, err := tr.InitializeSession(ctx, alice())
	require.NoError(t, err)
	require.NoError(t, tr.Persist(ctx))

	start, ok := mustGet(t, store, study.StudyStartKey("alice"))
	require.True(t, ok)
	assert.Equal(t, EncodeStudyStart(now), start)

	date, ok := mustGet(t, store, study.LastStudyDateKey("alice"))
	require.True(t, ok)
	assert.Equal(t, "2024-03-10", date)

	_, ok = mustGet(t, store, study.LastActiveKey("alice"))
	assert.True(t, ok)

	raw, ok := mustGet(t, store, study.StatsKey("alice"))
	require.True(t, ok)
	stats, err := DecodeStats(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Streak)
}

func TestInitializeSession_SameUserIsNoop(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc))
	tr, _ := newTestTracker(t, memory.New(), clock)

	first, err := tr.InitializeSession(ctx, alice())
	require.NoError(t, err)
	tr.Tick()

	clock.Advance(time.Hour)
	second, err := tr.InitializeSession(ctx, alice())
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.SessionStart, second.SessionStart)
	assert.InDelta(t, 1.0/60, second.Stats.StudyHours, 1e-9)
}

func TestInitializeSession_OtherUserEndsPrevious(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc))
	tr, _ := newTestTracker(t, store, clock)

	_, err := tr.InitializeSession(ctx, alice())
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)

	snap, err := tr.InitializeSession(ctx, identity.Identity{UserID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "bob", snap.UserID)
	assert.Equal(t, StateActive, snap.State)

	_, ok := mustGet(t, store, study.StudyStartKey("alice"))
	assert.False(t, ok)

	r := Restore(ctx, store, "alice", testLoc, nil)
	assert.InDelta(t, 0.5, r.Stats.StudyHours, 1e-9)
}

func TestInitializeSession_StaleStartDiscarded(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc)
	require.NoError(t, store.Set(ctx, study.StudyStartKey("alice"), EncodeStudyStart(now.Add(-48*time.Hour))))
	require.NoError(t, store.Set(ctx, study.StatsKey("alice"), `{"studyHours":2,"streak":3}`))

	tr, _ := newTestTracker(t, store, newFakeClock(now))
	snap, err := tr.InitializeSession(ctx, alice())
	require.NoError(t, err)

	assert.Equal(t, 2.0, snap.Stats.StudyHours)
	assert.Equal(t, now, snap.SessionStart)
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK ACROSS SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

func runSessionOn(t *testing.T, store study.Store, at time.Time) Snapshot {
	t.Helper()
	ctx := context.Background()
	clock := newFakeClock(at)
	tr, _ := newTestTracker(t, store, clock)

	snap, err := tr.InitializeSession(ctx, alice())
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	_, err = tr.EndSession(ctx)
	require.NoError(t, err)
	return snap
}

func TestStreak_ConsecutiveDaysIncrement(t *testing.T) {
	store := memory.New()
	assert.Equal(t, 1, runSessionOn(t, store, time.Date(2024, 3, 1, 20, 0, 0, 0, testLoc)).Stats.Streak)
	assert.Equal(t, 2, runSessionOn(t, store, time.Date(2024, 3, 2, 8, 0, 0, 0, testLoc)).Stats.Streak)
	assert.Equal(t, 2, runSessionOn(t, store, time.Date(2024, 3, 2, 22, 0, 0, 0, testLoc)).Stats.Streak)
	assert.Equal(t, 3, runSessionOn(t, store, time.Date(2024, 3, 3, 0, 5, 0, 0, testLoc)).Stats.Streak)
}

func TestStreak_SkippedDayResetsToOne(t *testing.T) {
	store := memory.New()
	assert.Equal(t, 1, runSessionOn(t, store, time.Date(2024, 3, 1, 9, 0, 0, 0, testLoc)).Stats.Streak)
	assert.Equal(t, 1, runSessionOn(t, store, time.Date(2024, 3, 3, 9, 0, 0, 0, testLoc)).Stats.Streak)
}

// ══════════════════════════════════════════════════════════════════════════════
// TICK / QUIZ / END
// ══════════════════════════════════════════════════════════════════════════════

func TestTick_AddsFixedIncrementRegardlessOfWallTime(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc))
	tr, pub := newTestTracker(t, memory.New(), clock)

	assert.False(t, tr.Tick(), "idle tracker must not tick")

	_, err := tr.InitializeSession(ctx, alice())
	require.NoError(t, err)

	const n = 37
	for i := 0; i < n; i++ {
		clock.Advance(5 * time.Minute)
		assert.True(t, tr.Tick())
	}

	assert.InDelta(t, float64(n)/60, tr.Snapshot().Stats.StudyHours, 1e-9)
	assert.Contains(t, pub.types(), shared.EventSessionTicked)
}

func TestTick_ScalesWithInterval(t *testing.T) {
	ctx := context.Background()
	tr := New(memory.New(), Options{
		Location:     testLoc,
		TickInterval: 30 * time.Second,
		Clock:        newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc)),
	})
	defer tr.Close()

	_, err := tr.InitializeSession(ctx, alice())
	require.NoError(t, err)
	tr.Tick()
	tr.Tick()
	assert.InDelta(t, 1.0/60, tr.Snapshot().Stats.StudyHours, 1e-9)
}

func TestRecordQuizCompletion_GoalOnFifth(t *testing.T) {
	ctx := context.Background()
	tr, pub := newTestTracker(t, memory.New(), newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc)))

	_, err := tr.RecordQuizCompletion(ctx)
	assert.ErrorIs(t, err, shared.ErrNotActive)

	_, err = tr.InitializeSession(ctx, alice())
	require.NoError(t, err)

	var snap Snapshot
	for i := 1; i <= 5; i++ {
		snap, err = tr.RecordQuizCompletion(ctx)
		require.NoError(t, err)
		if i < 5 {
			assert.False(t, snap.Stats.DailyGoalMet, "quiz %d", i)
		}
	}
	assert.True(t, snap.Stats.DailyGoalMet)
	assert.Equal(t, 5, snap.Stats.CompletedQuizzes)
	assert.Contains(t, pub.types(), shared.EventQuizCompleted)
}

func TestEndSession_AddsElapsedHoursAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc))
	tr, pub := newTestTracker(t, store, clock)

	_, err := tr.InitializeSession(ctx, alice())
	require.NoError(t, err)

	clock.Advance(90 * time.Minute)
	snap, err := tr.EndSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, snap.State)
	assert.InDelta(t, 1.5, snap.Stats.StudyHours, 1e-9)

	// Durable without any further drain.
	raw, ok := mustGet(t, store, study.StatsKey("alice"))
	require.True(t, ok)
	stored, err := DecodeStats(raw)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, stored.StudyHours, 1e-9)

	_, ok = mustGet(t, store, study.StudyStartKey("alice"))
	assert.False(t, ok)
	_, ok = mustGet(t, store, study.LastActiveKey("alice"))
	assert.True(t, ok)

	clock.Advance(time.Hour)
	again, err := tr.EndSession(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, again.Stats.StudyHours, 1e-9)

	ended := 0
	for _, typ := range pub.types() {
		if typ == shared.EventSessionEnded {
			ended++
		}
	}
	assert.Equal(t, 1, ended)
}

func TestEndSession_AddsElapsedOnTopOfTicks(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc))
	tr, _ := newTestTracker(t, memory.New(), clock)

	_, err := tr.InitializeSession(ctx, alice())
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		clock.Advance(time.Minute)
		tr.Tick()
	}

	snap, err := tr.EndSession(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.5+0.5, snap.Stats.StudyHours, 1e-9)
}

func TestEndSession_WithoutStartIsNoop(t *testing.T) {
	tr, pub := newTestTracker(t, memory.New(), newFakeClock(time.Now()))
	snap, err := tr.EndSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, pub.types())
}

// ══════════════════════════════════════════════════════════════════════════════
// PERSIST / RESTORE
// ══════════════════════════════════════════════════════════════════════════════

func TestPersistRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc))
	tr, _ := newTestTracker(t, store, clock)

	_, err := tr.InitializeSession(ctx, alice())
	require.NoError(t, err)
	tr.Tick()
	_, err = tr.RecordQuizCompletion(ctx)
	require.NoError(t, err)
	require.NoError(t, tr.Persist(ctx))

	live := tr.Snapshot().Stats
	restored := Restore(ctx, store, "alice", testLoc, nil)
	assert.True(t, live.Equal(restored.Stats), "live=%+v restored=%+v", live, restored.Stats)
	assert.Equal(t, "2024-03-10", EncodeLastStudyDate(restored.LastStudyDate, testLoc))
}

func TestRestore_CorruptRecordFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Set(ctx, study.StatsKey("alice"), "{not json"))
	require.NoError(t, store.Set(ctx, study.LastStudyDateKey("alice"), "yesterday"))

	r := Restore(ctx, store, "alice", testLoc, nil)
	assert.True(t, r.Stats.Equal(study.Stats{}))
	assert.True(t, r.LastStudyDate.IsZero())

	tr, _ := newTestTracker(t, store, newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc)))
	snap, err := tr.InitializeSession(ctx, alice())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Stats.Streak)
}

func TestStorageFailuresAreNotSurfaced(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.New()}
	store.setFail(true, true)
	clock := newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc))
	tr, _ := newTestTracker(t, store, clock)

	snap, err := tr.InitializeSession(ctx, alice())
	require.NoError(t, err)
	assert.Equal(t, StateActive, snap.State)
	assert.Equal(t, 1, snap.Stats.Streak)

	assert.True(t, tr.Tick())
	_, err = tr.RecordQuizCompletion(ctx)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	snap, err = tr.EndSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, snap.State)

	// A failed write is lost, not retried.
	_, ok, _ := store.Store.Get(ctx, study.StatsKey("alice"))
	assert.False(t, ok)
}

func seedHistory(t *testing.T, store study.Store, lastStudy time.Time) string {
	t.Helper()
	ctx := context.Background()
	const raw = `{"studyHours":120.5,"completedQuizzes":40,"streak":9}`
	require.NoError(t, store.Set(ctx, study.StatsKey("alice"), raw))
	require.NoError(t, store.Set(ctx, study.LastStudyDateKey("alice"), EncodeLastStudyDate(lastStudy, testLoc)))
	return raw
}

func TestRestore_ReportsReadFailureSeparately(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.New()}

	r := Restore(ctx, store, "alice", testLoc, nil)
	assert.False(t, r.Failed, "missing keys are not a failure")

	require.NoError(t, store.Set(ctx, study.StatsKey("alice"), "{not json"))
	r = Restore(ctx, store, "alice", testLoc, nil)
	assert.False(t, r.Failed, "corrupt record is not a failure")

	store.failNextReads(study.LastStudyDateKey("alice"), 1)
	r = Restore(ctx, store, "alice", testLoc, nil)
	assert.True(t, r.Failed)
}

func TestTransientReadFailureKeepsHistory(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.New()}
	seedHistory(t, store, time.Date(2024, 3, 9, 18, 0, 0, 0, testLoc))
	store.failNextReads(study.StatsKey("alice"), 1)

	clock := newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc))
	tr, pub := newTestTracker(t, store, clock)

	_, err := tr.InitializeSession(ctx, alice())
	require.NoError(t, err)
	require.NoError(t, tr.Persist(ctx))

	// Nothing is written over the record while it is unreadable.
	raw, _ := mustGet(t, store, study.StatsKey("alice"))
	stored, err := DecodeStats(raw)
	require.NoError(t, err)
	assert.InDelta(t, 120.5, stored.StudyHours, 1e-9)

	// The next tick reads the record and folds this session into it.
	require.True(t, tr.Tick())
	snap := tr.Snapshot()
	assert.InDelta(t, 120.5+1.0/60, snap.Stats.StudyHours, 1e-9)
	assert.Equal(t, 40, snap.Stats.CompletedQuizzes)
	assert.Equal(t, 10, snap.Stats.Streak)
	assert.Contains(t, pub.types(), shared.EventStreakUpdated)

	clock.Advance(time.Minute)
	_, err = tr.EndSession(ctx)
	require.NoError(t, err)

	raw, _ = mustGet(t, store, study.StatsKey("alice"))
	stored, err = DecodeStats(raw)
	require.NoError(t, err)
	assert.InDelta(t, 120.5+2.0/60, stored.StudyHours, 1e-9)
	assert.Equal(t, 40, stored.CompletedQuizzes)
	assert.Equal(t, 10, stored.Streak)

	date, _ := mustGet(t, store, study.LastStudyDateKey("alice"))
	assert.Equal(t, "2024-03-10", date)
}

func TestUnreadableRecordIsNeverOverwritten(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.New()}
	seed := seedHistory(t, store, time.Date(2024, 3, 9, 18, 0, 0, 0, testLoc))
	store.failNextReads(study.StatsKey("alice"), 1000)

	clock := newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc))
	tr, _ := newTestTracker(t, store, clock)

	_, err := tr.InitializeSession(ctx, alice())
	require.NoError(t, err)
	tr.Tick()
	_, err = tr.RecordQuizCompletion(ctx)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	snap, err := tr.EndSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, snap.State)

	raw, _ := mustGet(t, store, study.StatsKey("alice"))
	assert.Equal(t, seed, raw)
	date, _ := mustGet(t, store, study.LastStudyDateKey("alice"))
	assert.Equal(t, "2024-03-09", date)
}

func TestEndSession_SlowFlushStillEnds(t *testing.T) {
	store := &flakyStore{Store: memory.New()}
	clock := newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc))
	tr, pub := newTestTracker(t, store, clock)

	_, err := tr.InitializeSession(context.Background(), alice())
	require.NoError(t, err)
	store.slowWrites(200 * time.Millisecond)

	clock.Advance(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	snap, err := tr.EndSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, StateIdle, tr.State())
	assert.Contains(t, pub.types(), shared.EventSessionEnded)

	// The final write still lands.
	tr.Close()
	raw, _ := mustGet(t, store, study.StatsKey("alice"))
	stored, err := DecodeStats(raw)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, stored.StudyHours, 1e-9)
}

func TestWritesLandInOrder(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	tr, _ := newTestTracker(t, store, newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc)))

	_, err := tr.InitializeSession(ctx, alice())
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		tr.Tick()
	}
	require.NoError(t, tr.Persist(ctx))

	raw, _ := mustGet(t, store, study.StatsKey("alice"))
	stored, err := DecodeStats(raw)
	require.NoError(t, err)
	assert.InDelta(t, 200.0/60, stored.StudyHours, 1e-9)
}
