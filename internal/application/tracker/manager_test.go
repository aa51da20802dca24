package tracker

import (
	"context"
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

func newTestManager(t *testing.T, clock Clock) (*Manager, *memory.Store) {
	t.Helper()
	store := memory.New()
	m := NewManager(store, Options{Location: testLoc, Clock: clock})
	t.Cleanup(m.Close)
	return m, store
}

func TestManager_TicksOnlyActiveUsers(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc)))

	_, err := m.Start(ctx, identity.Identity{UserID: "a"})
	require.NoError(t, err)
	_, err = m.Start(ctx, identity.Identity{UserID: "b"})
	require.NoError(t, err)

	assert.Equal(t, 2, m.Tick())
	_, err = m.End(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Tick())
	assert.Equal(t, 1, m.ActiveSessions())

	a, err := m.Stats(ctx, "a")
	require.NoError(t, err)
	assert.InDelta(t, 2.0/60, a.Stats.StudyHours, 1e-9)

	b, err := m.Stats(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, b.State)
	assert.InDelta(t, 1.0/60, b.Stats.StudyHours, 1e-9)
}

func TestManager_ErrorsForMissingSession(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, newFakeClock(time.Now()))

	_, err := m.Start(ctx, identity.Identity{})
	assert.ErrorIs(t, err, shared.ErrNoIdentity)

	_, err = m.RecordQuiz(ctx, "ghost")
	assert.ErrorIs(t, err, shared.ErrNotActive)

	snap, err := m.End(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, snap.State)
}

func TestManager_SweepRetiresIdleTrackers(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc))
	m, _ := newTestManager(t, clock)

	_, err := m.Start(ctx, identity.Identity{UserID: "a"})
	require.NoError(t, err)
	_, err = m.Start(ctx, identity.Identity{UserID: "b"})
	require.NoError(t, err)
	_, err = m.End(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, 1, m.Sweep(ctx))
	assert.Equal(t, 0, m.Sweep(ctx))

	// A retired user can start again and keeps the persisted streak.
	snap, err := m.Start(ctx, identity.Identity{UserID: "a"})
	require.NoError(t, err)
	assert.Equal(t, StateActive, snap.State)
	assert.Equal(t, 1, snap.Stats.Streak)
}

func TestManager_EndAllFlushesEverySession(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc))
	m, store := newTestManager(t, clock)

	for _, uid := range []string{"a", "b", "c"} {
		_, err := m.Start(ctx, identity.Identity{UserID: uid})
		require.NoError(t, err)
	}
	clock.Advance(time.Hour)

	require.NoError(t, m.EndAll(ctx))
	assert.Equal(t, 0, m.ActiveSessions())

	for _, uid := range []string{"a", "b", "c"} {
		r := Restore(ctx, store, uid, testLoc, nil)
		assert.InDelta(t, 1.0, r.Stats.StudyHours, 1e-9, uid)
	}
}

func TestManager_ConcurrentUsers(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc)))

	var wg sync.WaitGroup
	for _, uid := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			_, err := m.Start(ctx, identity.Identity{UserID: uid})
			assert.NoError(t, err)
			for i := 0; i < 5; i++ {
				_, err := m.RecordQuiz(ctx, uid)
				assert.NoError(t, err)
			}
		}(uid)
	}
	wg.Wait()

	for _, uid := range []string{"a", "b", "c", "d"} {
		snap, err := m.Stats(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, 5, snap.Stats.CompletedQuizzes)
		assert.True(t, snap.Stats.DailyGoalMet)
	}
}

func TestManager_ExpireIdleEndsAbandonedSessions(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc))
	store := memory.New()
	m := NewManager(store, Options{Location: testLoc, Clock: clock, IdleTimeout: 30 * time.Minute})
	t.Cleanup(m.Close)

	_, err := m.Start(ctx, identity.Identity{UserID: "a"})
	require.NoError(t, err)
	_, err = m.Start(ctx, identity.Identity{UserID: "b"})
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	_, err = m.RecordQuiz(ctx, "a")
	require.NoError(t, err)

	clock.Advance(15 * time.Minute)
	_, err = m.Heartbeat("b")
	require.NoError(t, err)

	clock.Advance(25 * time.Minute)
	assert.Equal(t, 1, m.ExpireIdle(ctx))
	assert.Equal(t, 1, m.ActiveSessions())

	// Time is credited up to the last request, not up to the sweep.
	a := Restore(ctx, store, "a", testLoc, nil)
	assert.InDelta(t, 10.0/60, a.Stats.StudyHours, 1e-9)
	assert.Equal(t, 1, a.Stats.CompletedQuizzes)
	_, started, err := store.Get(ctx, study.StudyStartKey("a"))
	require.NoError(t, err)
	assert.False(t, started)

	b, err := m.Stats(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, StateActive, b.State)

	// Sweep ends b once it too goes quiet, then retires both trackers.
	clock.Advance(31 * time.Minute)
	assert.Equal(t, 2, m.Sweep(ctx))
	assert.Equal(t, 0, m.ActiveSessions())
}

func TestManager_ExpireIdleDisabledByDefault(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc))
	m, _ := newTestManager(t, clock)

	_, err := m.Start(ctx, identity.Identity{UserID: "a"})
	require.NoError(t, err)
	clock.Advance(24 * time.Hour)

	assert.Equal(t, 0, m.ExpireIdle(ctx))
	assert.Equal(t, 1, m.ActiveSessions())
}

func TestManager_HeartbeatWithoutSession(t *testing.T) {
	m, _ := newTestManager(t, newFakeClock(time.Now()))

	snap, err := m.Heartbeat("ghost")
	assert.ErrorIs(t, err, shared.ErrNotActive)
	assert.Equal(t, StateIdle, snap.State)
}

func TestManager_SlowFlushEndsWithoutError(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, testLoc))
	store := &flakyStore{Store: memory.New()}
	m := NewManager(store, Options{Location: testLoc, Clock: clock})
	t.Cleanup(m.Close)

	for _, uid := range []string{"a", "b"} {
		_, err := m.Start(context.Background(), identity.Identity{UserID: uid})
		require.NoError(t, err)
	}
	store.slowWrites(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	snap, err := m.End(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, snap.State)

	// Shutdown still learns that the final write was cut short.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	assert.ErrorIs(t, m.EndAll(ctx2), context.DeadlineExceeded)
	assert.Equal(t, 0, m.ActiveSessions())
}
