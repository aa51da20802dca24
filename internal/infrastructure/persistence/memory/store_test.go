package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, found, err := s.Get(ctx, "stats_u1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "stats_u1", `{"streak":1}`))
	v, found, err := s.Get(ctx, "stats_u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"streak":1}`, v)

	require.NoError(t, s.Remove(ctx, "stats_u1"))
	require.NoError(t, s.Remove(ctx, "stats_u1"))
	_, found, _ = s.Get(ctx, "stats_u1")
	assert.False(t, found)
}

func TestStore_RejectsEmptyKeyAndCanceledContext(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.Set(context.Background(), "", "x"), ErrKeyEmpty)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_Keys(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Set(ctx, "stats_b", "1"))
	require.NoError(t, s.Set(ctx, "stats_a", "1"))
	require.NoError(t, s.Set(ctx, "account_x", "1"))

	assert.Equal(t, []string{"stats_a", "stats_b"}, s.Keys("stats_"))
}
