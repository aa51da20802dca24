package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestStore_KeyPrefix(t *testing.T) {
	s := NewStore(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "study:")
	defer s.Close()

	assert.Equal(t, "study:stats_u1", s.key("stats_u1"))
}

func TestStore_RejectsEmptyKey(t *testing.T) {
	s := NewStore(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "")
	defer s.Close()

	ctx := context.Background()
	_, _, err := s.Get(ctx, "")
	assert.ErrorIs(t, err, ErrKeyEmpty)
	assert.ErrorIs(t, s.Set(ctx, "", "v"), ErrKeyEmpty)
	assert.ErrorIs(t, s.Remove(ctx, ""), ErrKeyEmpty)
}

type replyErr string

func (e replyErr) Error() string { return string(e) }
func (replyErr) RedisError()     {}

func TestTransient(t *testing.T) {
	wrap := func(err error) error { return fmt.Errorf("%w: %w", ErrConnection, err) }

	assert.True(t, Transient(wrap(errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"))))
	assert.True(t, Transient(wrap(replyErr("LOADING Redis is loading the dataset in memory"))))
	assert.False(t, Transient(wrap(replyErr("WRONGPASS invalid username-password pair"))))
	assert.False(t, Transient(wrap(replyErr("NOAUTH Authentication required."))))
	assert.False(t, Transient(wrap(context.Canceled)))
	assert.False(t, Transient(ErrKeyEmpty))
	assert.False(t, Transient(nil))
}
