package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil { t.Fatalf("miniredis: %v", err) }
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, ttl), mr
}

func TestAcquireIsExclusive(t *testing.T) {
	l, _ := newTestLocker(t, time.Second)
	ctx := context.Background()

	tok, err := l.Acquire(ctx, "s1")
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	_, err = l.Acquire(ctx, "s1")
	require.ErrorIs(t, err, ErrBusy)

	// unrelated sessions are independent
	other, err := l.Acquire(ctx, "s2")
	require.NoError(t, err)
	require.NotEqual(t, tok, other)

	require.NoError(t, l.Release(ctx, "s1", tok))
	_, err = l.Acquire(ctx, "s1")
	require.NoError(t, err)
}

func TestReleaseWithStaleTokenKeepsNewHolder(t *testing.T) {
	l, mr := newTestLocker(t, time.Second)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "s1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := l.Acquire(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, l.Release(ctx, "s1", stale))
	got, err := mr.Get(lockKey("s1"))
	require.NoError(t, err)
	require.Equal(t, fresh, got)

	_, err = l.Acquire(ctx, "s1")
	require.ErrorIs(t, err, ErrBusy)
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	l, _ := newTestLocker(t, 5*time.Second)
	ctx := context.Background()

	var wins, busy int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Acquire(ctx, "hot")
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, ErrBusy):
				atomic.AddInt32(&busy, 1)
			default:
				t.Errorf("unexpected: %v", err)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, wins)
	require.EqualValues(t, 15, busy)
}
