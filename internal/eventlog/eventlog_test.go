package eventlog

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-arena/internal/domain"
)

func newTestLog(t *testing.T, capacity int) (*Log, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil { t.Fatalf("miniredis: %v", err) }
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, capacity, time.Hour), mr
}

func chat(text string) domain.Event {
	return domain.Event{Kind: domain.EventChat, Text: text, At: time.Now().UTC()}
}

func TestAppend_StrictlyIncreasing(t *testing.T) {
	l, _ := newTestLog(t, 50)
	ctx := context.Background()
	var prev int64
	for i := 0; i < 20; i++ {
		seq, err := l.Append(ctx, "s1", 0, chat("hi"))
		require.NoError(t, err)
		require.Greater(t, seq, prev)
		prev = seq
	}
	other, err := l.Append(ctx, "s2", 0, chat("x"))
	require.NoError(t, err)
	require.EqualValues(t, 1, other)
}

func TestReadSince_NeverReturnsAtOrBelowMark(t *testing.T) {
	l, _ := newTestLog(t, 50)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := l.Append(ctx, "s1", 0, chat("m"))
		require.NoError(t, err)
	}
	for since := int64(0); since <= 12; since++ {
		b, err := l.ReadSince(ctx, "s1", since)
		require.NoError(t, err)
		require.False(t, b.Resync)
		require.EqualValues(t, 10, b.Head)
		for _, ev := range b.Events {
			require.Greater(t, ev.Seq, since)
		}
		want := 10 - since
		if want < 0 {
			want = 0
		}
		require.Len(t, b.Events, int(want))
	}
}

func TestReadSince_EvictedMarkRequestsResync(t *testing.T) {
	l, _ := newTestLog(t, 5)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		_, err := l.Append(ctx, "s1", 0, chat("m"))
		require.NoError(t, err)
	}
	b, err := l.ReadSince(ctx, "s1", 2)
	require.NoError(t, err)
	require.True(t, b.Resync)
	require.Len(t, b.Events, 5)
	require.EqualValues(t, 8, b.Events[0].Seq)

	b, err = l.ReadSince(ctx, "s1", 7)
	require.NoError(t, err)
	require.False(t, b.Resync)
	require.Len(t, b.Events, 5)
}

func TestReserve_FloorPreventsReuse(t *testing.T) {
	l, mr := newTestLog(t, 10)
	ctx := context.Background()
	_, err := l.Append(ctx, "s1", 0, chat("a"))
	require.NoError(t, err)

	// counter lost, the durable record already reflects seq 40
	mr.Del(seqKey("s1"))
	first, err := l.Reserve(ctx, "s1", 40, 2)
	require.NoError(t, err)
	require.EqualValues(t, 41, first)

	next, err := l.Reserve(ctx, "s1", 0, 1)
	require.NoError(t, err)
	require.EqualValues(t, 43, next)
}

func TestPush_RejectsUnsequenced(t *testing.T) {
	l, _ := newTestLog(t, 10)
	require.Error(t, l.Push(context.Background(), "s1", chat("x")))
}

func TestReadSince_ExpiredLogRequestsResync(t *testing.T) {
	l, mr := newTestLog(t, 10)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, "s1", 0, chat("m"))
		require.NoError(t, err)
	}
	mr.Del(listKey("s1"))
	b, err := l.ReadSince(ctx, "s1", 1)
	require.NoError(t, err)
	require.True(t, b.Resync)
	require.Empty(t, b.Events)
}
