package broadcast

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-arena/internal/domain"
)

func TestRedisPublishSubscribe(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil { t.Fatalf("miniredis: %v", err) }
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	b := NewRedis(rdb, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, Notification{Kind: KindState, SessionID: "s2", Seq: 1}))
	require.NoError(t, b.Publish(ctx, Notification{
		Kind: KindFinished, SessionID: "s1", Seq: 7,
		Result: domain.ResultDraw, Reason: domain.ReasonStalemate,
	}))

	select {
	case n := <-ch:
		require.Equal(t, KindFinished, n.Kind)
		require.EqualValues(t, 7, n.Seq)
		require.Equal(t, domain.ReasonStalemate, n.Reason)
	case <-time.After(2 * time.Second):
		t.Fatalf("no notification received")
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	require.NoError(t, r.Publish(context.Background(), Notification{SessionID: "a"}))
	require.NoError(t, Nop{}.Publish(context.Background(), Notification{}))
	require.Len(t, r.Drain(), 1)
	require.Len(t, r.Drain(), 1)
}
