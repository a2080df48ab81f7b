package writebuffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

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

type recorder struct {
	mu    sync.Mutex
	calls map[string]int
	fail  error
}

func (r *recorder) flush(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[id]++
	return nil
}

func (r *recorder) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func newTestBuffer(maxPending int) (*Buffer, *recorder, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rec := &recorder{}
	b := New(rec.flush, Options{Delay: 30 * time.Second, MaxPending: maxPending, Now: clk.Now})
	return b, rec, clk
}

func TestFlushIfDue_WaitsForDelay(t *testing.T) {
	b, rec, clk := newTestBuffer(0)
	ctx := context.Background()

	b.MarkDirty("s1")
	flushed, err := b.FlushIfDue(ctx, "s1")
	require.NoError(t, err)
	require.False(t, flushed)
	require.True(t, b.Dirty("s1"))

	clk.Advance(31 * time.Second)
	b.MarkDirty("s1")
	flushed, err = b.FlushIfDue(ctx, "s1")
	require.NoError(t, err)
	require.True(t, flushed)
	require.False(t, b.Dirty("s1"))
	require.Equal(t, 1, rec.count("s1"))

	// clean sessions are never flushed
	flushed, err = b.FlushIfDue(ctx, "s1")
	require.NoError(t, err)
	require.False(t, flushed)
}

func TestFlushIfDue_MaxPendingForcesFlush(t *testing.T) {
	b, rec, _ := newTestBuffer(3)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		b.MarkDirty("s1")
		flushed, err := b.FlushIfDue(ctx, "s1")
		require.NoError(t, err)
		require.False(t, flushed)
	}
	b.MarkDirty("s1")
	flushed, err := b.FlushIfDue(ctx, "s1")
	require.NoError(t, err)
	require.True(t, flushed)
	require.Equal(t, 1, rec.count("s1"))
}

func TestWrittenClearsDirty(t *testing.T) {
	b, rec, _ := newTestBuffer(0)
	b.MarkDirty("s1")
	b.Written("s1")
	require.False(t, b.Dirty("s1"))
	require.NoError(t, b.FlushAll(context.Background()))
	require.Equal(t, 0, rec.count("s1"))
}

func TestFlushAll_OnlyDirty(t *testing.T) {
	b, rec, _ := newTestBuffer(0)
	for _, id := range []string{"a", "b", "c"} {
		b.MarkDirty(id)
	}
	b.Written("c")
	require.NoError(t, b.FlushAll(context.Background()))
	require.Equal(t, 1, rec.count("a"))
	require.Equal(t, 1, rec.count("b"))
	require.Equal(t, 0, rec.count("c"))
	require.False(t, b.Dirty("a"))
}

func TestFlushFailureKeepsDirty(t *testing.T) {
	b, rec, _ := newTestBuffer(0)
	rec.fail = errors.New("db down")
	b.MarkDirty("s1")
	require.Error(t, b.FlushAll(context.Background()))
	require.True(t, b.Dirty("s1"))

	rec.fail = nil
	require.NoError(t, b.FlushNow(context.Background(), "s1"))
	require.False(t, b.Dirty("s1"))
}

func TestMarkDuringFlushStaysDirty(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	var b *Buffer
	b = New(func(ctx context.Context, id string) error {
		b.MarkDirty(id)
		return nil
	}, Options{Now: clk.Now})
	b.MarkDirty("s1")
	require.NoError(t, b.FlushNow(context.Background(), "s1"))
	require.True(t, b.Dirty("s1"))
}

func TestRunFinalFlushOnCancel(t *testing.T) {
	b, rec, _ := newTestBuffer(0)
	b.MarkDirty("s1")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
	require.Equal(t, 1, rec.count("s1"))
}
