package sweeper

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/engine"
	"github.com/park285/cheese-arena/internal/eventlog"
	"github.com/park285/cheese-arena/internal/lock"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/park285/cheese-arena/internal/timecontrol"
)

type fakeEngine struct {
	mu      sync.Mutex
	due     map[string]engine.Due
	expired []string
	resumed []string
	busy    map[string]bool
}

func (f *fakeEngine) Inspect(_ context.Context, row *domain.Session, _ time.Time) (engine.Due, error) {
	if row.ID == "broken" {
		return engine.Due{}, engine.ErrCorruptSession
	}
	return f.due[row.ID], nil
}

func (f *fakeEngine) Expire(_ context.Context, id string) (*engine.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy[id] {
		return nil, engine.ErrBusy
	}
	f.expired = append(f.expired, id)
	return &engine.Outcome{Finished: true}, nil
}

func (f *fakeEngine) ResumeBot(_ context.Context, id string) {
	f.mu.Lock()
	f.resumed = append(f.resumed, id)
	f.mu.Unlock()
}

// staticLister pages over fixed rows in id order.
type staticLister []*domain.Session

func (l staticLister) ListOpen(_ context.Context, after string, limit int) ([]*domain.Session, error) {
	rows := make([]*domain.Session, 0, len(l))
	for _, row := range l {
		if row.ID > after {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

type failingLister struct{}

func (failingLister) ListOpen(context.Context, string, int) ([]*domain.Session, error) {
	return nil, errors.New("db down")
}

func TestSweepDispatchesDueSessions(t *testing.T) {
	rows := staticLister{{ID: "idle"}, {ID: "flagged"}, {ID: "bot"}, {ID: "broken"}, {ID: "locked"}}
	fe := &fakeEngine{
		due: map[string]engine.Due{
			"flagged": {Expire: true},
			"bot":     {Bot: true},
			"locked":  {Expire: true},
		},
		busy: map[string]bool{"locked": true},
	}
	sw := New(rows, fe, Options{Parallel: 2})

	st, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Scanned: 5, Expired: 1, Resumed: 1, Busy: 1, Failed: 1}, st)
	require.Equal(t, []string{"flagged"}, fe.expired)
	require.Equal(t, []string{"bot"}, fe.resumed)
}

func TestSweepPagesPastTheFirstBatch(t *testing.T) {
	rows := staticLister{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "e"}}
	fe := &fakeEngine{due: map[string]engine.Due{"e": {Expire: true}}}
	sw := New(rows, fe, Options{Batch: 2})

	st, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Scanned: 5, Expired: 1}, st)
	require.Equal(t, []string{"e"}, fe.expired)
}

func TestSweepListFailure(t *testing.T) {
	_, err := New(failingLister{}, &fakeEngine{}, Options{}).Sweep(context.Background())
	require.Error(t, err)
}

func TestRunStopsWithContext(t *testing.T) {
	fe := &fakeEngine{due: map[string]engine.Due{"a": {Expire: true}}}
	sw := New(staticLister{{ID: "a"}}, fe, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx, time.Second) }()

	require.Eventually(t, func() bool {
		fe.mu.Lock()
		defer fe.mu.Unlock()
		return len(fe.expired) > 0
	}, 5*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSweepWithEngineExpiresStaleSessions(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	clockNow := func() time.Time { return now }
	cat, err := timecontrol.New("", "blitz-3+2")
	require.NoError(t, err)
	mem := store.NewMemory()
	eng, err := engine.New(engine.Deps{
		Store:   mem,
		Locker:  lock.NewRedis(rdb, 5*time.Second),
		Events:  eventlog.New(rdb, 100, time.Hour),
		Presets: cat,
		Now:     clockNow,
	}, engine.Config{FirstMoveGrace: 30 * time.Second})
	require.NoError(t, err)

	ctx := context.Background()
	create := func() string {
		out, err := eng.Create(ctx, engine.CreateParams{
			Creator:  domain.Player{ID: "alice"},
			Opponent: domain.Player{ID: "bob"},
			Color:    "white",
		})
		require.NoError(t, err)
		return out.Session.ID
	}
	abandoned := create()
	playing := create()
	_, err = eng.Move(ctx, playing, "alice", "e2e4")
	require.NoError(t, err)

	now = now.Add(20 * time.Second)
	_, err = eng.Move(ctx, playing, "bob", "e7e5")
	require.NoError(t, err)

	now = now.Add(15 * time.Second)
	sw := New(mem, eng, Options{Now: clockNow})
	st, err := sw.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, st.Expired)

	snap, err := eng.Snapshot(ctx, abandoned)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAborted, snap.Session.Status)
	require.Equal(t, domain.ReasonNoFirstMove, snap.Session.Reason)
	snap, err = eng.Snapshot(ctx, playing)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, snap.Session.Status)

	now = now.Add(200 * time.Second)
	st, err = sw.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Scanned: 1, Expired: 1}, st)
	snap, err = eng.Snapshot(ctx, playing)
	require.NoError(t, err)
	require.Equal(t, domain.ReasonTimeout, snap.Session.Reason)
}

func TestSweepWithEngineReachesEveryPage(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	clockNow := func() time.Time { return now }
	cat, err := timecontrol.New("", "blitz-3+2")
	require.NoError(t, err)
	mem := store.NewMemory()
	eng, err := engine.New(engine.Deps{
		Store:   mem,
		Locker:  lock.NewRedis(rdb, 5*time.Second),
		Events:  eventlog.New(rdb, 100, time.Hour),
		Presets: cat,
		Now:     clockNow,
	}, engine.Config{FirstMoveGrace: 30 * time.Second})
	require.NoError(t, err)

	ctx := context.Background()
	create := func() string {
		out, err := eng.Create(ctx, engine.CreateParams{
			Creator:  domain.Player{ID: "alice"},
			Opponent: domain.Player{ID: "bob"},
			Color:    "white",
		})
		require.NoError(t, err)
		return out.Session.ID
	}
	stale := create()
	now = now.Add(40 * time.Second)
	for i := 0; i < 5; i++ {
		create()
	}

	st, err := New(mem, eng, Options{Batch: 2, Now: clockNow}).Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Scanned: 6, Expired: 1}, st)

	snap, err := eng.Snapshot(ctx, stale)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAborted, snap.Session.Status)
}
