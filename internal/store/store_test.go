package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-arena/internal/domain"
)

func newSession(id string, at time.Time) *domain.Session {
	return &domain.Session{
		ID:        id,
		CreatorID: "u1",
		White:     domain.Player{ID: "u1"},
		Black:     domain.Player{ID: "u2"},
		TimeControl: domain.TimeControl{
			Name: "3+2", Category: domain.CategoryBlitz,
			WhiteInitial: 180, BlackInitial: 180, WhiteIncrement: 2, BlackIncrement: 2,
		},
		Status:    domain.StatusPending,
		MovesUCI:  []string{},
		MovesSAN:  []string{},
		WhiteLeft: 180,
		BlackLeft: 180,
		CreatedAt: at,
		UpdatedAt: at,
		EventSeq:  1,
	}
}

// runStoreSuite exercises behaviour every Store must share.
func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()
	t0 := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, newSession("a", t0)))
	require.ErrorIs(t, s.Create(ctx, newSession("a", t0)), ErrExists)
	require.NoError(t, s.Create(ctx, newSession("b", t0.Add(time.Second))))

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	// locked update
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	cur, err := tx.GetForUpdate(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, cur.Status)
	cur.Status = domain.StatusActive
	cur.MovesUCI = append(cur.MovesUCI, "e2e4")
	cur.MovesSAN = append(cur.MovesSAN, "e4")
	cur.EventSeq = 3
	cur.UpdatedAt = t0.Add(2 * time.Second)
	require.NoError(t, tx.Save(ctx, cur))
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback())

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, got.Status)
	require.Equal(t, []string{"e2e4"}, got.MovesUCI)
	require.EqualValues(t, 3, got.EventSeq)

	// older event_seq never overwrites
	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	old, err := tx.GetForUpdate(ctx, "a")
	require.NoError(t, err)
	old.EventSeq = 2
	old.MovesUCI = nil
	require.ErrorIs(t, tx.Save(ctx, old), ErrStale)
	require.NoError(t, tx.Rollback())

	got, err = s.Get(ctx, "a")
	require.NoError(t, err)
	require.Len(t, got.MovesUCI, 1)

	// rolled back writes are discarded
	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	cur, err = tx.GetForUpdate(ctx, "b")
	require.NoError(t, err)
	cur.Status = domain.StatusAborted
	cur.EventSeq = 9
	require.NoError(t, tx.Save(ctx, cur))
	require.NoError(t, tx.Rollback())
	got, err = s.Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, got.Status)

	// finished sessions drop out of the open list
	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	cur, err = tx.GetForUpdate(ctx, "a")
	require.NoError(t, err)
	require.True(t, cur.Finish(domain.StatusFinished, domain.ResultWhite, domain.ReasonResignation, t0))
	cur.EventSeq = 4
	require.NoError(t, tx.Save(ctx, cur))
	require.NoError(t, tx.Commit())

	open, err := s.ListOpen(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "b", open[0].ID)

	// pages follow id order from the cursor
	for _, id := range []string{"c", "d", "e"} {
		require.NoError(t, s.Create(ctx, newSession(id, t0)))
	}
	var seen []string
	after := ""
	for {
		page, err := s.ListOpen(ctx, after, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		require.LessOrEqual(t, len(page), 2)
		for _, row := range page {
			seen = append(seen, row.ID)
		}
		after = page[len(page)-1].ID
	}
	require.Equal(t, []string{"b", "c", "d", "e"}, seen)
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemory())
}

func TestMemoryStore_RowLockSerializes(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newSession("a", time.Now())))

	tx1, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx1.GetForUpdate(ctx, "a")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		tx2, _ := s.Begin(ctx)
		_, _ = tx2.GetForUpdate(ctx, "a")
		close(acquired)
		_ = tx2.Rollback()
	}()

	select {
	case <-acquired:
		t.Fatalf("second transaction acquired a held row lock")
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, tx1.Rollback())
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("row lock not released")
	}
}

func TestGormSQLiteStore(t *testing.T) {
	s, err := NewGorm("sqlite", filepath.Join(t.TempDir(), "nested", "arena.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	runStoreSuite(t, s)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("ARENA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ARENA_TEST_DATABASE_URL not set")
	}
	s, err := NewPostgres(dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.db.Exec(`DELETE FROM arena_sessions WHERE id IN ('a', 'b')`)
		_ = s.Close()
	})
	_, _ = s.db.Exec(`DELETE FROM arena_sessions WHERE id IN ('a', 'b')`)
	runStoreSuite(t, s)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("cassandra", "", "")
	require.Error(t, err)
	s, err := Open("memory", "", "")
	require.NoError(t, err)
	require.IsType(t, &Memory{}, s)
}
