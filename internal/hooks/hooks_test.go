package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/park285/cheese-arena/internal/domain"
)

func sampleFinished() Finished {
	t0 := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	return Finished{
		SessionID:   "s1",
		White:       domain.Player{ID: "u1", Name: "Alice \"A\""},
		Black:       domain.Player{ID: "u2"},
		Mode:        domain.CategoryBlitz,
		TimeControl: domain.TimeControl{Name: "3+2", Category: domain.CategoryBlitz, WhiteInitial: 180, BlackInitial: 180, WhiteIncrement: 2, BlackIncrement: 2},
		Status:      domain.StatusFinished,
		Result:      domain.ResultBlack,
		Reason:      domain.ReasonCheckmate,
		MovesUCI:    []string{"f2f3", "e7e5", "g2g4", "d8h4"},
		MovesSAN:    []string{"f3", "e5", "g4", "Qh4#"},
		CreatedAt:   t0,
		FinishedAt:  t0.Add(time.Minute),
	}
}

func TestBuildPGN(t *testing.T) {
	pgn := BuildPGN(sampleFinished())
	require.Contains(t, pgn, "[White \"Alice 'A'\"]")
	require.Contains(t, pgn, "[Black \"u2\"]")
	require.Contains(t, pgn, "[TimeControl \"180+2\"]")
	require.Contains(t, pgn, "[Termination \"checkmate\"]")
	require.Contains(t, pgn, "[Result \"0-1\"]")
	require.True(t, strings.HasSuffix(pgn, "1. f3 e5 2. g4 Qh4# 0-1"), pgn)
}

func TestMultiJoinsErrors(t *testing.T) {
	var calls int32
	ok := Func(func(context.Context, Finished) error { atomic.AddInt32(&calls, 1); return nil })
	bad := Func(func(context.Context, Finished) error { atomic.AddInt32(&calls, 1); return errors.New("boom") })
	err := Multi{ok, nil, bad, ok}.SessionFinished(context.Background(), sampleFinished())
	require.Error(t, err)
	require.EqualValues(t, 3, calls)
}

func serveInmemory(t *testing.T, h fasthttp.RequestHandler) *fasthttputil.InmemoryListener {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = fasthttp.Serve(ln, h) }()
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var hits int32
	var got Finished
	ln := serveInmemory(t, func(ctx *fasthttp.RequestCtx) {
		if atomic.AddInt32(&hits, 1) == 1 {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			return
		}
		_ = json.Unmarshal(ctx.PostBody(), &got)
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	})
	w := NewWebhook("http://hooks.local/finished",
		WithDial(func(string) (net.Conn, error) { return ln.Dial() }),
		WithHeader("X-Arena", "1"),
	)
	require.NoError(t, w.SessionFinished(context.Background(), sampleFinished()))
	require.EqualValues(t, 2, hits)
	require.Equal(t, "s1", got.SessionID)
	require.Equal(t, domain.ReasonCheckmate, got.Reason)
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	ln := serveInmemory(t, func(ctx *fasthttp.RequestCtx) {
		atomic.AddInt32(&hits, 1)
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
	})
	w := NewWebhook("http://hooks.local/finished", WithDial(func(string) (net.Conn, error) { return ln.Dial() }))
	require.Error(t, w.SessionFinished(context.Background(), sampleFinished()))
	require.EqualValues(t, 1, hits)
}

func TestArchive(t *testing.T) {
	dsn := os.Getenv("ARENA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ARENA_TEST_DATABASE_URL not set")
	}
	a, err := NewArchive(dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = a.db.Exec(`DELETE FROM arena_results WHERE session_id = 's1'`)
		_ = a.Close()
	})
	f := sampleFinished()
	require.NoError(t, a.SessionFinished(context.Background(), f))
	require.NoError(t, a.SessionFinished(context.Background(), f))
	var pgn string
	require.NoError(t, a.db.QueryRow(`SELECT pgn FROM arena_results WHERE session_id = 's1'`).Scan(&pgn))
	require.Contains(t, pgn, "Qh4#")
}
