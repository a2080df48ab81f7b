package arenaclient

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-arena/internal/broadcast"
	"github.com/park285/cheese-arena/internal/engine"
	"github.com/park285/cheese-arena/internal/eventlog"
	"github.com/park285/cheese-arena/internal/httpapi"
	"github.com/park285/cheese-arena/internal/lobby"
	"github.com/park285/cheese-arena/internal/lock"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/park285/cheese-arena/internal/timecontrol"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

func newServer(t *testing.T) string {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cat, err := timecontrol.New("", "blitz-5+3")
	require.NoError(t, err)
	bc := broadcast.NewRedis(rdb, nil)
	eng, err := engine.New(engine.Deps{
		Store:     store.NewMemory(),
		Locker:    lock.NewRedis(rdb, 5*time.Second),
		Events:    eventlog.New(rdb, 100, time.Hour),
		Presets:   cat,
		Publisher: bc,
	}, engine.Config{})
	require.NoError(t, err)

	srv := httptest.NewServer(httpapi.New(httpapi.Options{
		Engine:     eng,
		Subscriber: bc,
		Presets:    cat,
		Lobby:      lobby.New(rdb, eng, lobby.Options{Presets: cat}),
	}).Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestClientPlaysAGame(t *testing.T) {
	base := newServer(t)
	ctx := context.Background()
	alice := New(base, "alice", WithRetry(1))
	bob := alice.As("bob")

	res, err := alice.Create(ctx, arenadto.CreateRequest{Opponent: arenadto.PlayerSpec{ID: "bob"}, Color: "white"})
	require.NoError(t, err)
	id := res.Session.ID

	_, err = alice.Move(ctx, id, "e4")
	require.NoError(t, err)
	_, err = alice.Move(ctx, id, "d4")
	require.True(t, IsCode(err, arenadto.CodeNotYourTurn), err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, 409, apiErr.Status)

	for _, mv := range []struct {
		c  *Client
		mv string
	}{{bob, "e7e5"}, {alice, "f1c4"}, {bob, "b8c6"}, {alice, "d1h5"}, {bob, "g8f6"}} {
		_, err := mv.c.Move(ctx, id, mv.mv)
		require.NoError(t, err, mv.mv)
	}
	res, err = alice.Move(ctx, id, "h5f7")
	require.NoError(t, err)
	require.True(t, res.Finished)
	require.Equal(t, "white", res.Result)
	require.Equal(t, "checkmate", res.Reason)

	rep, err := bob.Verify(ctx, id)
	require.NoError(t, err)
	require.True(t, rep.Consistent)

	png, err := bob.Board(ctx, id, "", 16)
	require.NoError(t, err)
	require.Equal(t, []byte("\x89PNG"), png[:4])

	ev, err := bob.Events(ctx, id, 0)
	require.NoError(t, err)
	require.EqualValues(t, 8, ev.Head, "created plus seven moves")

	_, err = bob.Snapshot(ctx, "missing")
	require.True(t, IsCode(err, arenadto.CodeNotFound))

	presets, err := bob.Presets(ctx)
	require.NoError(t, err)
	require.Contains(t, presets, "blitz-5+3")
}

func TestClientChallenges(t *testing.T) {
	base := newServer(t)
	ctx := context.Background()
	alice := New(base, "alice")

	ch, err := alice.OpenChallenge(ctx, arenadto.ChallengeRequest{Color: "white"})
	require.NoError(t, err)
	list, err := alice.Challenges(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	res, err := alice.As("bob").AcceptChallenge(ctx, ch.Code, "Bob")
	require.NoError(t, err)
	require.Equal(t, "alice", res.Session.White.ID)

	_, err = alice.CancelChallenge(ctx, ch.Code)
	require.True(t, IsCode(err, arenadto.CodeSessionOver), err)
}

func TestWatchResumesFromSince(t *testing.T) {
	base := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	alice := New(base, "alice")
	bob := alice.As("bob")

	res, err := alice.Create(ctx, arenadto.CreateRequest{Opponent: arenadto.PlayerSpec{ID: "bob"}, Color: "white"})
	require.NoError(t, err)
	id := res.Session.ID
	_, err = alice.Move(ctx, id, "e2e4")
	require.NoError(t, err)

	var frames []Frame
	done := make(chan error, 1)
	go func() {
		done <- bob.Watch(ctx, id, WatchOptions{Since: 1}, func(f Frame) error {
			frames = append(frames, f)
			if f.Type == "events" {
				_, err := bob.Move(ctx, id, "e7e5")
				return err
			}
			if f.Notification != nil && f.Notification.Seq >= 3 {
				return ErrStopWatch
			}
			return nil
		})
	}()
	require.NoError(t, <-done)

	require.Equal(t, "events", frames[0].Type)
	require.Len(t, frames[0].Events.Events, 1)
	require.EqualValues(t, 2, frames[0].Seq())
	last := frames[len(frames)-1]
	require.Equal(t, "state", last.Type)
	require.EqualValues(t, 3, last.Seq())
}

func TestWatchUnknownSessionFailsFast(t *testing.T) {
	base := newServer(t)
	err := New(base, "alice").Watch(context.Background(), "missing", WatchOptions{MaxReconnects: 5}, func(Frame) error { return nil })
	require.True(t, IsCode(err, arenadto.CodeNotFound), err)
}
