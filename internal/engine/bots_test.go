package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-arena/internal/bot"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/rules"
)

func withRandomBot(d *Deps, _ *Config) { d.Bots = bot.NewRandom(rules.New(), 7) }

var botBlack = domain.Player{ID: "stockfish-1500", Name: "Bot", Bot: true, Rating: 1500}

func TestBotRepliesBeforeMoveReturns(t *testing.T) {
	h := newHarness(t, withRandomBot)
	s := h.create(t, domain.Player{ID: "alice"}, botBlack)

	h.move(t, s.ID, "alice", "e2e4")

	after := h.snapshot(t, s.ID)
	require.Equal(t, 2, after.MoveCount())
	require.Equal(t, domain.White, after.SideToMove())
	events := h.logged(t, s.ID)
	last := events[len(events)-1]
	require.Equal(t, domain.EventMove, last.Kind)
	require.Equal(t, botBlack.ID, last.PlayerID)
}

func TestBotOpensWhenWhite(t *testing.T) {
	h := newHarness(t, withRandomBot)
	white := domain.Player{ID: "bot-w", Bot: true}
	s := h.create(t, white, domain.Player{ID: "bob"})

	after := h.snapshot(t, s.ID)
	require.Equal(t, 1, after.MoveCount())
	require.Equal(t, domain.StatusActive, after.Status)
	require.Equal(t, 1500, after.White.Rating, "bots get a default rating")
}

func TestBotVersusBotPlaysToTheEndOrLimit(t *testing.T) {
	h := newHarness(t, withRandomBot, func(_ *Deps, c *Config) { c.MaxBotPlies = 40 })
	s := h.create(t, domain.Player{ID: "bot-a", Bot: true}, domain.Player{ID: "bot-b", Bot: true})

	after := h.snapshot(t, s.ID)
	if after.Status.Open() {
		require.Equal(t, 40, after.MoveCount())
	}
	rep, err := h.eng.Verify(context.Background(), s.ID)
	require.NoError(t, err)
	require.True(t, rep.Consistent, rep.Problem)
}

type failingBot struct{ calls atomic.Int32 }

func (f *failingBot) NextMove(context.Context, bot.Request) (string, error) {
	f.calls.Add(1)
	return "", errors.New("engine crashed")
}

func TestBotFailureLeavesHumanMoveCommitted(t *testing.T) {
	fb := &failingBot{}
	h := newHarness(t, func(d *Deps, _ *Config) { d.Bots = fb })
	s := h.create(t, domain.Player{ID: "alice"}, botBlack)

	h.move(t, s.ID, "alice", "e2e4")
	require.EqualValues(t, 1, fb.calls.Load())
	require.Equal(t, 1, h.snapshot(t, s.ID).MoveCount())
}

type illegalBot struct{}

func (illegalBot) NextMove(context.Context, bot.Request) (string, error) { return "a1a8", nil }

func TestBotIllegalMoveIsDropped(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *Config) { d.Bots = illegalBot{} })
	s := h.create(t, domain.Player{ID: "alice"}, botBlack)
	h.move(t, s.ID, "alice", "e2e4")
	require.Equal(t, 1, h.snapshot(t, s.ID).MoveCount())
}

func TestDrawOfferToBotIsDeclined(t *testing.T) {
	h := newHarness(t, withRandomBot)
	s := h.create(t, domain.Player{ID: "alice"}, botBlack)
	h.move(t, s.ID, "alice", "e2e4")

	out, err := h.eng.OfferDraw(context.Background(), s.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, []domain.EventKind{domain.EventDrawOffer, domain.EventDrawResponse}, kinds(out.Events))
	require.Equal(t, domain.NoSide, out.Session.DrawOffer)
	require.Equal(t, domain.StatusActive, out.Session.Status)
}

func TestRematchAgainstBotStartsImmediately(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withRandomBot)
	s := h.create(t, domain.Player{ID: "alice"}, botBlack)
	h.move(t, s.ID, "alice", "e2e4")
	_, err := h.eng.Resign(ctx, s.ID, "alice")
	require.NoError(t, err)

	out, err := h.eng.Rematch(ctx, s.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, out.Rematch)
	require.True(t, out.Rematch.White.Bot)

	next := h.snapshot(t, out.Rematch.ID)
	require.Equal(t, 1, next.MoveCount(), "bot moved first as white")
}
