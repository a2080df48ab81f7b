package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func moveEvent(seq int64, uci string, count int) Event {
	return Event{
		Seq:     seq,
		Kind:    EventMove,
		MoveUCI: uci,
		MoveSAN: uci,
		At:      time.Unix(seq, 0).UTC(),
		State:   &PlayState{Status: StatusActive, MoveCount: count, FEN: "fen-" + uci},
	}
}

func TestApplyTo(t *testing.T) {
	s := &Session{Status: StatusPending, EventSeq: 1}

	ev := moveEvent(2, "e2e4", 1)
	require.NoError(t, ev.ApplyTo(s))
	require.Equal(t, []string{"e2e4"}, s.MovesUCI)
	require.Equal(t, StatusActive, s.Status)
	require.EqualValues(t, 2, s.EventSeq)
	require.Equal(t, "fen-e2e4", s.FEN)

	// replaying an event the row already reflects is harmless
	require.NoError(t, ev.ApplyTo(s))
	require.Len(t, s.MovesUCI, 1)

	chat := Event{Seq: 3, Kind: EventChat, Text: "hi"}
	require.NoError(t, chat.ApplyTo(s))
	require.EqualValues(t, 3, s.EventSeq)
	require.Equal(t, StatusActive, s.Status)

	gap := moveEvent(5, "g1f3", 3)
	require.Error(t, gap.ApplyTo(s))

	offer := Event{Seq: 4, Kind: EventDrawOffer, Side: White, State: &PlayState{Status: StatusActive, MoveCount: 1, DrawOffer: White}}
	require.NoError(t, offer.ApplyTo(s))
	require.Equal(t, White, s.DrawOffer)

	stale := Event{Seq: 6, Kind: EventResign, State: &PlayState{Status: StatusFinished, MoveCount: 4}}
	require.Error(t, stale.ApplyTo(s))

	var nilEvent *Event
	require.NoError(t, nilEvent.ApplyTo(s))
}

func TestStateOfRoundTrips(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	src := &Session{
		Status: StatusFinished, Result: ResultDraw, Reason: ReasonDrawAgreement,
		MovesUCI: []string{"e2e4", "e7e5"}, MovesSAN: []string{"e4", "e5"},
		FEN: "x", WhiteLeft: 10, BlackLeft: 20, LastMoveAt: at, FinishedAt: at, RematchBy: Black,
	}
	dst := &Session{MovesUCI: []string{"e2e4", "e7e5"}, MovesSAN: []string{"e4", "e5"}}
	ev := Event{Seq: 9, Kind: EventDrawResponse, State: StateOf(src)}
	require.NoError(t, ev.ApplyTo(dst))

	require.Equal(t, src.Status, dst.Status)
	require.Equal(t, src.Reason, dst.Reason)
	require.Equal(t, src.BlackLeft, dst.BlackLeft)
	require.Equal(t, src.RematchBy, dst.RematchBy)
	require.Equal(t, at, dst.FinishedAt)
}
