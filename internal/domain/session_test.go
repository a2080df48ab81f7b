package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusAborted, true},
		{StatusPending, StatusFinished, false},
		{StatusActive, StatusFinished, true},
		{StatusActive, StatusAborted, true},
		{StatusActive, StatusPending, false},
		{StatusFinished, StatusActive, false},
		{StatusAborted, StatusFinished, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestFinishIsOneShot(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := &Session{Status: StatusActive, DrawOffer: White}

	require.True(t, s.Finish(StatusFinished, ResultBlack, ReasonResignation, at))
	require.Equal(t, NoSide, s.DrawOffer)
	require.Equal(t, at, s.FinishedAt)

	require.False(t, s.Finish(StatusAborted, ResultUnset, ReasonAborted, at.Add(time.Minute)))
	require.Equal(t, ResultBlack, s.Result)
	require.Equal(t, at, s.FinishedAt)
}

func TestSidesAndParity(t *testing.T) {
	s := &Session{White: Player{ID: "w"}, Black: Player{ID: "b"}}
	require.Equal(t, White, s.SideToMove())
	s.MovesUCI = []string{"e2e4"}
	require.Equal(t, Black, s.SideToMove())

	require.Equal(t, White, s.SideOf(" w "))
	require.Equal(t, NoSide, s.SideOf(""))
	require.Equal(t, NoSide, s.SideOf("x"))
	require.Equal(t, Black, ParseSide("B"))
	require.Equal(t, White, Black.Opponent())
	require.Equal(t, NoSide, NoSide.Opponent())

	s.SetRemaining(Black, -4)
	require.EqualValues(t, 0, s.Remaining(Black))
}

func TestCloneDoesNotShareMoves(t *testing.T) {
	s := &Session{MovesUCI: []string{"e2e4"}, MovesSAN: []string{"e4"}}
	cp := s.Clone()
	cp.MovesUCI[0] = "d2d4"
	cp.MovesUCI = append(cp.MovesUCI, "e7e5")
	require.Equal(t, []string{"e2e4"}, s.MovesUCI)
}

func TestTimeControl(t *testing.T) {
	tc := TimeControl{Name: "odds", Category: CategoryCustom, WhiteInitial: 300, BlackInitial: 60, BlackIncrement: 2}
	require.NoError(t, tc.Validate())
	sw := tc.Swapped()
	require.EqualValues(t, 60, sw.Initial(White))
	require.EqualValues(t, 2, sw.Increment(White))
	require.EqualValues(t, 300, sw.Initial(Black))

	require.Error(t, TimeControl{Category: CategoryBlitz, WhiteInitial: 0, BlackInitial: 60}.Validate())
	require.Error(t, TimeControl{Category: CategoryBlitz, WhiteInitial: 60, BlackInitial: 60, WhiteIncrement: -1}.Validate())
	require.NoError(t, TimeControl{Category: CategoryUnlimited}.Validate())
}
