package rules

import (
	"errors"
	"testing"

	nchess "github.com/corentings/chess/v2"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-arena/internal/domain"
)

func fromFEN(t *testing.T, fen string) *chessGame {
	t.Helper()
	opt, err := nchess.FEN(fen)
	require.NoError(t, err)
	return &chessGame{g: nchess.NewGame(opt)}
}

func TestParseMove_UCIThenSAN(t *testing.T) {
	g, err := New().Replay(nil)
	require.NoError(t, err)
	require.Equal(t, domain.White, g.Turn())

	mv, err := g.ParseMove("e2e4")
	require.NoError(t, err)
	require.Equal(t, "e2e4", mv.UCI)
	require.Equal(t, "e4", mv.SAN)
	require.NoError(t, g.Apply(mv))

	mv, err = g.ParseMove("Nc6")
	require.NoError(t, err)
	require.Equal(t, "b8c6", mv.UCI)
	require.NoError(t, g.Apply(mv))
	require.Equal(t, 2, g.MoveCount())
	require.Equal(t, domain.White, g.Turn())

	from, to, ok := g.LastMove()
	require.True(t, ok)
	require.Equal(t, "b8", from)
	require.Equal(t, "c6", to)
}

func TestParseMove_IllegalLeavesPosition(t *testing.T) {
	g, err := New().Replay([]string{"e2e4"})
	require.NoError(t, err)
	before := g.FEN()

	for _, text := range []string{"", "e2e4", "zz", "Ke3", "e7e2"} {
		_, err := g.ParseMove(text)
		require.Truef(t, errors.Is(err, ErrIllegalMove), "text %q: %v", text, err)
	}
	require.Equal(t, before, g.FEN())
	require.Equal(t, 1, g.MoveCount())
}

func TestReplay_BadHistory(t *testing.T) {
	_, err := New().Replay([]string{"e2e4", "e2e4"})
	require.ErrorIs(t, err, ErrBadHistory)
}

func TestReplay_ReproducesFEN(t *testing.T) {
	moves := []string{"e2e4", "e7e5", "g1f3", "b8c6", "f1b5"}
	g1, err := New().Replay(moves)
	require.NoError(t, err)
	g2, err := New().Replay(moves)
	require.NoError(t, err)
	require.Equal(t, g1.FEN(), g2.FEN())
	require.True(t, New().ValidFEN(g1.FEN()))
	require.False(t, New().ValidFEN("not a fen"))
}

func TestTerminal_Checkmate(t *testing.T) {
	g, err := New().Replay([]string{"f2f3", "e7e5", "g2g4", "d8h4"})
	require.NoError(t, err)
	term := g.Terminal()
	require.True(t, term.Over)
	require.Equal(t, domain.ResultBlack, term.Result)
	require.Equal(t, domain.ReasonCheckmate, term.Reason)
}

func TestTerminal_ThreefoldIsAutomatic(t *testing.T) {
	shuffle := []string{"g1f3", "g8f6", "f3g1", "f6g8"}
	var moves []string
	moves = append(moves, shuffle...)
	g, err := New().Replay(moves)
	require.NoError(t, err)
	require.False(t, g.Terminal().Over)
	_, ok := g.Claimable()
	require.False(t, ok)

	moves = append(moves, shuffle...)
	g, err = New().Replay(moves)
	require.NoError(t, err)
	term := g.Terminal()
	require.True(t, term.Over)
	require.Equal(t, domain.ResultDraw, term.Result)
	require.Equal(t, domain.ReasonThreefoldRepetition, term.Reason)
}

func TestHasMatingMaterial(t *testing.T) {
	cases := []struct {
		fen   string
		side  domain.Side
		mates bool
	}{
		{"8/8/8/4k3/8/8/8/4KB2 w - - 0 1", domain.White, false},
		{"8/8/8/4k3/8/8/8/4KB2 w - - 0 1", domain.Black, false},
		{"8/8/8/4k3/8/8/8/3NKB2 w - - 0 1", domain.White, true},
		{"8/8/8/4k3/8/8/4P3/4K3 w - - 0 1", domain.White, true},
		{"8/8/8/4k3/8/8/8/4K2R w - - 0 1", domain.White, true},
		{"8/8/8/4k3/8/8/8/4K1N1 w - - 0 1", domain.White, false},
	}
	for _, tc := range cases {
		g := fromFEN(t, tc.fen)
		require.Equalf(t, tc.mates, g.HasMatingMaterial(tc.side), "%s %s", tc.fen, tc.side)
	}
}

func TestLegalMoves_Limit(t *testing.T) {
	g, err := New().Replay(nil)
	require.NoError(t, err)
	require.Len(t, g.LegalMoves(0), 20)
	capped := g.LegalMoves(5)
	require.Len(t, capped, 5)
	for _, mv := range capped {
		require.NotEmpty(t, mv.UCI)
		require.NotEmpty(t, mv.SAN)
	}
}
