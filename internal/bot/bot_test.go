package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-arena/internal/rules"
)

func TestRandomPlaysLegalMoves(t *testing.T) {
	r := NewRandom(rules.New(), 42)
	moves := []string{}
	for i := 0; i < 20; i++ {
		mv, err := r.NextMove(context.Background(), Request{Moves: moves})
		require.NoError(t, err)
		g, err := rules.New().Replay(moves)
		require.NoError(t, err)
		parsed, err := g.ParseMove(mv)
		require.NoError(t, err)
		require.NoError(t, g.Apply(parsed))
		if g.Terminal().Over {
			break
		}
		moves = append(moves, mv)
	}
}

func TestRandomDeterministicWithSeed(t *testing.T) {
	a, err := NewRandom(rules.New(), 7).NextMove(context.Background(), Request{})
	require.NoError(t, err)
	b, err := NewRandom(rules.New(), 7).NextMove(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestRandomNoMoveAfterMate(t *testing.T) {
	_, err := NewRandom(rules.New(), 1).NextMove(context.Background(), Request{Moves: []string{"f2f3", "e7e5", "g2g4", "d8h4"}})
	require.ErrorIs(t, err, ErrNoMove)
}

type failing struct{}

func (failing) NextMove(context.Context, Request) (string, error) { return "", errors.New("down") }

func TestFallback(t *testing.T) {
	mv, err := Fallback{Primary: failing{}, Secondary: NewRandom(rules.New(), 3)}.NextMove(context.Background(), Request{})
	require.NoError(t, err)
	require.NotEmpty(t, mv)
}
