package render

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/rules"
)

func decode(t *testing.T, raw []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img
}

func TestPNGStartPosition(t *testing.T) {
	raw, err := New().PNG(context.Background(), rules.StartFEN, Options{SquareSize: 32})
	require.NoError(t, err)
	img := decode(t, raw)
	require.Equal(t, 32*8+32, img.Bounds().Dx())
}

func TestPNGHeaderAndPerspective(t *testing.T) {
	r := New()
	ctx := context.Background()
	fen := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"

	white, err := r.PNG(ctx, fen, Options{SquareSize: 24, LastFrom: "e2", LastTo: "e4", Title: "alice vs bob", Caption: "black to move"})
	require.NoError(t, err)
	black, err := r.PNG(ctx, fen, Options{SquareSize: 24, LastFrom: "e2", LastTo: "e4", Perspective: domain.Black})
	require.NoError(t, err)
	require.NotEqual(t, white, black)

	wi, bi := decode(t, white), decode(t, black)
	require.Greater(t, wi.Bounds().Dy(), bi.Bounds().Dy(), "header adds height")
}

func TestPNGRejectsBadInput(t *testing.T) {
	_, err := New().PNG(context.Background(), "", Options{})
	require.Error(t, err)
	_, err = New().PNG(context.Background(), "not a fen", Options{})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New().PNG(ctx, rules.StartFEN, Options{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestGeometryFlip(t *testing.T) {
	a1, _ := parseSquare("a1")
	h8, _ := parseSquare("h8")
	g := geometry{size: 10}
	require.Equal(t, image.Rect(0, 70, 10, 80), g.rect(a1))
	g.flipped = true
	require.Equal(t, image.Rect(70, 0, 80, 10), g.rect(a1))
	require.Equal(t, image.Rect(0, 70, 10, 80), g.rect(h8))

	_, ok := parseSquare("i9")
	require.False(t, ok)
}

func TestPieceImagesAreCached(t *testing.T) {
	raw, err := New().PNG(context.Background(), rules.StartFEN, Options{SquareSize: 20})
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	pieceCacheMu.RLock()
	defer pieceCacheMu.RUnlock()
	n := 0
	for k := range pieceCache {
		if k.size == 20 {
			n++
		}
	}
	require.Equal(t, 12, n)
}
