// Package render draws a session position as a PNG board image.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/cheese-arena/internal/domain"
)

const (
	DefaultSquareSize = 64
	minSquareSize     = 16
	maxSquareSize     = 160
)

// Options controls one rendering.
type Options struct {
	// Perspective puts this side at the bottom. NoSide means White.
	Perspective domain.Side
	// LastFrom and LastTo are squares like "e2" and "e4"; empty means no highlight.
	LastFrom   string
	LastTo     string
	Title      string
	Caption    string
	SquareSize int
}

// Renderer is stateless apart from the shared piece cache.
type Renderer struct{}

func New() *Renderer { return &Renderer{} }

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	moveFill        = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	moveArrow       = color.NRGBA{R: 148, G: 207, B: 255, A: 170}
	background      = color.RGBA{28, 31, 46, 255}
	headerPanel     = color.NRGBA{R: 40, G: 44, B: 64, A: 255}
	textPrimary     = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	textSecondary   = color.NRGBA{R: 204, G: 210, B: 236, A: 255}
	coordinateColor = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
)

// PNG renders fen. Only the piece placement field is required.
func (r *Renderer) PNG(ctx context.Context, fen string, opts Options) ([]byte, error) {
	board, err := parseBoard(fen)
	if err != nil {
		return nil, err
	}
	size := opts.SquareSize
	switch {
	case size == 0:
		size = DefaultSquareSize
	case size < minSquareSize:
		size = minSquareSize
	case size > maxSquareSize:
		size = maxSquareSize
	}
	flipped := opts.Perspective == domain.Black

	margin := size / 2
	header := 0
	if strings.TrimSpace(opts.Title) != "" || strings.TrimSpace(opts.Caption) != "" {
		header = 44
	}
	boardPx := size * 8
	origin := image.Point{X: margin, Y: header + margin/2}
	img := image.NewRGBA(image.Rect(0, 0, boardPx+margin*2, origin.Y+boardPx+margin))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, imagedraw.Src)

	if header > 0 {
		drawHeader(img, image.Rect(0, 0, img.Bounds().Dx(), header), opts.Title, opts.Caption)
	}
	geo := geometry{size: size, origin: origin, flipped: flipped}
	drawSquares(img, geo)
	if from, ok := parseSquare(opts.LastFrom); ok {
		if to, ok := parseSquare(opts.LastTo); ok {
			drawHighlight(img, board, from, to, geo)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := drawPieces(img, board, geo); err != nil {
		return nil, err
	}
	drawCoordinates(img, geo)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func parseBoard(fen string) (*nchess.Board, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" {
		return nil, fmt.Errorf("render: empty fen")
	}
	// accept a bare placement field
	if !strings.Contains(fen, " ") {
		fen += " w - - 0 1"
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return nchess.NewGame(opt).Position().Board(), nil
}

func parseSquare(s string) (nchess.Square, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return 0, false
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), true
}

// geometry maps squares to pixels for one perspective.
type geometry struct {
	size    int
	origin  image.Point
	flipped bool
}

func (g geometry) rect(sq nchess.Square) image.Rectangle {
	col, row := int(sq.File()), 7-int(sq.Rank())
	if g.flipped {
		col, row = 7-col, int(sq.Rank())
	}
	x := g.origin.X + col*g.size
	y := g.origin.Y + row*g.size
	return image.Rect(x, y, x+g.size, y+g.size)
}

func (g geometry) center(sq nchess.Square) pointF {
	r := g.rect(sq)
	return pointF{X: float64(r.Min.X + g.size/2), Y: float64(r.Min.Y + g.size/2)}
}

func drawSquares(img *image.RGBA, g geometry) {
	for file := nchess.FileA; file <= nchess.FileH; file++ {
		for rank := nchess.Rank1; rank <= nchess.Rank8; rank++ {
			clr := lightSquare
			if (int(file)+int(rank))%2 == 0 {
				clr = darkSquare
			}
			imagedraw.Draw(img, g.rect(nchess.NewSquare(file, rank)), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawPieces(img *image.RGBA, board *nchess.Board, g geometry) error {
	for sq, piece := range board.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		pimg, err := pieceImage(piece, g.size)
		if err != nil {
			return err
		}
		imagedraw.Draw(img, g.rect(sq), pimg, image.Point{}, imagedraw.Over)
	}
	return nil
}

// drawHighlight fills both squares of a white move and draws an arrow for a black one.
func drawHighlight(img *image.RGBA, board *nchess.Board, from, to nchess.Square, g geometry) {
	if from == to {
		return
	}
	if piece := board.Piece(to); piece != nchess.NoPiece && piece.Color() == nchess.Black {
		drawArrow(img, g.center(from), g.center(to), g.size, moveArrow)
		return
	}
	overlay := image.NewUniform(moveFill)
	imagedraw.Draw(img, g.rect(from), overlay, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, g.rect(to), overlay, image.Point{}, imagedraw.Over)
}

func drawCoordinates(img *image.RGBA, g geometry) {
	d := &font.Drawer{Dst: img, Face: basicfont.Face7x13, Src: image.NewUniform(coordinateColor)}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	for i := 0; i < 8; i++ {
		file := nchess.File(i)
		rank := nchess.Rank(i)
		fr := g.rect(nchess.NewSquare(file, nchess.Rank1))
		rr := g.rect(nchess.NewSquare(nchess.FileA, rank))
		bottom := g.origin.Y + 8*g.size
		centered(d, file.String(), fr.Min.X+g.size/2, bottom+ascent+2)
		centered(d, rank.String(), g.origin.X/2, rr.Min.Y+g.size/2+ascent/2)
	}
}

func drawHeader(img *image.RGBA, area image.Rectangle, title, caption string) {
	panel := image.Rect(area.Min.X+8, area.Min.Y+6, area.Max.X-8, area.Max.Y-4)
	drawRoundedPanel(img, panel, 8, headerPanel)
	d := &font.Drawer{Dst: img, Face: basicfont.Face7x13}
	width := panel.Dx() - 16
	if title = truncate(d, title, width); title != "" {
		d.Src = image.NewUniform(textPrimary)
		d.Dot = fixed.P(panel.Min.X+8, panel.Min.Y+15)
		d.DrawString(title)
	}
	if caption = truncate(d, caption, width); caption != "" {
		d.Src = image.NewUniform(textSecondary)
		d.Dot = fixed.P(panel.Min.X+8, panel.Min.Y+30)
		d.DrawString(caption)
	}
}

func centered(d *font.Drawer, text string, centerX, baseline int) {
	w := d.MeasureString(text).Round()
	d.Dot = fixed.P(centerX-w/2, baseline)
	d.DrawString(text)
}

func truncate(d *font.Drawer, text string, maxWidth int) string {
	text = strings.TrimSpace(text)
	if text == "" || d.MeasureString(text).Round() <= maxWidth {
		return text
	}
	runes := []rune(text)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		if c := string(runes) + "..."; d.MeasureString(c).Round() <= maxWidth {
			return c
		}
	}
	return ""
}
