package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// piece outlines on a 45x45 canvas; FILL and STROKE are substituted per color
var pieceShapes = map[nchess.PieceType]string{
	nchess.Pawn: `<circle cx="22.5" cy="13" r="5.5" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<path d="M17 20 L28 20 L31 33 L14 33 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<path d="M11 39 L34 39 L34 34 L11 34 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>`,
	nchess.Rook: `<path d="M11 39 L34 39 L34 35 L11 35 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<path d="M14 35 L31 35 L29 17 L16 17 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<path d="M12 17 L33 17 L33 9 L29 9 L29 12 L25 12 L25 9 L20 9 L20 12 L16 12 L16 9 L12 9 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>`,
	nchess.Knight: `<path d="M12 39 L33 39 L33 35 L12 35 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<path d="M15 35 L31 35 C31 26 30 16 24 10 L21 7 L20 11 C16 12 12 17 10 22 L12 25 L16 23 L20 21 C18 26 15 30 15 35 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<circle cx="19" cy="14" r="1.2" fill="STROKE"/>`,
	nchess.Bishop: `<path d="M11 39 L34 39 L34 35 L11 35 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<path d="M16 35 L29 35 C31 29 30 22 22.5 13 C15 22 14 29 16 35 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<circle cx="22.5" cy="9.5" r="2.5" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<path d="M20 24 L25 24" stroke="STROKE" stroke-width="1.5"/>`,
	nchess.Queen: `<path d="M11 39 L34 39 L34 35 L11 35 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<path d="M13 35 L32 35 L36 14 L29 25 L27 11 L22.5 24 L18 11 L16 25 L9 14 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<circle cx="9" cy="12" r="2" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<circle cx="18" cy="9" r="2" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<circle cx="27" cy="9" r="2" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<circle cx="36" cy="12" r="2" fill="FILL" stroke="STROKE" stroke-width="1.5"/>`,
	nchess.King: `<path d="M11 39 L34 39 L34 35 L11 35 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<path d="M13 35 L32 35 C36 27 33 20 27 20 C25 20 23.5 22 22.5 24 C21.5 22 20 20 18 20 C12 20 9 27 13 35 Z" fill="FILL" stroke="STROKE" stroke-width="1.5"/>
<path d="M21 6 L24 6 L24 9 L27 9 L27 12 L24 12 L24 19 L21 19 L21 12 L18 12 L18 9 L21 9 Z" fill="FILL" stroke="STROKE" stroke-width="1.2"/>`,
}

func pieceSVG(piece nchess.Piece) (string, error) {
	shape, ok := pieceShapes[piece.Type()]
	if !ok {
		return "", fmt.Errorf("no shape for piece %v", piece)
	}
	fill, stroke := "#f8f8f8", "#1a1a1a"
	if piece.Color() == nchess.Black {
		fill, stroke = "#2b2b2b", "#0a0a0a"
	}
	body := strings.NewReplacer("FILL", fill, "STROKE", stroke).Replace(shape)
	return `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">` + body + `</svg>`, nil
}

type pieceKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

// pieceImage rasterizes one piece at size pixels, caching the result.
func pieceImage(piece nchess.Piece, size int) (image.Image, error) {
	key := pieceKey{piece: piece, size: size}
	pieceCacheMu.RLock()
	img, ok := pieceCache[key]
	pieceCacheMu.RUnlock()
	if ok {
		return img, nil
	}

	src, err := pieceSVG(piece)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	rgba := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(rgba, rgba.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = rgba
	pieceCacheMu.Unlock()
	return rgba, nil
}
