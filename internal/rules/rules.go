// Package rules adapts github.com/corentings/chess/v2 to the narrow interface the session engine needs.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-arena/internal/domain"
)

var (
	// ErrIllegalMove is returned when text does not parse to a legal move in the current position.
	ErrIllegalMove = errors.New("rules: illegal move")
	// ErrBadHistory is returned when a stored move list cannot be replayed.
	ErrBadHistory = errors.New("rules: move history does not replay")
)

// StartFEN is the initial position every session starts from.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Move is a parsed move bound to the position it was parsed against.
type Move struct {
	UCI string
	SAN string

	mv *nchess.Move
}

// Terminal describes whether the game is over and how.
type Terminal struct {
	Over   bool
	Result domain.Result
	Reason domain.FinishReason
}

// Engine builds games from stored move lists.
type Engine interface {
	Replay(movesUCI []string) (Game, error)
	ValidFEN(fen string) bool
}

// Game is a position plus the history needed for repetition and move-limit predicates.
type Game interface {
	Turn() domain.Side
	FEN() string
	MoveCount() int
	ParseMove(text string) (Move, error)
	Apply(m Move) error
	Terminal() Terminal
	Claimable() (domain.FinishReason, bool)
	HasMatingMaterial(side domain.Side) bool
	LegalMoves(limit int) []Move
	LastMove() (from, to string, ok bool)
}

// Chess is the Engine backed by corentings/chess.
type Chess struct{}

// New returns the default engine.
func New() Chess { return Chess{} }

// Replay rebuilds a game from the initial position. Stored FEN is never trusted for this.
func (Chess) Replay(movesUCI []string) (Game, error) {
	game := nchess.NewGame()
	notation := nchess.UCINotation{}
	for i, raw := range movesUCI {
		mv, err := notation.Decode(game.Position(), strings.ToLower(strings.TrimSpace(raw)))
		if err != nil {
			return nil, fmt.Errorf("%w: move %d %q: %v", ErrBadHistory, i+1, raw, err)
		}
		if err := game.Move(mv, nil); err != nil {
			return nil, fmt.Errorf("%w: move %d %q: %v", ErrBadHistory, i+1, raw, err)
		}
	}
	return &chessGame{g: game}, nil
}

// ValidFEN reports whether fen parses as a position.
func (Chess) ValidFEN(fen string) bool {
	if strings.TrimSpace(fen) == "" {
		return false
	}
	_, err := nchess.FEN(fen)
	return err == nil
}

type chessGame struct {
	g *nchess.Game
}

func (c *chessGame) Turn() domain.Side { return sideFrom(c.g.Position().Turn()) }

func (c *chessGame) FEN() string { return c.g.FEN() }

func (c *chessGame) MoveCount() int { return len(c.g.Moves()) }

// ParseMove tries coordinate notation first, then SAN.
func (c *chessGame) ParseMove(text string) (Move, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return Move{}, fmt.Errorf("%w: empty", ErrIllegalMove)
	}
	pos := c.g.Position()
	if mv, err := (nchess.UCINotation{}).Decode(pos, strings.ToLower(raw)); err == nil && c.legal(mv) {
		return Move{UCI: mv.String(), SAN: nchess.AlgebraicNotation{}.Encode(pos, mv), mv: mv}, nil
	}
	if mv, err := (nchess.AlgebraicNotation{}).Decode(pos, raw); err == nil && c.legal(mv) {
		return Move{UCI: mv.String(), SAN: nchess.AlgebraicNotation{}.Encode(pos, mv), mv: mv}, nil
	}
	return Move{}, fmt.Errorf("%w: %q", ErrIllegalMove, raw)
}

func (c *chessGame) legal(mv *nchess.Move) bool {
	if mv == nil {
		return false
	}
	want := mv.String()
	for _, v := range c.g.ValidMoves() {
		if v.String() == want {
			return true
		}
	}
	return false
}

func (c *chessGame) Apply(m Move) error {
	if m.mv == nil {
		return fmt.Errorf("%w: unparsed move", ErrIllegalMove)
	}
	if err := c.g.Move(m.mv, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	return nil
}

// Terminal checks the live position and, for repetition and the fifty-move rule, the whole history.
// Threefold repetition and the fifty-move rule end the game without a claim.
func (c *chessGame) Terminal() Terminal {
	if out := c.g.Outcome(); out != nchess.NoOutcome {
		return Terminal{Over: true, Result: resultFrom(out), Reason: reasonFrom(c.g.Method())}
	}
	if reason, ok := c.Claimable(); ok {
		return Terminal{Over: true, Result: domain.ResultDraw, Reason: reason}
	}
	return Terminal{}
}

// Claimable reports a draw a player could claim on the current history.
func (c *chessGame) Claimable() (domain.FinishReason, bool) {
	for _, m := range c.g.EligibleDraws() {
		switch m {
		case nchess.ThreefoldRepetition:
			return domain.ReasonThreefoldRepetition, true
		case nchess.FiftyMoveRule:
			return domain.ReasonFiftyMoveRule, true
		}
	}
	return domain.ReasonNone, false
}

// HasMatingMaterial is false when side holds only its king, or king plus a single minor piece.
func (c *chessGame) HasMatingMaterial(side domain.Side) bool {
	want := colorFrom(side)
	board := c.g.Position().Board()
	minors := 0
	for file := nchess.FileA; file <= nchess.FileH; file++ {
		for rank := nchess.Rank1; rank <= nchess.Rank8; rank++ {
			piece := board.Piece(nchess.NewSquare(file, rank))
			if piece == nchess.NoPiece || piece.Color() != want {
				continue
			}
			switch piece.Type() {
			case nchess.King:
			case nchess.Bishop, nchess.Knight:
				minors++
			default:
				return true
			}
		}
	}
	return minors >= 2
}

// LegalMoves lists up to limit legal moves; limit <= 0 means all.
func (c *chessGame) LegalMoves(limit int) []Move {
	pos := c.g.Position()
	valid := c.g.ValidMoves()
	out := make([]Move, 0, len(valid))
	for _, v := range valid {
		if limit > 0 && len(out) >= limit {
			break
		}
		mv, err := (nchess.UCINotation{}).Decode(pos, v.String())
		if err != nil {
			continue
		}
		out = append(out, Move{UCI: mv.String(), SAN: nchess.AlgebraicNotation{}.Encode(pos, mv), mv: mv})
	}
	return out
}

func (c *chessGame) LastMove() (string, string, bool) {
	moves := c.g.Moves()
	if len(moves) == 0 {
		return "", "", false
	}
	mv := moves[len(moves)-1]
	return mv.S1().String(), mv.S2().String(), true
}

func sideFrom(c nchess.Color) domain.Side {
	if c == nchess.Black {
		return domain.Black
	}
	return domain.White
}

func colorFrom(s domain.Side) nchess.Color {
	if s == domain.Black {
		return nchess.Black
	}
	return nchess.White
}

func resultFrom(o nchess.Outcome) domain.Result {
	switch o {
	case nchess.WhiteWon:
		return domain.ResultWhite
	case nchess.BlackWon:
		return domain.ResultBlack
	case nchess.Draw:
		return domain.ResultDraw
	default:
		return domain.ResultUnset
	}
}

func reasonFrom(m nchess.Method) domain.FinishReason {
	switch m {
	case nchess.Checkmate:
		return domain.ReasonCheckmate
	case nchess.Stalemate:
		return domain.ReasonStalemate
	case nchess.InsufficientMaterial:
		return domain.ReasonInsufficientMaterial
	case nchess.ThreefoldRepetition:
		return domain.ReasonThreefoldRepetition
	case nchess.FivefoldRepetition:
		return domain.ReasonFivefoldRepetition
	case nchess.FiftyMoveRule:
		return domain.ReasonFiftyMoveRule
	case nchess.SeventyFiveMoveRule:
		return domain.ReasonSeventyFiveMoveRule
	default:
		return domain.FinishReason(strings.ToLower(m.String()))
	}
}
