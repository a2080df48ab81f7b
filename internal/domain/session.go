package domain

import (
	"strings"
	"time"
)

// Side identifies a chess side. White is side A, Black is side B.
type Side string

const (
	NoSide Side = ""
	White  Side = "white"
	Black  Side = "black"
)

// Opponent returns the other side.
func (s Side) Opponent() Side {
	switch s {
	case White:
		return Black
	case Black:
		return White
	default:
		return NoSide
	}
}

// ParseSide accepts white/black/w/b in any case.
func ParseSide(raw string) Side {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "white", "w":
		return White
	case "black", "b":
		return Black
	default:
		return NoSide
	}
}

// Status is the session lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
	StatusFinished Status = "FINISHED"
	StatusAborted  Status = "ABORTED"
)

// Terminal reports whether no further play-state transition is allowed.
func (s Status) Terminal() bool { return s == StatusFinished || s == StatusAborted }

// Open reports whether the session still accepts moves.
func (s Status) Open() bool { return s == StatusPending || s == StatusActive }

// CanTransition enforces Pending→{Active,Aborted}, Active→{Finished,Aborted}.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusAborted
	case StatusActive:
		return next == StatusFinished || next == StatusAborted
	default:
		return false
	}
}

// Result is the final score of a session.
type Result string

const (
	ResultUnset Result = ""
	ResultWhite Result = "white"
	ResultBlack Result = "black"
	ResultDraw  Result = "draw"
)

// WinFor maps a winning side to its result.
func WinFor(side Side) Result {
	switch side {
	case White:
		return ResultWhite
	case Black:
		return ResultBlack
	default:
		return ResultUnset
	}
}

// PGN returns the PGN result token.
func (r Result) PGN() string {
	switch r {
	case ResultWhite:
		return "1-0"
	case ResultBlack:
		return "0-1"
	case ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// FinishReason explains a terminal transition.
type FinishReason string

const (
	ReasonNone                   FinishReason = ""
	ReasonCheckmate              FinishReason = "checkmate"
	ReasonStalemate              FinishReason = "stalemate"
	ReasonInsufficientMaterial   FinishReason = "insufficient_material"
	ReasonThreefoldRepetition    FinishReason = "threefold_repetition"
	ReasonFivefoldRepetition     FinishReason = "fivefold_repetition"
	ReasonFiftyMoveRule          FinishReason = "fifty_move_rule"
	ReasonSeventyFiveMoveRule    FinishReason = "seventy_five_move_rule"
	ReasonResignation            FinishReason = "resignation"
	ReasonTimeout                FinishReason = "timeout"
	ReasonTimeoutVsInsufficient  FinishReason = "timeout_insufficient_material"
	ReasonDrawAgreement          FinishReason = "draw_agreement"
	ReasonAborted                FinishReason = "aborted"
	ReasonNoFirstMove            FinishReason = "no_first_move"
)

// Player is one participant. Bot players carry the rating their moves are conditioned on.
type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Bot    bool   `json:"bot,omitempty"`
	Rating int    `json:"rating,omitempty"`
}

// Session is the authoritative record of one match.
type Session struct {
	ID        string `json:"id"`
	CreatorID string `json:"creator_id"`
	White     Player `json:"white"`
	Black     Player `json:"black"`

	TimeControl TimeControl `json:"time_control"`
	Rated       bool        `json:"rated"`

	Status    Status       `json:"status"`
	Result    Result       `json:"result,omitempty"`
	Reason    FinishReason `json:"reason,omitempty"`
	MovesUCI  []string     `json:"moves_uci"`
	MovesSAN  []string     `json:"moves_san"`
	FEN       string       `json:"fen"`
	WhiteLeft int64        `json:"white_left"`
	BlackLeft int64        `json:"black_left"`
	// sub-second time a side has used but not yet been charged
	WhiteCarryMs int64 `json:"white_carry_ms,omitempty"`
	BlackCarryMs int64 `json:"black_carry_ms,omitempty"`

	LastMoveAt time.Time `json:"last_move_at,omitempty"`
	DrawOffer  Side      `json:"draw_offer,omitempty"`
	RematchBy  Side      `json:"rematch_by,omitempty"`
	RematchID  string    `json:"rematch_id,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`

	// EventSeq is the sequence number of the last event this record reflects.
	EventSeq int64 `json:"event_seq"`
}

// Clone returns a deep copy safe to mutate.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.MovesUCI = append([]string(nil), s.MovesUCI...)
	cp.MovesSAN = append([]string(nil), s.MovesSAN...)
	return &cp
}

// MoveCount is the number of committed half-moves.
func (s *Session) MoveCount() int { return len(s.MovesUCI) }

// SideToMove derives the mover from move-count parity; sessions always start from the initial position.
func (s *Session) SideToMove() Side {
	if len(s.MovesUCI)%2 == 0 {
		return White
	}
	return Black
}

// SideOf returns the side played by userID, or NoSide.
func (s *Session) SideOf(userID string) Side {
	id := strings.TrimSpace(userID)
	if id == "" {
		return NoSide
	}
	switch id {
	case s.White.ID:
		return White
	case s.Black.ID:
		return Black
	default:
		return NoSide
	}
}

// Player returns the participant on side.
func (s *Session) Player(side Side) Player {
	if side == Black {
		return s.Black
	}
	return s.White
}

// Remaining returns the stored seconds left for side.
func (s *Session) Remaining(side Side) int64 {
	if side == Black {
		return s.BlackLeft
	}
	return s.WhiteLeft
}

// SetRemaining stores seconds left for side, clamped at zero.
func (s *Session) SetRemaining(side Side, secs int64) {
	if secs < 0 {
		secs = 0
	}
	if side == Black {
		s.BlackLeft = secs
		return
	}
	s.WhiteLeft = secs
}

// Carry returns the uncharged milliseconds for side.
func (s *Session) Carry(side Side) int64 {
	if side == Black {
		return s.BlackCarryMs
	}
	return s.WhiteCarryMs
}

func (s *Session) SetCarry(side Side, ms int64) {
	if side == Black {
		s.BlackCarryMs = ms
		return
	}
	s.WhiteCarryMs = ms
}

// Finish moves the session into a terminal state. It returns false when the transition is not allowed.
func (s *Session) Finish(status Status, result Result, reason FinishReason, at time.Time) bool {
	if !s.Status.CanTransition(status) || s.Status.Terminal() {
		return false
	}
	s.Status = status
	s.Result = result
	s.Reason = reason
	s.FinishedAt = at
	s.DrawOffer = NoSide
	return true
}
