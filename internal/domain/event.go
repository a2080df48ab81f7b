package domain

import (
	"fmt"
	"time"
)

// EventKind labels an Event.
type EventKind string

const (
	EventCreated          EventKind = "created"
	EventMove             EventKind = "move"
	EventDrawOffer        EventKind = "draw_offer"
	EventDrawOfferCleared EventKind = "draw_offer_cleared"
	EventDrawResponse     EventKind = "draw_response"
	EventDrawClaim        EventKind = "draw_claim"
	EventResign           EventKind = "resign"
	EventTimeout          EventKind = "timeout"
	EventAbort            EventKind = "abort"
	EventRematch          EventKind = "rematch"
	EventChat             EventKind = "chat"
)

// PlayState is the mutable part of a Session after an event was committed.
// Events that change the session carry it so a stale durable row can be caught up from the log.
type PlayState struct {
	Status     Status       `json:"status"`
	Result     Result       `json:"result,omitempty"`
	Reason     FinishReason `json:"reason,omitempty"`
	MoveCount  int          `json:"move_count"`
	FEN        string       `json:"fen"`
	WhiteLeft  int64        `json:"white_left"`
	BlackLeft  int64        `json:"black_left"`
	WhiteCarry int64        `json:"white_carry_ms,omitempty"`
	BlackCarry int64        `json:"black_carry_ms,omitempty"`
	LastMoveAt time.Time    `json:"last_move_at,omitempty"`
	DrawOffer  Side         `json:"draw_offer,omitempty"`
	RematchBy  Side         `json:"rematch_by,omitempty"`
	RematchID  string       `json:"rematch_id,omitempty"`
	StartedAt  time.Time    `json:"started_at,omitempty"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`
}

// StateOf captures the play state of s.
func StateOf(s *Session) *PlayState {
	return &PlayState{
		Status:     s.Status,
		Result:     s.Result,
		Reason:     s.Reason,
		MoveCount:  len(s.MovesUCI),
		FEN:        s.FEN,
		WhiteLeft:  s.WhiteLeft,
		BlackLeft:  s.BlackLeft,
		WhiteCarry: s.WhiteCarryMs,
		BlackCarry: s.BlackCarryMs,
		LastMoveAt: s.LastMoveAt,
		DrawOffer:  s.DrawOffer,
		RematchBy:  s.RematchBy,
		RematchID:  s.RematchID,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}
}

// Event is an immutable fact in a session's log.
type Event struct {
	Seq       int64     `json:"seq"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
	Kind      EventKind `json:"kind"`
	Side      Side      `json:"side,omitempty"`
	PlayerID  string    `json:"player_id,omitempty"`

	MoveUCI string       `json:"move_uci,omitempty"`
	MoveSAN string       `json:"move_san,omitempty"`
	Accept  *bool        `json:"accept,omitempty"`
	Text    string       `json:"text,omitempty"`
	Reason  FinishReason `json:"reason,omitempty"`

	State *PlayState `json:"state,omitempty"`
}

// ApplyTo replays the event's state patch onto s. Events without a patch only advance EventSeq.
func (e *Event) ApplyTo(s *Session) error {
	if e == nil {
		return nil
	}
	if e.State == nil {
		if e.Seq > s.EventSeq {
			s.EventSeq = e.Seq
		}
		return nil
	}
	st := e.State
	if e.MoveUCI != "" {
		switch st.MoveCount {
		case len(s.MovesUCI) + 1:
			s.MovesUCI = append(s.MovesUCI, e.MoveUCI)
			s.MovesSAN = append(s.MovesSAN, e.MoveSAN)
		case len(s.MovesUCI):
			// already reflected
		default:
			return fmt.Errorf("event %d: move count %d does not follow %d", e.Seq, st.MoveCount, len(s.MovesUCI))
		}
	} else if st.MoveCount != len(s.MovesUCI) {
		return fmt.Errorf("event %d: move count %d differs from %d", e.Seq, st.MoveCount, len(s.MovesUCI))
	}
	s.Status = st.Status
	s.Result = st.Result
	s.Reason = st.Reason
	s.FEN = st.FEN
	s.WhiteLeft = st.WhiteLeft
	s.BlackLeft = st.BlackLeft
	s.WhiteCarryMs = st.WhiteCarry
	s.BlackCarryMs = st.BlackCarry
	s.LastMoveAt = st.LastMoveAt
	s.DrawOffer = st.DrawOffer
	s.RematchBy = st.RematchBy
	s.RematchID = st.RematchID
	s.StartedAt = st.StartedAt
	s.FinishedAt = st.FinishedAt
	if e.Seq > s.EventSeq {
		s.EventSeq = e.Seq
	}
	if e.At.After(s.UpdatedAt) {
		s.UpdatedAt = e.At
	}
	return nil
}
