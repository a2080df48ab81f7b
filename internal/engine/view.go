package engine

import (
	"time"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

// View renders a session for clients with clock values as of now.
func View(s *domain.Session, snap clock.Snapshot, now time.Time) *arenadto.SessionView {
	v := &arenadto.SessionView{
		ID:    s.ID,
		White: playerView(s.White),
		Black: playerView(s.Black),
		TimeControl: arenadto.TimeControlView{
			Name:           s.TimeControl.Name,
			Category:       string(s.TimeControl.Category),
			WhiteInitial:   s.TimeControl.WhiteInitial,
			BlackInitial:   s.TimeControl.BlackInitial,
			WhiteIncrement: s.TimeControl.WhiteIncrement,
			BlackIncrement: s.TimeControl.BlackIncrement,
		},
		Rated:        s.Rated,
		Status:       string(s.Status),
		Result:       string(s.Result),
		Reason:       string(s.Reason),
		MovesUCI:     append([]string{}, s.MovesUCI...),
		MovesSAN:     append([]string{}, s.MovesSAN...),
		MoveCount:    s.MoveCount(),
		FEN:          s.FEN,
		ToMove:       string(s.SideToMove()),
		WhiteLeft:    snap.White,
		BlackLeft:    snap.Black,
		ClockRunning: snap.Running,
		DrawOffer:    string(s.DrawOffer),
		RematchBy:    string(s.RematchBy),
		RematchID:    s.RematchID,
		CreatedAt:    s.CreatedAt,
		StartedAt:    timePtr(s.StartedAt),
		FinishedAt:   timePtr(s.FinishedAt),
		LastMoveAt:   timePtr(s.LastMoveAt),
		AsOf:         now,
		EventSeq:     s.EventSeq,
	}
	if s.Status.Terminal() {
		v.ToMove = ""
	}
	return v
}

// Result converts a pipeline outcome to the response body. A non-nil err with an outcome is a
// committed rejection, such as a move refused because the mover's flag fell.
func Result(o *Outcome, err error) *arenadto.MoveResult {
	if o == nil {
		return &arenadto.MoveResult{Error: ToDomainError(err)}
	}
	res := &arenadto.MoveResult{
		Session:  View(o.Session, o.Clock, o.At),
		Seq:      o.Seq(),
		Finished: o.Session.Status.Terminal(),
		Result:   string(o.Session.Result),
		Reason:   string(o.Session.Reason),
		Error:    ToDomainError(err),
	}
	for _, mv := range o.LegalMoves {
		res.LegalMoves = append(res.LegalMoves, mv.UCI)
	}
	if o.Rematch != nil {
		res.Rematch = View(o.Rematch, clock.Compute(o.Rematch, o.At), o.At)
	}
	return res
}

func playerView(p domain.Player) arenadto.PlayerView {
	return arenadto.PlayerView{ID: p.ID, Name: p.Name, Bot: p.Bot, Rating: p.Rating}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
