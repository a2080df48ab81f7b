// Package clock computes chess-clock state from a session and wall-clock time. It never mutates the session.
package clock

import (
	"time"

	"github.com/park285/cheese-arena/internal/domain"
)

// Snapshot is the clock view at a given instant.
type Snapshot struct {
	White   int64
	Black   int64
	ToMove  domain.Side
	Elapsed int64
	// CarryMs is the to-move side's time used beyond Elapsed, still uncharged.
	CarryMs int64
	// Running is true when the to-move side's clock is ticking.
	Running bool
	// Timed is false for unlimited controls; Flagged never fires then.
	Timed bool
}

// Left returns the remaining seconds for side.
func (s Snapshot) Left(side domain.Side) int64 {
	if side == domain.Black {
		return s.Black
	}
	return s.White
}

// Flagged reports whether the side to move has no time left. A stored zero counts even before the clock starts.
func (s Snapshot) Flagged() bool {
	return s.Timed && s.Left(s.ToMove) <= 0
}

// Compute returns remaining time per side. The clock only ticks while the session is Active
// and both sides have moved once. Whole seconds are charged; the fraction is reported as CarryMs
// and charged on the side's next turn.
func Compute(sess *domain.Session, now time.Time) Snapshot {
	snap := Snapshot{
		White:  clamp(sess.WhiteLeft),
		Black:  clamp(sess.BlackLeft),
		ToMove: sess.SideToMove(),
		Timed:  !sess.TimeControl.Unlimited(),
	}
	if !snap.Timed || sess.Status != domain.StatusActive || sess.MoveCount() < 2 || sess.LastMoveAt.IsZero() {
		return snap
	}
	used := now.Sub(sess.LastMoveAt)
	if used < 0 {
		used = 0
	}
	used += time.Duration(sess.Carry(snap.ToMove)) * time.Millisecond
	elapsed := int64(used / time.Second)
	snap.Elapsed = elapsed
	snap.CarryMs = int64(used%time.Second) / int64(time.Millisecond)
	snap.Running = true
	if snap.ToMove == domain.Black {
		snap.Black = clamp(snap.Black - elapsed)
	} else {
		snap.White = clamp(snap.White - elapsed)
	}
	return snap
}

// FirstMoveDeadline returns when the side to move must make its opening move, or false once both sides
// have moved or the session is no longer open.
func FirstMoveDeadline(sess *domain.Session, grace time.Duration) (time.Time, bool) {
	if grace <= 0 || !sess.Status.Open() {
		return time.Time{}, false
	}
	switch sess.MoveCount() {
	case 0:
		return sess.CreatedAt.Add(grace), true
	case 1:
		return sess.LastMoveAt.Add(grace), true
	default:
		return time.Time{}, false
	}
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
