package engine

import (
	"context"
	"fmt"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/domain"
)

// Move plays text (UCI or SAN) for playerID. If the mover's flag has already fallen the session is
// finished on time, that result is committed, and the returned error is ErrTimeExpired alongside
// the outcome. An automated opponent replies before Move returns.
func (e *Engine) Move(ctx context.Context, id, playerID, text string) (*Outcome, error) {
	out, err := e.mutate(ctx, id, "session_move", func(m *mutation) error {
		return e.applyMove(m, playerID, text, -1)
	})
	if err == nil && out.Session.Status.Open() {
		e.continueBots(ctx, id)
	}
	return out, err
}

// applyMove is the validated move path. expect >= 0 pins the move count the move was computed for.
func (e *Engine) applyMove(m *mutation, playerID, text string, expect int) error {
	s := m.sess
	side := s.SideOf(playerID)
	if side == domain.NoSide {
		return ErrNotParticipant
	}
	if s.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrSessionOver, s.Reason)
	}
	if expect >= 0 && s.MoveCount() != expect {
		return errPositionMoved
	}
	if side != s.SideToMove() {
		return fmt.Errorf("%w: %s to move", ErrNotYourTurn, s.SideToMove())
	}

	if s.Status == domain.StatusPending {
		s.Status = domain.StatusActive
		s.StartedAt = m.now
	}
	if e.flagFell(m) {
		return nil
	}

	mv, err := m.game.ParseMove(text)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	snap := clock.Compute(s, m.now)
	before := s.MoveCount()
	if err := m.game.Apply(mv); err != nil {
		return fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}

	s.MovesUCI = append(s.MovesUCI, mv.UCI)
	s.MovesSAN = append(s.MovesSAN, mv.SAN)
	s.FEN = m.game.FEN()
	if snap.Running {
		s.SetRemaining(side, snap.Left(side))
		s.SetCarry(side, snap.CarryMs)
	}
	if snap.Timed && before >= 2 {
		s.SetRemaining(side, s.Remaining(side)+s.TimeControl.Increment(side))
	}
	s.LastMoveAt = m.now
	m.emit(domain.Event{Kind: domain.EventMove, Side: side, PlayerID: playerID, MoveUCI: mv.UCI, MoveSAN: mv.SAN})

	if s.DrawOffer != domain.NoSide {
		s.DrawOffer = domain.NoSide
		m.emit(domain.Event{Kind: domain.EventDrawOfferCleared, Side: side})
	}

	if t := m.game.Terminal(); t.Over {
		s.Finish(domain.StatusFinished, t.Result, t.Reason, m.now)
	}
	return nil
}

// flagFell finishes an Active session whose side to move is out of time and marks the caller's
// request as rejected. The timeout itself is committed.
func (e *Engine) flagFell(m *mutation) bool {
	if m.sess.Status != domain.StatusActive {
		return false
	}
	snap := clock.Compute(m.sess, m.now)
	if !snap.Flagged() {
		return false
	}
	e.finishOnTime(m, snap.ToMove)
	m.fail = fmt.Errorf("%w: %s flagged", ErrTimeExpired, snap.ToMove)
	return true
}

// finishOnTime awards the game to the opponent of loser, or a draw when the opponent cannot mate.
func (e *Engine) finishOnTime(m *mutation, loser domain.Side) {
	winner := loser.Opponent()
	result, reason := domain.WinFor(winner), domain.ReasonTimeout
	if !m.game.HasMatingMaterial(winner) {
		result, reason = domain.ResultDraw, domain.ReasonTimeoutVsInsufficient
	}
	m.sess.SetRemaining(loser, 0)
	m.sess.Finish(domain.StatusFinished, result, reason, m.now)
	m.emit(domain.Event{Kind: domain.EventTimeout, Side: loser, Reason: reason})
}

// Expire enforces the clock and the first-move grace window for one session. It is a no-op when
// neither applies, so the sweeper may call it on stale candidates.
func (e *Engine) Expire(ctx context.Context, id string) (*Outcome, error) {
	return e.mutate(ctx, id, "session_expire", func(m *mutation) error {
		s := m.sess
		if !s.Status.Open() {
			return nil
		}
		if s.Status == domain.StatusActive {
			if snap := clock.Compute(s, m.now); snap.Flagged() {
				e.finishOnTime(m, snap.ToMove)
				return nil
			}
		}
		deadline, ok := clock.FirstMoveDeadline(s, e.cfg.FirstMoveGrace)
		if !ok || m.now.Before(deadline) {
			return nil
		}
		mover := s.SideToMove()
		s.Finish(domain.StatusAborted, domain.ResultUnset, domain.ReasonNoFirstMove, m.now)
		m.emit(domain.Event{Kind: domain.EventAbort, Side: mover, Reason: domain.ReasonNoFirstMove})
		return nil
	})
}
