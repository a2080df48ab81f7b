package engine

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/park285/cheese-arena/internal/domain"
)

func participant(s *domain.Session, playerID string) (domain.Side, error) {
	side := s.SideOf(playerID)
	if side == domain.NoSide {
		return side, ErrNotParticipant
	}
	return side, nil
}

func ensureOpen(s *domain.Session) error {
	if s.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrSessionOver, s.Reason)
	}
	return nil
}

// Resign concedes. Resigning before the first move aborts; resigning against a side that cannot
// mate is a draw.
func (e *Engine) Resign(ctx context.Context, id, playerID string) (*Outcome, error) {
	return e.mutate(ctx, id, "session_resign", func(m *mutation) error {
		s := m.sess
		side, err := participant(s, playerID)
		if err != nil {
			return err
		}
		if err := ensureOpen(s); err != nil {
			return err
		}
		if s.Status == domain.StatusPending {
			s.Finish(domain.StatusAborted, domain.ResultUnset, domain.ReasonAborted, m.now)
			m.emit(domain.Event{Kind: domain.EventAbort, Side: side, PlayerID: playerID, Reason: domain.ReasonAborted})
			return nil
		}
		if e.flagFell(m) {
			return nil
		}
		winner := side.Opponent()
		result := domain.WinFor(winner)
		if !m.game.HasMatingMaterial(winner) {
			result = domain.ResultDraw
		}
		s.Finish(domain.StatusFinished, result, domain.ReasonResignation, m.now)
		m.emit(domain.Event{Kind: domain.EventResign, Side: side, PlayerID: playerID, Reason: domain.ReasonResignation})
		return nil
	})
}

// OfferDraw records a draw offer. Offering while the opponent's offer stands accepts it.
// Bots decline immediately.
func (e *Engine) OfferDraw(ctx context.Context, id, playerID string) (*Outcome, error) {
	return e.mutate(ctx, id, "session_draw_offer", func(m *mutation) error {
		s := m.sess
		side, err := participant(s, playerID)
		if err != nil {
			return err
		}
		if err := ensureOpen(s); err != nil {
			return err
		}
		if s.Status != domain.StatusActive {
			return fmt.Errorf("%w: no move played yet", ErrInvalidRequest)
		}
		if e.flagFell(m) {
			return nil
		}
		switch s.DrawOffer {
		case side:
			return nil
		case side.Opponent():
			accept := true
			s.Finish(domain.StatusFinished, domain.ResultDraw, domain.ReasonDrawAgreement, m.now)
			m.emit(domain.Event{Kind: domain.EventDrawResponse, Side: side, PlayerID: playerID, Accept: &accept, Reason: domain.ReasonDrawAgreement})
			return nil
		}
		s.DrawOffer = side
		m.emit(domain.Event{Kind: domain.EventDrawOffer, Side: side, PlayerID: playerID})
		if opp := s.Player(side.Opponent()); opp.Bot {
			decline := false
			s.DrawOffer = domain.NoSide
			m.emit(domain.Event{Kind: domain.EventDrawResponse, Side: side.Opponent(), PlayerID: opp.ID, Accept: &decline})
		}
		return nil
	})
}

// RespondDraw accepts or declines the opponent's pending offer.
func (e *Engine) RespondDraw(ctx context.Context, id, playerID string, accept bool) (*Outcome, error) {
	return e.mutate(ctx, id, "session_draw_response", func(m *mutation) error {
		s := m.sess
		side, err := participant(s, playerID)
		if err != nil {
			return err
		}
		if err := ensureOpen(s); err != nil {
			return err
		}
		if s.DrawOffer != side.Opponent() {
			return ErrNoDrawOffer
		}
		if e.flagFell(m) {
			return nil
		}
		ev := domain.Event{Kind: domain.EventDrawResponse, Side: side, PlayerID: playerID, Accept: &accept}
		if accept {
			s.Finish(domain.StatusFinished, domain.ResultDraw, domain.ReasonDrawAgreement, m.now)
			ev.Reason = domain.ReasonDrawAgreement
		} else {
			s.DrawOffer = domain.NoSide
		}
		m.emit(ev)
		return nil
	})
}

// ClaimDraw finishes the game when the history supports a repetition or move-limit claim.
// Those draws normally end the game on their own, so a successful claim is rare.
func (e *Engine) ClaimDraw(ctx context.Context, id, playerID string) (*Outcome, error) {
	return e.mutate(ctx, id, "session_draw_claim", func(m *mutation) error {
		s := m.sess
		side, err := participant(s, playerID)
		if err != nil {
			return err
		}
		if err := ensureOpen(s); err != nil {
			return err
		}
		if e.flagFell(m) {
			return nil
		}
		reason, ok := m.game.Claimable()
		if !ok {
			return ErrNotClaimable
		}
		s.Finish(domain.StatusFinished, domain.ResultDraw, reason, m.now)
		m.emit(domain.Event{Kind: domain.EventDrawClaim, Side: side, PlayerID: playerID, Reason: reason})
		return nil
	})
}

// Abort cancels a session before both sides have moved.
func (e *Engine) Abort(ctx context.Context, id, playerID string) (*Outcome, error) {
	return e.mutate(ctx, id, "session_abort", func(m *mutation) error {
		s := m.sess
		side, err := participant(s, playerID)
		if err != nil {
			return err
		}
		if err := ensureOpen(s); err != nil {
			return err
		}
		if s.MoveCount() >= 2 {
			return fmt.Errorf("%w: too late to abort, resign instead", ErrInvalidRequest)
		}
		s.Finish(domain.StatusAborted, domain.ResultUnset, domain.ReasonAborted, m.now)
		m.emit(domain.Event{Kind: domain.EventAbort, Side: side, PlayerID: playerID, Reason: domain.ReasonAborted})
		return nil
	})
}

// Chat appends a message from a participant. It takes the session lock so chat and play events
// keep their sequence order, but never changes play state.
func (e *Engine) Chat(ctx context.Context, id, playerID, text string) (*Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidRequest)
	}
	if !utf8.ValidString(text) || utf8.RuneCountInString(text) > e.cfg.ChatMaxRunes {
		return nil, fmt.Errorf("%w: message longer than %d characters", ErrInvalidRequest, e.cfg.ChatMaxRunes)
	}
	return e.mutate(ctx, id, "session_chat", func(m *mutation) error {
		side, err := participant(m.sess, playerID)
		if err != nil {
			return err
		}
		m.emit(domain.Event{Kind: domain.EventChat, Side: side, PlayerID: playerID, Text: text})
		return nil
	})
}
