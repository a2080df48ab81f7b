package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/store"
)

const defaultBotRating = 1500

// CreateParams describes a new session. Custom overrides Preset when set.
type CreateParams struct {
	Creator  domain.Player
	Opponent domain.Player
	// Color is the creator's color: white, black or random (default).
	Color  string
	Preset string
	Custom *domain.TimeControl
	Rated  bool
}

// Create stores a Pending session and starts the bot if it has the first move.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*Outcome, error) {
	creator, opponent := normalizePlayer(p.Creator), normalizePlayer(p.Opponent)
	if creator.ID == "" || opponent.ID == "" {
		return nil, fmt.Errorf("%w: both players need an id", ErrInvalidRequest)
	}
	if creator.ID == opponent.ID {
		return nil, fmt.Errorf("%w: players must differ", ErrInvalidRequest)
	}
	tc, err := e.resolveControl(p)
	if err != nil {
		return nil, err
	}

	white, black := creator, opponent
	switch domain.ParseSide(p.Color) {
	case domain.White:
	case domain.Black:
		white, black = opponent, creator
	default:
		if strings.TrimSpace(p.Color) != "" && !strings.EqualFold(strings.TrimSpace(p.Color), "random") {
			return nil, fmt.Errorf("%w: unknown color %q", ErrInvalidRequest, p.Color)
		}
		if n, _ := rand.Int(rand.Reader, big.NewInt(2)); n != nil && n.Int64() == 1 {
			white, black = opponent, creator
		}
	}

	sess := newSession(e.newID(), creator.ID, white, black, tc, p.Rated, e.now())
	out, err := e.createSession(ctx, sess)
	if err != nil {
		return nil, err
	}
	e.log.Info("session_create",
		zap.String("session_id", sess.ID),
		zap.String("white_id", white.ID),
		zap.String("black_id", black.ID),
		zap.String("time_control", tc.Name),
	)
	e.continueBots(ctx, sess.ID)
	return out, nil
}

func (e *Engine) resolveControl(p CreateParams) (domain.TimeControl, error) {
	if p.Custom != nil {
		tc := *p.Custom
		if tc.Category == "" {
			tc.Category = domain.CategoryCustom
		}
		if err := tc.Validate(); err != nil {
			return domain.TimeControl{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return tc, nil
	}
	if e.presets == nil {
		return domain.TimeControl{}, fmt.Errorf("%w: no time-control presets configured", ErrInvalidRequest)
	}
	tc, err := e.presets.Resolve(p.Preset)
	if err != nil {
		return domain.TimeControl{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return tc, nil
}

func normalizePlayer(p domain.Player) domain.Player {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	if p.Bot && p.Rating <= 0 {
		p.Rating = defaultBotRating
	}
	return p
}

func newSession(id, creatorID string, white, black domain.Player, tc domain.TimeControl, rated bool, now time.Time) *domain.Session {
	return &domain.Session{
		ID:          id,
		CreatorID:   creatorID,
		White:       white,
		Black:       black,
		TimeControl: tc,
		Rated:       rated,
		Status:      domain.StatusPending,
		MovesUCI:    []string{},
		MovesSAN:    []string{},
		FEN:         rules.StartFEN,
		WhiteLeft:   tc.WhiteInitial,
		BlackLeft:   tc.BlackInitial,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// createSession writes the row and its created event. The row already reflects the event.
func (e *Engine) createSession(ctx context.Context, sess *domain.Session) (*Outcome, error) {
	seq, err := e.events.Reserve(ctx, sess.ID, 0, 1)
	if err != nil {
		return nil, unavailable("reserve event seq", err)
	}
	sess.EventSeq = seq
	if err := e.store.Create(ctx, sess); err != nil {
		return nil, storeErr(err)
	}
	ev := domain.Event{
		Seq:       seq,
		SessionID: sess.ID,
		At:        sess.CreatedAt,
		Kind:      domain.EventCreated,
		State:     domain.StateOf(sess),
	}
	if err := e.events.Push(ctx, sess.ID, ev); err != nil {
		e.log.Warn("event_push_failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
	game, err := e.rules.Replay(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	out := e.outcome(sess, game, []domain.Event{ev}, false, sess.CreatedAt)
	e.notify(ctx, out)
	return out, nil
}

// Rematch records a rematch request on a finished session. Once both sides asked, or the opponent
// is a bot, a new session with swapped colors is created and returned in Outcome.Rematch.
func (e *Engine) Rematch(ctx context.Context, id, playerID string) (*Outcome, error) {
	out, err := e.mutate(ctx, id, "session_rematch", func(m *mutation) error {
		s := m.sess
		side := s.SideOf(playerID)
		if side == domain.NoSide {
			return ErrNotParticipant
		}
		if !s.Status.Terminal() {
			return fmt.Errorf("%w: session still in progress", ErrInvalidRequest)
		}
		if s.RematchID != "" {
			return nil
		}
		switch {
		case s.RematchBy == side.Opponent() || s.Player(side.Opponent()).Bot:
			s.RematchID = e.newID()
		case s.RematchBy == side:
			return nil
		default:
			s.RematchBy = side
		}
		m.emit(domain.Event{Kind: domain.EventRematch, Side: side, PlayerID: playerID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Session.RematchID == "" {
		return out, nil
	}
	next, err := e.ensureRematch(ctx, out.Session)
	if err != nil {
		return out, err
	}
	out.Rematch = next
	e.continueBots(ctx, next.ID)
	return out, nil
}

// ensureRematch creates the follow-up session if an earlier attempt did not get that far.
func (e *Engine) ensureRematch(ctx context.Context, old *domain.Session) (*domain.Session, error) {
	next := newSession(old.RematchID, old.CreatorID, old.Black, old.White, old.TimeControl.Swapped(), old.Rated, e.now())
	_, err := e.createSession(ctx, next)
	switch {
	case err == nil:
		e.log.Info("session_create",
			zap.String("session_id", next.ID),
			zap.String("rematch_of", old.ID),
		)
		return next, nil
	case errors.Is(err, store.ErrExists):
		existing, gerr := e.store.Get(ctx, next.ID)
		if gerr != nil {
			return nil, storeErr(gerr)
		}
		return existing, nil
	default:
		return nil, err
	}
}
