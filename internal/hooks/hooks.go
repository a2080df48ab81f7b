// Package hooks delivers the once-per-session "finished" signal to rating and notification collaborators.
package hooks

import (
	"context"
	"errors"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
)

// Finished describes a terminal transition.
type Finished struct {
	SessionID   string              `json:"session_id"`
	White       domain.Player       `json:"white"`
	Black       domain.Player       `json:"black"`
	Mode        domain.Category     `json:"mode"`
	TimeControl domain.TimeControl  `json:"time_control"`
	Rated       bool                `json:"rated"`
	Status      domain.Status       `json:"status"`
	Result      domain.Result       `json:"result"`
	Reason      domain.FinishReason `json:"reason"`
	MovesUCI    []string            `json:"moves_uci"`
	MovesSAN    []string            `json:"moves_san"`
	CreatedAt   time.Time           `json:"created_at"`
	FinishedAt  time.Time           `json:"finished_at"`
}

// FromSession builds the payload for a terminal session.
func FromSession(s *domain.Session) Finished {
	return Finished{
		SessionID:   s.ID,
		White:       s.White,
		Black:       s.Black,
		Mode:        s.TimeControl.Category,
		TimeControl: s.TimeControl,
		Rated:       s.Rated,
		Status:      s.Status,
		Result:      s.Result,
		Reason:      s.Reason,
		MovesUCI:    append([]string(nil), s.MovesUCI...),
		MovesSAN:    append([]string(nil), s.MovesSAN...),
		CreatedAt:   s.CreatedAt,
		FinishedAt:  s.FinishedAt,
	}
}

type Hook interface {
	SessionFinished(ctx context.Context, f Finished) error
}

// Func adapts a function to Hook.
type Func func(ctx context.Context, f Finished) error

func (fn Func) SessionFinished(ctx context.Context, f Finished) error { return fn(ctx, f) }

// Multi calls every hook and joins their errors.
type Multi []Hook

func (m Multi) SessionFinished(ctx context.Context, f Finished) error {
	var errs []error
	for _, h := range m {
		if h == nil {
			continue
		}
		if err := h.SessionFinished(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
