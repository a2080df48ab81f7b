package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/bot"
)

// continueBots plays moves for automated players until a human is to move or the game ends.
// Thinking happens without the session lock; the move is then submitted through the normal
// pipeline and dropped if the position changed in the meantime.
func (e *Engine) continueBots(ctx context.Context, id string) {
	if e.bots == nil || !e.claimBotRun(id) {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for {
		e.runBots(ctx, id)
		if !e.releaseBotRun(id) {
			return
		}
	}
}

// claimBotRun allows one continuation per session in this process. A caller that finds one
// running asks it to look again before it exits.
func (e *Engine) claimBotRun(id string) bool {
	e.botMu.Lock()
	defer e.botMu.Unlock()
	if _, running := e.botRuns[id]; running {
		e.botRuns[id] = true
		return false
	}
	e.botRuns[id] = false
	return true
}

func (e *Engine) releaseBotRun(id string) bool {
	e.botMu.Lock()
	defer e.botMu.Unlock()
	if e.botRuns[id] {
		e.botRuns[id] = false
		return true
	}
	delete(e.botRuns, id)
	return false
}

func (e *Engine) runBots(ctx context.Context, id string) {
	for ply := 0; ply < e.cfg.MaxBotPlies; ply++ {
		sess, _, err := e.load(ctx, id)
		if err != nil {
			e.log.Warn("bot_load_failed", zap.String("session_id", id), zap.Error(err))
			return
		}
		if !sess.Status.Open() {
			return
		}
		mover := sess.Player(sess.SideToMove())
		if !mover.Bot {
			return
		}
		if !sleep(ctx, e.cfg.BotMoveDelay) {
			return
		}
		text, err := e.bots.NextMove(ctx, bot.Request{
			SessionID: id,
			Moves:     append([]string(nil), sess.MovesUCI...),
			FEN:       sess.FEN,
			Rating:    mover.Rating,
		})
		if err != nil {
			e.log.Warn("bot_move_failed", zap.String("session_id", id), zap.String("bot_id", mover.ID), zap.Error(err))
			return
		}
		if err := e.submitBotMove(ctx, id, mover.ID, text, sess.MoveCount()); err != nil {
			if errors.Is(err, errPositionMoved) {
				continue
			}
			if errors.Is(err, ErrTimeExpired) {
				return
			}
			e.log.Warn("bot_move_rejected",
				zap.String("session_id", id),
				zap.String("bot_id", mover.ID),
				zap.String("move", text),
				zap.Error(err),
			)
			return
		}
	}
	e.log.Warn("bot_ply_limit", zap.String("session_id", id), zap.Int("limit", e.cfg.MaxBotPlies))
}

// submitBotMove retries on lock contention with a short linear backoff.
func (e *Engine) submitBotMove(ctx context.Context, id, botID, text string, expect int) error {
	var err error
	for attempt := 0; attempt <= e.cfg.BotRetries; attempt++ {
		_, err = e.mutate(ctx, id, "session_move", func(m *mutation) error {
			return e.applyMove(m, botID, text, expect)
		})
		if !errors.Is(err, ErrBusy) {
			return err
		}
		if !sleep(ctx, time.Duration(attempt+1)*50*time.Millisecond) {
			return ctx.Err()
		}
	}
	return err
}

// ResumeBot restarts a continuation that stopped, for example after a process restart.
func (e *Engine) ResumeBot(ctx context.Context, id string) {
	e.continueBots(ctx, id)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
