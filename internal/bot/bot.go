// Package bot supplies moves for automated players.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/bot/uci"
	"github.com/park285/cheese-arena/internal/rules"
)

// ErrNoMove is returned when the position has no legal move.
var ErrNoMove = errors.New("bot: no legal move")

// Request describes the position to move in. Rating conditions playing strength.
type Request struct {
	SessionID string
	Moves     []string
	FEN       string
	Rating    int
}

type Provider interface {
	NextMove(ctx context.Context, req Request) (string, error)
}

// Stockfish asks a pooled UCI engine, limited to the bot's rating.
type Stockfish struct {
	pool   *uci.Pool
	limits uci.Limits
	log    *zap.Logger
}

func NewStockfish(pool *uci.Pool, moveTime time.Duration, log *zap.Logger) *Stockfish {
	if log == nil {
		log = zap.NewNop()
	}
	ms := int(moveTime / time.Millisecond)
	if ms <= 0 {
		ms = 300
	}
	return &Stockfish{pool: pool, limits: uci.Limits{MoveTimeMillis: ms}, log: log}
}

func (s *Stockfish) NextMove(ctx context.Context, req Request) (string, error) {
	sess, err := s.pool.Acquire(ctx, req.Rating)
	if err != nil {
		return "", fmt.Errorf("acquire engine: %w", err)
	}
	mv, err := sess.BestMove(ctx, req.Moves, s.limits)
	s.pool.Release(sess, err)
	if err != nil {
		return "", err
	}
	s.log.Debug("bot_engine_move", zap.String("session_id", req.SessionID), zap.Int("rating", req.Rating), zap.String("move", mv))
	return mv, nil
}

// Random plays a uniformly random legal move.
type Random struct {
	engine rules.Engine

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandom(engine rules.Engine, seed int64) *Random {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Random{engine: engine, rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) NextMove(ctx context.Context, req Request) (string, error) {
	g, err := r.engine.Replay(req.Moves)
	if err != nil {
		return "", err
	}
	legal := g.LegalMoves(0)
	if len(legal) == 0 {
		return "", ErrNoMove
	}
	r.mu.Lock()
	i := r.rng.Intn(len(legal))
	r.mu.Unlock()
	return legal[i].UCI, nil
}

// Fallback tries Primary and falls back to Secondary on error.
type Fallback struct {
	Primary   Provider
	Secondary Provider
	Log       *zap.Logger
}

func (f Fallback) NextMove(ctx context.Context, req Request) (string, error) {
	mv, err := f.Primary.NextMove(ctx, req)
	if err == nil {
		return mv, nil
	}
	if f.Log != nil {
		f.Log.Warn("bot_primary_failed", zap.String("session_id", req.SessionID), zap.Error(err))
	}
	return f.Secondary.NextMove(ctx, req)
}
