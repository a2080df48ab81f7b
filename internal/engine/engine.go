// Package engine runs every session mutation through one locked pipeline: lock, row-locked read with
// event-log catch-up, validation, state change, persistence, event append, unlock, then broadcast and
// the finished hook.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/bot"
	"github.com/park285/cheese-arena/internal/broadcast"
	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/eventlog"
	"github.com/park285/cheese-arena/internal/hooks"
	"github.com/park285/cheese-arena/internal/lock"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/park285/cheese-arena/internal/writebuffer"
)

// EventLog is the subset of *eventlog.Log the engine uses.
type EventLog interface {
	Reserve(ctx context.Context, sessionID string, floor int64, n int) (int64, error)
	Push(ctx context.Context, sessionID string, events ...domain.Event) error
	ReadSince(ctx context.Context, sessionID string, since int64) (eventlog.Batch, error)
	Cap() int
}

// Presets resolves named time controls.
type Presets interface {
	Resolve(name string) (domain.TimeControl, error)
}

type Config struct {
	// FirstMoveGrace is how long each side has for its first move before the session is aborted.
	FirstMoveGrace time.Duration
	// BotMoveDelay is waited before asking a bot for its move.
	BotMoveDelay time.Duration
	// BotRetries bounds re-submissions of a bot move that hit a busy lock.
	BotRetries int
	// BotStallAfter lets the sweeper restart a bot whose turn has been idle this long.
	BotStallAfter time.Duration
	// MaxBotPlies bounds one continuation chain, which only matters for bot-vs-bot sessions.
	MaxBotPlies     int
	LegalMovesLimit int
	ChatMaxRunes    int
	HookTimeout     time.Duration

	FlushDelay    time.Duration
	FlushParallel int
}

func (c *Config) defaults() {
	if c.FirstMoveGrace <= 0 {
		c.FirstMoveGrace = 30 * time.Second
	}
	if c.BotRetries <= 0 {
		c.BotRetries = 3
	}
	if c.BotStallAfter <= 0 {
		c.BotStallAfter = 10 * time.Second
	}
	if c.MaxBotPlies <= 0 {
		c.MaxBotPlies = 600
	}
	if c.ChatMaxRunes <= 0 {
		c.ChatMaxRunes = 280
	}
	if c.HookTimeout <= 0 {
		c.HookTimeout = 10 * time.Second
	}
}

// Deps are the collaborators. Store, Locker and Events are required.
type Deps struct {
	Store     store.Store
	Locker    lock.Locker
	Events    EventLog
	Rules     rules.Engine
	Presets   Presets
	Publisher broadcast.Publisher
	Hook      hooks.Hook
	Bots      bot.Provider
	Logger    *zap.Logger
	Now       func() time.Time
	NewID     func() string
}

type Engine struct {
	store   store.Store
	locker  lock.Locker
	events  EventLog
	rules   rules.Engine
	presets Presets
	pub     broadcast.Publisher
	hook    hooks.Hook
	bots    bot.Provider
	log     *zap.Logger
	now     func() time.Time
	newID   func() string
	cfg     Config
	buf     *writebuffer.Buffer

	botMu   sync.Mutex
	botRuns map[string]bool
}

func New(d Deps, cfg Config) (*Engine, error) {
	if d.Store == nil || d.Locker == nil || d.Events == nil {
		return nil, errors.New("engine: store, locker and event log are required")
	}
	cfg.defaults()
	e := &Engine{
		store:   d.Store,
		locker:  d.Locker,
		events:  d.Events,
		rules:   d.Rules,
		presets: d.Presets,
		pub:     d.Publisher,
		hook:    d.Hook,
		bots:    d.Bots,
		log:     d.Logger,
		now:     d.Now,
		newID:   d.NewID,
		cfg:     cfg,
		botRuns: make(map[string]bool),
	}
	if e.rules == nil {
		e.rules = rules.New()
	}
	if e.pub == nil {
		e.pub = broadcast.Nop{}
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	e.buf = writebuffer.New(e.flush, writebuffer.Options{
		Delay:      cfg.FlushDelay,
		MaxPending: e.events.Cap() / 2,
		Parallel:   cfg.FlushParallel,
		Logger:     e.log,
		Now:        e.now,
	})
	return e, nil
}

// Buffer exposes the write buffer so the process can run its periodic flush.
func (e *Engine) Buffer() *writebuffer.Buffer { return e.buf }

// Outcome is what a pipeline run produced.
type Outcome struct {
	Session *domain.Session
	Clock   clock.Snapshot
	// Events were committed by this call, in sequence order.
	Events []domain.Event
	// Finished is set only on the call that made the session terminal.
	Finished   bool
	LegalMoves []rules.Move
	LastFrom   string
	LastTo     string
	// Rematch is the follow-up session created by Rematch, if any.
	Rematch *domain.Session
	At      time.Time
}

// Seq is the highest sequence number the session reflects.
func (o *Outcome) Seq() int64 {
	if o == nil || o.Session == nil {
		return 0
	}
	return o.Session.EventSeq
}

type mutation struct {
	sess     *domain.Session
	before   domain.Status
	game     rules.Game
	now      time.Time
	pending  []domain.Event
	critical bool
	// fail is returned to the caller after the mutation commits, e.g. a move rejected by flag-fall.
	fail error
}

func (m *mutation) emit(ev domain.Event) {
	ev.SessionID = m.sess.ID
	ev.At = m.now
	m.pending = append(m.pending, ev)
}

// mutate runs fn under the session lock and inside a row-locked transaction. fn sees the caught-up
// session and a game replayed from its move list; returning an error discards every change.
func (e *Engine) mutate(ctx context.Context, id, op string, fn func(m *mutation) error) (*Outcome, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: session id required", ErrInvalidRequest)
	}
	token, err := e.locker.Acquire(ctx, id)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			e.log.Debug("lock_busy", zap.String("session_id", id), zap.String("op", op))
			return nil, fmt.Errorf("%w: %s", ErrBusy, id)
		}
		return nil, unavailable("lock", err)
	}
	released := false
	unlock := func() {
		if released {
			return
		}
		released = true
		if err := e.locker.Release(context.WithoutCancel(ctx), id, token); err != nil {
			e.log.Warn("lock_release_failed", zap.String("session_id", id), zap.Error(err))
		}
	}
	defer unlock()

	out, err := e.commit(ctx, id, fn)
	unlock()
	if out == nil {
		return nil, err
	}
	if len(out.Events) > 0 {
		e.log.Info(op,
			zap.String("session_id", id),
			zap.Int64("seq", out.Seq()),
			zap.String("status", string(out.Session.Status)),
			zap.Int("moves", out.Session.MoveCount()),
		)
		e.notify(ctx, out)
	}
	return out, err
}

func (e *Engine) commit(ctx context.Context, id string, fn func(m *mutation) error) (*Outcome, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := tx.GetForUpdate(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	sess, err := e.catchUp(ctx, row)
	if err != nil {
		return nil, err
	}
	game, err := e.replay(sess)
	if err != nil {
		return nil, err
	}

	m := &mutation{sess: sess, before: sess.Status, game: game, now: e.now()}
	if err := fn(m); err != nil {
		return nil, err
	}
	if len(m.pending) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, unavailable("commit", err)
		}
		return e.outcome(sess, game, nil, false, m.now), m.fail
	}

	first, err := e.events.Reserve(ctx, id, sess.EventSeq, len(m.pending))
	if err != nil {
		return nil, unavailable("reserve event seq", err)
	}
	state := domain.StateOf(sess)
	for i := range m.pending {
		m.pending[i].Seq = first + int64(i)
		if m.pending[i].Kind != domain.EventChat {
			m.pending[i].State = state
		}
	}
	sess.EventSeq = m.pending[len(m.pending)-1].Seq
	sess.UpdatedAt = m.now

	finished := !m.before.Terminal() && sess.Status.Terminal()
	if m.critical || sess.Status != m.before || sess.Status.Terminal() {
		// status changes are written through in the same locked step as their events
		if err := tx.Save(ctx, sess); err != nil {
			return nil, unavailable("save", err)
		}
		// events go out while the row is still locked; a commit that fails afterwards is
		// recovered from the log by catch-up, as on the batched path
		if err := e.events.Push(ctx, id, m.pending...); err != nil {
			e.log.Error("event_push_failed", zap.String("session_id", id), zap.Int64("seq", sess.EventSeq), zap.Error(err))
			return nil, unavailable("append events", err)
		}
		switch err := tx.Commit(); {
		case err != nil:
			e.log.Warn("session_tx_commit_failed", zap.String("session_id", id), zap.Error(err))
			e.buf.MarkDirty(id)
		case sess.Status.Terminal():
			e.buf.Forget(id)
		default:
			e.buf.Written(id)
		}
	} else {
		// the event log is the only copy until the buffer flushes, so a failed push fails the call
		if err := e.events.Push(ctx, id, m.pending...); err != nil {
			return nil, unavailable("append events", err)
		}
		if err := tx.Commit(); err != nil {
			e.log.Warn("session_tx_commit_failed", zap.String("session_id", id), zap.Error(err))
		}
		for range m.pending {
			e.buf.MarkDirty(id)
		}
		if _, err := e.buf.FlushIfDue(ctx, id); err != nil {
			e.log.Warn("session_flush_deferred", zap.String("session_id", id), zap.Error(err))
		}
	}
	return e.outcome(sess, game, m.pending, finished, m.now), m.fail
}

func (e *Engine) outcome(sess *domain.Session, game rules.Game, events []domain.Event, finished bool, now time.Time) *Outcome {
	out := &Outcome{
		Session:  sess,
		Clock:    clock.Compute(sess, now),
		Events:   events,
		Finished: finished,
		At:       now,
	}
	if game != nil {
		if sess.Status.Open() {
			out.LegalMoves = game.LegalMoves(e.cfg.LegalMovesLimit)
		}
		out.LastFrom, out.LastTo, _ = game.LastMove()
	}
	return out
}

// catchUp applies state patches the durable row has not seen yet. A move event that does not
// follow the row's move list means events were lost, which is reported as corruption.
func (e *Engine) catchUp(ctx context.Context, row *domain.Session) (*domain.Session, error) {
	batch, err := e.events.ReadSince(ctx, row.ID, row.EventSeq)
	if err != nil {
		return nil, unavailable("read events", err)
	}
	sess := row.Clone()
	if batch.Resync {
		e.log.Debug("session_catchup_resync", zap.String("session_id", row.ID), zap.Int64("row_seq", row.EventSeq), zap.Int64("head", batch.Head))
	}
	for i := range batch.Events {
		if err := batch.Events[i].ApplyTo(sess); err != nil {
			e.log.Error("session_catchup_failed", zap.String("session_id", row.ID), zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
		}
	}
	return sess, nil
}

// replay rebuilds the game from the move list. A stored position that disagrees is repaired.
func (e *Engine) replay(sess *domain.Session) (rules.Game, error) {
	game, err := e.rules.Replay(sess.MovesUCI)
	if err != nil {
		e.log.Error("session_replay_failed", zap.String("session_id", sess.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	if fen := game.FEN(); sess.FEN != fen {
		e.log.Warn("session_fen_repaired",
			zap.String("session_id", sess.ID),
			zap.Bool("parsable", e.rules.ValidFEN(sess.FEN)),
		)
		sess.FEN = fen
	}
	return game, nil
}

// load is the lock-free read used by display paths and the sweeper.
func (e *Engine) load(ctx context.Context, id string) (*domain.Session, rules.Game, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil, fmt.Errorf("%w: session id required", ErrInvalidRequest)
	}
	row, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, nil, storeErr(err)
	}
	sess, err := e.catchUp(ctx, row)
	if err != nil {
		return nil, nil, err
	}
	game, err := e.replay(sess)
	if err != nil {
		return nil, nil, err
	}
	return sess, game, nil
}

// flush is the write buffer's FlushFunc: it catches the row up from the log and writes it.
func (e *Engine) flush(ctx context.Context, id string) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	row, err := tx.GetForUpdate(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	sess, err := e.catchUp(ctx, row)
	if err != nil {
		return err
	}
	if sess.EventSeq <= row.EventSeq {
		return tx.Commit()
	}
	if err := tx.Save(ctx, sess); err != nil {
		if errors.Is(err, store.ErrStale) {
			return nil
		}
		return err
	}
	return tx.Commit()
}

func (e *Engine) notify(ctx context.Context, out *Outcome) {
	ctx = context.WithoutCancel(ctx)
	sess := out.Session
	view := View(sess, out.Clock, out.At)
	n := broadcast.Notification{
		Kind:      broadcast.KindState,
		SessionID: sess.ID,
		Seq:       sess.EventSeq,
		Events:    out.Events,
		Snapshot:  view,
	}
	if err := e.pub.Publish(ctx, n); err != nil {
		e.log.Warn("broadcast_failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
	if !out.Finished {
		return
	}
	done := broadcast.Notification{
		Kind:      broadcast.KindFinished,
		SessionID: sess.ID,
		Seq:       sess.EventSeq,
		Snapshot:  view,
		Result:    sess.Result,
		Reason:    sess.Reason,
	}
	if err := e.pub.Publish(ctx, done); err != nil {
		e.log.Warn("broadcast_failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
	e.finished(ctx, sess)
}

// finished runs the hook once per terminal transition. Hook failures never undo the result.
func (e *Engine) finished(ctx context.Context, sess *domain.Session) {
	if e.hook == nil {
		return
	}
	hctx, cancel := context.WithTimeout(ctx, e.cfg.HookTimeout)
	defer cancel()
	if err := e.hook.SessionFinished(hctx, hooks.FromSession(sess)); err != nil {
		e.log.Warn("finished_hook_failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

func storeErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrSessionNotFound, err)
	case errors.Is(err, store.ErrExists):
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	default:
		return unavailable("store", err)
	}
}
