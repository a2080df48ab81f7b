package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

// Snapshot is the lock-free read of a session with its clock as of now.
func (e *Engine) Snapshot(ctx context.Context, id string) (*Outcome, error) {
	sess, game, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.outcome(sess, game, nil, false, e.now()), nil
}

// EventsSince returns events after since. When some of them were evicted the response carries a
// full snapshot and Resync instead.
func (e *Engine) EventsSince(ctx context.Context, id string, since int64) (*arenadto.EventsResponse, error) {
	if since < 0 {
		since = 0
	}
	batch, err := e.events.ReadSince(ctx, id, since)
	if err != nil {
		return nil, unavailable("read events", err)
	}
	resp := &arenadto.EventsResponse{Events: []json.RawMessage{}, Head: batch.Head, Resync: batch.Resync}
	if batch.Resync || batch.Head == 0 {
		snap, err := e.Snapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		resp.Resync = true
		resp.Snapshot = View(snap.Session, snap.Clock, snap.At)
		if snap.Seq() > resp.Head {
			resp.Head = snap.Seq()
		}
		return resp, nil
	}
	for i := range batch.Events {
		raw, err := json.Marshal(&batch.Events[i])
		if err != nil {
			return nil, fmt.Errorf("encode event %d: %w", batch.Events[i].Seq, err)
		}
		resp.Events = append(resp.Events, raw)
	}
	return resp, nil
}

// Verify replays the stored move list and compares it to the stored position.
func (e *Engine) Verify(ctx context.Context, id string) (*arenadto.VerifyReport, error) {
	row, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	rep := &arenadto.VerifyReport{SessionID: row.ID, StoredFEN: row.FEN}
	sess, err := e.catchUp(ctx, row)
	if err != nil {
		rep.Problem = err.Error()
		return rep, nil
	}
	rep.MoveCount = sess.MoveCount()
	rep.StoredFEN = sess.FEN
	game, err := e.rules.Replay(sess.MovesUCI)
	if err != nil {
		rep.Problem = err.Error()
		return rep, nil
	}
	rep.ReplayedFEN = game.FEN()
	switch {
	case len(sess.MovesSAN) != len(sess.MovesUCI):
		rep.Problem = fmt.Sprintf("%d SAN moves for %d UCI moves", len(sess.MovesSAN), len(sess.MovesUCI))
	case rep.ReplayedFEN != rep.StoredFEN:
		rep.Problem = "stored position differs from replay"
	case sess.Status == domain.StatusFinished && !finishedConsistently(sess, game.Terminal().Over):
		rep.Problem = fmt.Sprintf("finished by %s but the position is not terminal", sess.Reason)
	default:
		rep.Consistent = true
	}
	return rep, nil
}

// finishedConsistently checks board-decided results against the replayed position.
func finishedConsistently(s *domain.Session, terminal bool) bool {
	switch s.Reason {
	case domain.ReasonCheckmate, domain.ReasonStalemate, domain.ReasonInsufficientMaterial,
		domain.ReasonThreefoldRepetition, domain.ReasonFivefoldRepetition,
		domain.ReasonFiftyMoveRule, domain.ReasonSeventyFiveMoveRule:
		return terminal
	default:
		return true
	}
}

// Due says what the sweeper should do with a session.
type Due struct {
	Expire bool
	Bot    bool
}

// Inspect evaluates a stored row without locking. It may report false positives; Expire re-checks
// under the lock.
func (e *Engine) Inspect(ctx context.Context, row *domain.Session, now time.Time) (Due, error) {
	sess, err := e.catchUp(ctx, row)
	if err != nil {
		return Due{}, err
	}
	var d Due
	if !sess.Status.Open() {
		return d, nil
	}
	if sess.Status == domain.StatusActive && clock.Compute(sess, now).Flagged() {
		d.Expire = true
	}
	if deadline, ok := clock.FirstMoveDeadline(sess, e.cfg.FirstMoveGrace); ok && !now.Before(deadline) {
		d.Expire = true
	}
	if !d.Expire && sess.Player(sess.SideToMove()).Bot && e.bots != nil {
		idle := sess.LastMoveAt
		if idle.IsZero() {
			idle = sess.CreatedAt
		}
		d.Bot = now.Sub(idle) >= e.cfg.BotStallAfter
	}
	return d, nil
}
