// Package sweeper periodically finds open sessions whose clock ran out, whose first move never came,
// or whose bot stopped playing, and hands them back to the engine.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/engine"
)

// Lister pages through open sessions in id order, starting after the given id.
type Lister interface {
	ListOpen(ctx context.Context, after string, limit int) ([]*domain.Session, error)
}

// Engine is the part of the engine the sweeper drives.
type Engine interface {
	Inspect(ctx context.Context, row *domain.Session, now time.Time) (engine.Due, error)
	Expire(ctx context.Context, id string) (*engine.Outcome, error)
	ResumeBot(ctx context.Context, id string)
}

type Options struct {
	Batch    int
	Parallel int64
	Logger   *zap.Logger
	Now      func() time.Time
}

// Stats summarizes one pass.
type Stats struct {
	Scanned int
	Expired int
	Resumed int
	Busy    int
	Failed  int
}

type Sweeper struct {
	list Lister
	eng  Engine
	sem  *semaphore.Weighted
	opts Options
	log  *zap.Logger
}

func New(list Lister, eng Engine, opts Options) *Sweeper {
	if opts.Batch <= 0 {
		opts.Batch = 500
	}
	if opts.Parallel <= 0 {
		opts.Parallel = 16
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{list: list, eng: eng, sem: semaphore.NewWeighted(opts.Parallel), opts: opts, log: log}
}

// tally counts outcomes across the goroutines of one pass.
type tally struct {
	expired, resumed, busy, failed atomic.Int64
}

// Sweep runs one pass over every open session, Batch rows at a time, and waits for every action
// it started.
func (s *Sweeper) Sweep(ctx context.Context) (Stats, error) {
	var (
		wg      sync.WaitGroup
		n       tally
		scanned int
		after   string
		listErr error
	)
	for {
		rows, err := s.list.ListOpen(ctx, after, s.opts.Batch)
		if err != nil {
			listErr = fmt.Errorf("list open sessions: %w", err)
			break
		}
		scanned += len(rows)
		if len(rows) == 0 || !s.dispatch(ctx, rows, &wg, &n) || len(rows) < s.opts.Batch {
			break
		}
		after = rows[len(rows)-1].ID
	}
	wg.Wait()

	st := Stats{
		Scanned: scanned,
		Expired: int(n.expired.Load()),
		Resumed: int(n.resumed.Load()),
		Busy:    int(n.busy.Load()),
		Failed:  int(n.failed.Load()),
	}
	if st.Expired+st.Resumed+st.Failed > 0 {
		s.log.Info("sweep_done",
			zap.Int("scanned", st.Scanned),
			zap.Int("expired", st.Expired),
			zap.Int("resumed", st.Resumed),
			zap.Int("busy", st.Busy),
			zap.Int("failed", st.Failed),
		)
	}
	if listErr != nil {
		return st, listErr
	}
	return st, ctx.Err()
}

// dispatch inspects one page and starts the due actions. It reports false once ctx is done.
func (s *Sweeper) dispatch(ctx context.Context, rows []*domain.Session, wg *sync.WaitGroup, n *tally) bool {
	now := s.opts.Now()
	for _, row := range rows {
		due, err := s.eng.Inspect(ctx, row, now)
		if err != nil {
			n.failed.Add(1)
			s.log.Warn("sweep_inspect_failed", zap.String("session_id", row.ID), zap.Error(err))
			continue
		}
		if !due.Expire && !due.Bot {
			continue
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return false
		}
		wg.Add(1)
		go func(id string, due engine.Due) {
			defer wg.Done()
			defer s.sem.Release(1)
			if due.Bot {
				s.eng.ResumeBot(ctx, id)
				n.resumed.Add(1)
				return
			}
			out, err := s.eng.Expire(ctx, id)
			switch {
			case errors.Is(err, engine.ErrBusy):
				n.busy.Add(1)
			case err != nil:
				n.failed.Add(1)
				s.log.Warn("sweep_expire_failed", zap.String("session_id", id), zap.Error(err))
			case out != nil && out.Finished:
				n.expired.Add(1)
			}
		}(row.ID, due)
	}
	return ctx.Err() == nil
}

// Run sweeps every interval until ctx is done. A pass that overruns the interval delays the next one
// instead of overlapping it.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	logger := cronLogger{s.log.Sugar()}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("sweep_failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw("cron_"+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw("cron_"+msg, append(keysAndValues, "error", err)...)
}
