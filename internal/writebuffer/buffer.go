// Package writebuffer decides when session rows are persisted. It tracks dirty sessions only;
// the state itself is rebuilt by the flush function from the store and the event log.
package writebuffer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FlushFunc durably writes the latest state of one session.
type FlushFunc func(ctx context.Context, sessionID string) error

type Options struct {
	// Delay is the minimum time between batched flushes of one session.
	Delay time.Duration
	// MaxPending forces a flush once this many changes are unflushed, regardless of Delay.
	MaxPending int
	// Parallel bounds concurrent flushes in FlushAll.
	Parallel int
	Logger   *zap.Logger
	Now      func() time.Time
}

type entry struct {
	dirty     bool
	pending   int
	gen       uint64
	lastFlush time.Time
}

// Buffer is safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	entries map[string]*entry

	flush FlushFunc
	opts  Options
	log   *zap.Logger
}

func New(flush FlushFunc, opts Options) *Buffer {
	if opts.Delay <= 0 {
		opts.Delay = 30 * time.Second
	}
	if opts.Parallel <= 0 {
		opts.Parallel = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Buffer{entries: make(map[string]*entry), flush: flush, opts: opts, log: log}
}

func (b *Buffer) entryLocked(id string) *entry {
	e, ok := b.entries[id]
	if !ok {
		e = &entry{lastFlush: b.opts.Now()}
		b.entries[id] = e
	}
	return e
}

// MarkDirty records an unflushed change.
func (b *Buffer) MarkDirty(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entryLocked(id)
	e.dirty = true
	e.pending++
	e.gen++
}

// Written records that the session was written through by the caller.
func (b *Buffer) Written(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entryLocked(id)
	e.dirty = false
	e.pending = 0
	e.gen++
	e.lastFlush = b.opts.Now()
}

// Forget drops tracking for a session that will not change again.
func (b *Buffer) Forget(id string) {
	b.mu.Lock()
	delete(b.entries, id)
	b.mu.Unlock()
}

// Dirty reports whether id has unflushed changes.
func (b *Buffer) Dirty(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	return ok && e.dirty
}

func (b *Buffer) due(id string) (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok || !e.dirty {
		return 0, false
	}
	if b.opts.MaxPending > 0 && e.pending >= b.opts.MaxPending {
		return e.gen, true
	}
	return e.gen, b.opts.Now().Sub(e.lastFlush) >= b.opts.Delay
}

// FlushIfDue flushes id when its delay window has elapsed or too many changes are pending.
func (b *Buffer) FlushIfDue(ctx context.Context, id string) (bool, error) {
	gen, ok := b.due(id)
	if !ok {
		return false, nil
	}
	return true, b.run(ctx, id, gen)
}

// FlushNow writes id through immediately, dirty or not.
func (b *Buffer) FlushNow(ctx context.Context, id string) error {
	b.mu.Lock()
	gen := b.entryLocked(id).gen
	b.mu.Unlock()
	return b.run(ctx, id, gen)
}

func (b *Buffer) run(ctx context.Context, id string, gen uint64) error {
	if err := b.flush(ctx, id); err != nil {
		b.log.Warn("writebuffer_flush_error", zap.String("session_id", id), zap.Error(err))
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entryLocked(id)
	e.lastFlush = b.opts.Now()
	// changes marked while the flush ran stay dirty
	if e.gen == gen {
		e.dirty = false
		e.pending = 0
	}
	return nil
}

// FlushAll flushes every dirty session with bounded parallelism and returns the first error.
func (b *Buffer) FlushAll(ctx context.Context) error {
	type job struct {
		id  string
		gen uint64
	}
	b.mu.Lock()
	jobs := make([]job, 0, len(b.entries))
	for id, e := range b.entries {
		if e.dirty {
			jobs = append(jobs, job{id: id, gen: e.gen})
		}
	}
	b.mu.Unlock()
	if len(jobs) == 0 {
		return nil
	}
	var g errgroup.Group
	g.SetLimit(b.opts.Parallel)
	for _, j := range jobs {
		j := j
		g.Go(func() error { return b.run(ctx, j.id, j.gen) })
	}
	err := g.Wait()
	b.log.Debug("writebuffer_flush_all", zap.Int("sessions", len(jobs)), zap.Error(err))
	return err
}

// Run flushes everything every interval until ctx is done, then makes a final pass.
func (b *Buffer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = b.opts.Delay
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := b.FlushAll(final); err != nil {
				b.log.Error("writebuffer_final_flush_error", zap.Error(err))
			}
			cancel()
			return
		case <-t.C:
			_ = b.FlushAll(ctx)
		}
	}
}
