package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

type PoolConfig struct {
	BinaryPath string
	// PerEloCapacity bounds processes per strength setting.
	PerEloCapacity int
	Threads        int
	HashMB         int
	Logger         *zap.Logger
}

// Pool keeps idle engine processes grouped by strength.
type Pool struct {
	cfg PoolConfig
	log *zap.Logger

	mu       sync.Mutex
	buckets  map[int]*bucket
	sessions map[*Session]*bucket
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("stockfish binary check: %w", err)
	}
	if cfg.PerEloCapacity <= 0 {
		cfg.PerEloCapacity = defaultCapacity()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		cfg:      cfg,
		log:      log,
		buckets:  make(map[int]*bucket),
		sessions: make(map[*Session]*bucket),
	}, nil
}

// Acquire returns an idle or new process for elo, waiting when the bucket is full.
func (p *Pool) Acquire(ctx context.Context, elo int) (*Session, error) {
	b := p.bucket(ClampElo(elo))
	for {
		select {
		case s := <-b.idle:
			if p.ready(ctx, s, b) {
				return s, nil
			}
			continue
		default:
		}
		s, err := b.create(ctx, p.log)
		if err == nil {
			p.track(s, b)
			return s, nil
		}
		if !errors.Is(err, errAtCapacity) {
			return nil, err
		}
		select {
		case s := <-b.idle:
			if p.ready(ctx, s, b) {
				return s, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Pool) ready(ctx context.Context, s *Session, b *bucket) bool {
	if s == nil {
		return false
	}
	if err := s.EnsureReady(ctx); err != nil {
		p.log.Warn("uci_pool_discard", zap.Error(err))
		b.discard(s)
		return false
	}
	p.track(s, b)
	return true
}

// Release returns s to its bucket; a non-nil err discards the process.
func (p *Pool) Release(s *Session, err error) {
	if s == nil {
		return
	}
	p.mu.Lock()
	b, ok := p.sessions[s]
	delete(p.sessions, s)
	p.mu.Unlock()
	if !ok {
		_ = s.Close()
		return
	}
	if err != nil || !b.put(s) {
		b.discard(s)
	}
}

func (p *Pool) Close() error {
	p.mu.Lock()
	buckets := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.sessions = make(map[*Session]*bucket)
	p.mu.Unlock()
	for _, b := range buckets {
		b.drain()
	}
	return nil
}

func (p *Pool) track(s *Session, b *bucket) {
	p.mu.Lock()
	p.sessions[s] = b
	p.mu.Unlock()
}

func (p *Pool) bucket(elo int) *bucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[elo]
	if !ok {
		b = &bucket{
			binary:   p.cfg.BinaryPath,
			opt:      Options{Threads: p.cfg.Threads, HashMB: p.cfg.HashMB, Elo: elo},
			capacity: p.cfg.PerEloCapacity,
			idle:     make(chan *Session, p.cfg.PerEloCapacity),
		}
		p.buckets[elo] = b
	}
	return b
}

var errAtCapacity = errors.New("uci bucket at capacity")

type bucket struct {
	binary   string
	opt      Options
	capacity int

	mu    sync.Mutex
	total int
	idle  chan *Session
}

func (b *bucket) create(ctx context.Context, log *zap.Logger) (*Session, error) {
	b.mu.Lock()
	if b.total >= b.capacity {
		b.mu.Unlock()
		return nil, errAtCapacity
	}
	b.total++
	b.mu.Unlock()
	s, err := NewSession(ctx, b.binary, b.opt, log)
	if err != nil {
		b.decrement()
		return nil, err
	}
	return s, nil
}

func (b *bucket) put(s *Session) bool {
	select {
	case b.idle <- s:
		return true
	default:
		return false
	}
}

func (b *bucket) discard(s *Session) {
	if s != nil {
		_ = s.Close()
	}
	b.decrement()
}

func (b *bucket) drain() {
	for {
		select {
		case s := <-b.idle:
			b.discard(s)
		default:
			return
		}
	}
}

func (b *bucket) decrement() {
	b.mu.Lock()
	if b.total > 0 {
		b.total--
	}
	b.mu.Unlock()
}

func defaultCapacity() int {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		return 2
	}
	if cpu > 4 {
		return 4
	}
	return cpu
}
