package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/park285/cheese-arena/internal/domain"
)

// Memory is an in-process Store for development and tests. Row locks are per-session mutexes.
type Memory struct {
	mu    sync.RWMutex
	rows  map[string]*domain.Session
	locks map[string]*sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		rows:  make(map[string]*domain.Session),
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *Memory) Create(ctx context.Context, s *domain.Session) error {
	if s == nil || strings.TrimSpace(s.ID) == "" {
		return errMissingID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[s.ID]; ok {
		return ErrExists
	}
	m.rows[s.ID] = s.Clone()
	m.locks[s.ID] = &sync.Mutex{}
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return row.Clone(), nil
}

func (m *Memory) ListOpen(ctx context.Context, after string, limit int) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Session, 0)
	for id, row := range m.rows {
		if id > after && row.Status.Open() {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	return &memTx{m: m}, nil
}

func (m *Memory) Close() error { return nil }

type memTx struct {
	m      *Memory
	held   []*sync.Mutex
	writes map[string]*domain.Session
	done   bool
}

func (t *memTx) GetForUpdate(ctx context.Context, id string) (*domain.Session, error) {
	t.m.mu.RLock()
	lk, ok := t.m.locks[id]
	t.m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if w, ok := t.writes[id]; ok {
		return w.Clone(), nil
	}
	held := false
	for _, h := range t.held {
		if h == lk {
			held = true
		}
	}
	if !held {
		lk.Lock()
		t.held = append(t.held, lk)
	}
	return t.m.Get(ctx, id)
}

func (t *memTx) Save(ctx context.Context, s *domain.Session) error {
	cur, err := t.GetForUpdate(ctx, s.ID)
	if err != nil {
		return err
	}
	if s.EventSeq < cur.EventSeq {
		return ErrStale
	}
	if t.writes == nil {
		t.writes = make(map[string]*domain.Session)
	}
	t.writes[s.ID] = s.Clone()
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return nil
	}
	t.m.mu.Lock()
	for id, w := range t.writes {
		t.m.rows[id] = w
	}
	t.m.mu.Unlock()
	t.finish()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *memTx) finish() {
	t.done = true
	t.writes = nil
	for _, lk := range t.held {
		lk.Unlock()
	}
	t.held = nil
}
