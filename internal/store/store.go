// Package store holds the authoritative durable session record.
// Mutations run inside a caller-supplied transaction that row-locks the session.
package store

import (
	"context"
	"errors"

	"github.com/park285/cheese-arena/internal/domain"
)

var (
	ErrNotFound = errors.New("store: session not found")
	ErrExists   = errors.New("store: session already exists")
	// ErrStale is returned by Tx.Save when the record already reflects a later event.
	ErrStale = errors.New("store: stale write")

	errMissingID = errors.New("store: session id required")
)

// Store is the durable session repository.
type Store interface {
	Create(ctx context.Context, s *domain.Session) error
	// Get is an unlocked read for display paths.
	Get(ctx context.Context, id string) (*domain.Session, error)
	Begin(ctx context.Context) (Tx, error)
	// ListOpen returns up to limit Pending and Active sessions with id greater than after, in id
	// order. Passing the last id of one page as after yields the next page.
	ListOpen(ctx context.Context, after string, limit int) ([]*domain.Session, error)
	Close() error
}

// Tx is one transaction. Rollback after Commit is a no-op, so callers can always defer it.
type Tx interface {
	GetForUpdate(ctx context.Context, id string) (*domain.Session, error)
	// Save writes the play-state fields. It never moves EventSeq backwards.
	Save(ctx context.Context, s *domain.Session) error
	Commit() error
	Rollback() error
}
