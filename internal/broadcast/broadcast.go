// Package broadcast fans committed session changes out to subscribers.
// Publishing is best effort: callers log failures and never roll back a commit because of them.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

type Kind string

const (
	KindState    Kind = "state"
	KindFinished Kind = "finished"
)

// Notification is one fan-out message. Finished notifications carry the final result and reason.
type Notification struct {
	Kind      Kind                  `json:"kind"`
	SessionID string                `json:"session_id"`
	Seq       int64                 `json:"seq"`
	Events    []domain.Event        `json:"events,omitempty"`
	Snapshot  *arenadto.SessionView `json:"snapshot,omitempty"`
	Result    domain.Result         `json:"result,omitempty"`
	Reason    domain.FinishReason   `json:"reason,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// Subscriber streams notifications for one session until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan Notification, error)
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Publish(context.Context, Notification) error { return nil }

func channel(id string) string { return "arena:session:" + strings.TrimSpace(id) }

// Redis publishes JSON notifications on arena:session:<id>.
type Redis struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedis(rdb *redis.Client, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{rdb: rdb, log: log}
}

func (r *Redis) Publish(ctx context.Context, n Notification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("broadcast encode: %w", err)
	}
	if err := r.rdb.Publish(ctx, channel(n.SessionID), raw).Err(); err != nil {
		return fmt.Errorf("broadcast publish %s: %w", n.SessionID, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, sessionID string) (<-chan Notification, error) {
	sub := r.rdb.Subscribe(ctx, channel(sessionID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("broadcast subscribe %s: %w", sessionID, err)
	}
	out := make(chan Notification, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var n Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					r.log.Warn("broadcast_decode_error", zap.String("session_id", sessionID), zap.Error(err))
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Recorder keeps notifications in memory; used by tests and the CLI.
type Recorder struct {
	ch  chan Notification
	mu  sync.Mutex
	all []Notification
}

func NewRecorder() *Recorder { return &Recorder{ch: make(chan Notification, 256)} }

func (r *Recorder) Publish(_ context.Context, n Notification) error {
	select {
	case r.ch <- n:
	default:
	}
	return nil
}

// Drain returns everything published so far.
func (r *Recorder) Drain() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		select {
		case n := <-r.ch:
			r.all = append(r.all, n)
		default:
			return append([]Notification(nil), r.all...)
		}
	}
}
