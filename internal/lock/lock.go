// Package lock is a short-TTL, token-guarded mutex per session stored in Redis.
// Acquire never waits: contention is reported as ErrBusy.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBusy means another holder owns the lock.
var ErrBusy = errors.New("lock: busy")

const DefaultTTL = 5 * time.Second

// release deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out per-session locks.
type Locker interface {
	Acquire(ctx context.Context, sessionID string) (string, error)
	Release(ctx context.Context, sessionID, token string) error
}

// Redis implements Locker with SET NX PX and a compare-and-delete script.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

func lockKey(id string) string { return "arena:lock:" + strings.TrimSpace(id) }

// Acquire returns a fresh token, or ErrBusy when the lock is held.
func (l *Redis) Acquire(ctx context.Context, sessionID string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	ok, err := l.rdb.SetNX(ctx, lockKey(sessionID), token, l.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("lock acquire %s: %w", sessionID, err)
	}
	if !ok {
		return "", ErrBusy
	}
	return token, nil
}

// Release is a no-op when the token no longer matches, e.g. after TTL expiry and re-acquire by someone else.
func (l *Redis) Release(ctx context.Context, sessionID, token string) error {
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.rdb, []string{lockKey(sessionID)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lock release %s: %w", sessionID, err)
	}
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
