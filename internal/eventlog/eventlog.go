// Package eventlog is the append-only, capped, sequence-numbered event log per session, kept in Redis.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-arena/internal/domain"
)

const (
	DefaultCap = 500
	DefaultTTL = 48 * time.Hour
)

// Batch is the result of a ReadSince call.
type Batch struct {
	Events []domain.Event
	// Head is the last allocated sequence number.
	Head int64
	// Resync is set when events after the requested mark are no longer retained; the caller
	// must fetch a full snapshot instead.
	Resync bool
}

// Log is the Redis-backed event log.
type Log struct {
	rdb *redis.Client
	cap int64
	ttl time.Duration
}

func New(rdb *redis.Client, capacity int, ttl time.Duration) *Log {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Log{rdb: rdb, cap: int64(capacity), ttl: ttl}
}

// Cap returns the retained length.
func (l *Log) Cap() int { return int(l.cap) }

func listKey(id string) string { return "arena:events:" + strings.TrimSpace(id) }
func seqKey(id string) string  { return "arena:events:" + strings.TrimSpace(id) + ":seq" }

// the counter never goes below floor, so an expired counter cannot reuse numbers the store has seen
var reserveScript = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
local floor = tonumber(ARGV[1])
if cur < floor then cur = floor end
cur = cur + tonumber(ARGV[2])
redis.call("SET", KEYS[1], cur, "PX", ARGV[3])
return cur
`)

// Reserve atomically allocates n consecutive sequence numbers and returns the first.
// floor is the highest sequence number already known durable for the session.
func (l *Log) Reserve(ctx context.Context, sessionID string, floor int64, n int) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("eventlog reserve: n must be > 0")
	}
	last, err := reserveScript.Run(ctx, l.rdb, []string{seqKey(sessionID)}, floor, n, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("eventlog reserve %s: %w", sessionID, err)
	}
	return last - int64(n) + 1, nil
}

// Push stores events that already carry reserved sequence numbers, then trims to capacity.
func (l *Log) Push(ctx context.Context, sessionID string, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	vals := make([]interface{}, 0, len(events))
	for i := range events {
		if events[i].Seq <= 0 {
			return fmt.Errorf("eventlog push %s: event without sequence", sessionID)
		}
		raw, err := json.Marshal(&events[i])
		if err != nil {
			return fmt.Errorf("eventlog encode: %w", err)
		}
		vals = append(vals, raw)
	}
	key := listKey(sessionID)
	pipe := l.rdb.TxPipeline()
	pipe.RPush(ctx, key, vals...)
	pipe.LTrim(ctx, key, -l.cap, -1)
	pipe.Expire(ctx, key, l.ttl)
	pipe.Expire(ctx, seqKey(sessionID), l.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("eventlog push %s: %w", sessionID, err)
	}
	return nil
}

// Append reserves one sequence number for ev and stores it.
func (l *Log) Append(ctx context.Context, sessionID string, floor int64, ev domain.Event) (int64, error) {
	seq, err := l.Reserve(ctx, sessionID, floor, 1)
	if err != nil {
		return 0, err
	}
	ev.Seq = seq
	if ev.SessionID == "" {
		ev.SessionID = sessionID
	}
	if err := l.Push(ctx, sessionID, ev); err != nil {
		return 0, err
	}
	return seq, nil
}

// ReadSince returns retained events with seq > since in ascending order.
func (l *Log) ReadSince(ctx context.Context, sessionID string, since int64) (Batch, error) {
	pipe := l.rdb.Pipeline()
	rng := pipe.LRange(ctx, listKey(sessionID), 0, -1)
	head := pipe.Get(ctx, seqKey(sessionID))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Batch{}, fmt.Errorf("eventlog read %s: %w", sessionID, err)
	}
	var b Batch
	if n, err := head.Int64(); err == nil {
		b.Head = n
	}
	raws, _ := rng.Result()
	all := make([]domain.Event, 0, len(raws))
	for _, raw := range raws {
		var ev domain.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return Batch{}, fmt.Errorf("eventlog decode %s: %w", sessionID, err)
		}
		all = append(all, ev)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Seq < all[j].Seq })
	if len(all) > 0 && all[len(all)-1].Seq > b.Head {
		b.Head = all[len(all)-1].Seq
	}
	switch {
	case len(all) == 0:
		b.Resync = b.Head > since
	case all[0].Seq > since+1:
		b.Resync = true
	}
	for _, ev := range all {
		if ev.Seq > since {
			b.Events = append(b.Events, ev)
		}
	}
	return b, nil
}
