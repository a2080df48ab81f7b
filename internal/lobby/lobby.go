// Package lobby keeps open challenges in Redis until a second player accepts one and a session starts.
package lobby

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/engine"
)

type State string

const (
	StateOpen      State = "OPEN"
	StateStarted   State = "STARTED"
	StateCancelled State = "CANCELLED"
)

// Challenge is stored as JSON under arena:lobby:<code>.
type Challenge struct {
	Code      string         `json:"code"`
	State     State          `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
	Creator   domain.Player  `json:"creator"`
	Opponent  *domain.Player `json:"opponent,omitempty"`
	// Color is the creator's color; empty means random.
	Color     string `json:"color,omitempty"`
	Preset    string `json:"preset,omitempty"`
	Rated     bool   `json:"rated,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// lobbyError carries the engine error kind so transports map it like any engine rejection.
type lobbyError struct {
	msg  string
	kind error
}

func (e *lobbyError) Error() string { return e.msg }
func (e *lobbyError) Unwrap() error { return e.kind }

var (
	ErrGone        error = &lobbyError{"challenge not found or expired", engine.ErrSessionNotFound}
	ErrClosed      error = &lobbyError{"challenge already accepted or cancelled", engine.ErrSessionOver}
	ErrAlreadyOpen error = &lobbyError{"player already has an open challenge", engine.ErrInvalidRequest}
	ErrOwn         error = &lobbyError{"cannot accept your own challenge", engine.ErrInvalidRequest}
	ErrNotCreator  error = &lobbyError{"only the creator can cancel a challenge", engine.ErrNotParticipant}
)

// Sessions starts the session once a challenge is accepted. *engine.Engine implements it.
type Sessions interface {
	Create(ctx context.Context, p engine.CreateParams) (*engine.Outcome, error)
}

type Options struct {
	// TTL bounds how long an unanswered challenge stays listed.
	TTL time.Duration
	// Presets, when set, rejects unknown time controls at open time instead of at accept time.
	Presets engine.Presets
	Logger  *zap.Logger
	Now     func() time.Time
}

type Lobby struct {
	rdb      *redis.Client
	sessions Sessions
	opts     Options
	log      *zap.Logger
}

func New(rdb *redis.Client, sessions Sessions, opts Options) *Lobby {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Lobby{rdb: rdb, sessions: sessions, opts: opts, log: log}
}

func metaKey(code string) string { return "arena:lobby:" + strings.TrimSpace(code) }
func ownerKey(id string) string  { return "arena:lobby:owner:" + strings.TrimSpace(id) }
func openKey() string            { return "arena:lobby:open" }

// OpenParams describes a new challenge.
type OpenParams struct {
	Creator domain.Player
	Color   string
	Preset  string
	Rated   bool
}

// Open lists a new challenge. A player has at most one open challenge at a time.
func (l *Lobby) Open(ctx context.Context, p OpenParams) (*Challenge, error) {
	p.Creator.ID = strings.TrimSpace(p.Creator.ID)
	if p.Creator.ID == "" {
		return nil, fmt.Errorf("%w: creator id required", engine.ErrInvalidRequest)
	}
	switch c := strings.ToLower(strings.TrimSpace(p.Color)); c {
	case "", "random":
		p.Color = ""
	case "white", "black":
		p.Color = c
	default:
		return nil, fmt.Errorf("%w: unknown color %q", engine.ErrInvalidRequest, p.Color)
	}
	if l.opts.Presets != nil {
		if _, err := l.opts.Presets.Resolve(p.Preset); err != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrInvalidRequest, err)
		}
	}

	c := &Challenge{
		State:     StateOpen,
		CreatedAt: l.opts.Now().UTC(),
		Creator:   p.Creator,
		Color:     p.Color,
		Preset:    p.Preset,
		Rated:     p.Rated,
	}
	for attempt := 0; attempt < 5 && c.Code == ""; attempt++ {
		code, err := newCode()
		if err != nil {
			return nil, err
		}
		ok, err := l.rdb.SetNX(ctx, ownerKey(p.Creator.ID), code, l.opts.TTL).Result()
		if err != nil {
			return nil, unavailable(err)
		}
		if !ok {
			return nil, ErrAlreadyOpen
		}
		c.Code = code
		raw, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		stored, err := l.rdb.SetNX(ctx, metaKey(code), raw, l.opts.TTL).Result()
		if err != nil || !stored {
			// code collision; release the owner slot and draw another
			_ = l.rdb.Del(ctx, ownerKey(p.Creator.ID)).Err()
			c.Code = ""
			if err != nil {
				return nil, unavailable(err)
			}
		}
	}
	if c.Code == "" {
		return nil, fmt.Errorf("%w: could not allocate a challenge code", engine.ErrUnavailable)
	}
	if err := l.rdb.SAdd(ctx, openKey(), c.Code).Err(); err != nil {
		return nil, unavailable(err)
	}
	l.log.Info("lobby_open", zap.String("code", c.Code), zap.String("creator_id", p.Creator.ID), zap.String("preset", p.Preset))
	return c, nil
}

// Get returns a challenge in any state until it expires.
func (l *Lobby) Get(ctx context.Context, code string) (*Challenge, error) {
	c, err := l.load(ctx, l.rdb, code)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrGone
	}
	return c, nil
}

// List returns open challenges, oldest first. Expired codes are pruned from the index on the way.
func (l *Lobby) List(ctx context.Context) ([]*Challenge, error) {
	codes, err := l.rdb.SMembers(ctx, openKey()).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]*Challenge, 0, len(codes))
	for _, code := range codes {
		c, err := l.load(ctx, l.rdb, code)
		if err != nil {
			return nil, err
		}
		if c == nil || c.State != StateOpen {
			_ = l.rdb.SRem(ctx, openKey(), code).Err()
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Accept claims an open challenge for joiner and starts the session. If the session cannot be
// created the challenge is reopened.
func (l *Lobby) Accept(ctx context.Context, code string, joiner domain.Player) (*Challenge, *engine.Outcome, error) {
	joiner.ID = strings.TrimSpace(joiner.ID)
	if joiner.ID == "" {
		return nil, nil, fmt.Errorf("%w: player id required", engine.ErrInvalidRequest)
	}
	c, err := l.transition(ctx, code, func(c *Challenge) error {
		if c.Creator.ID == joiner.ID {
			return ErrOwn
		}
		c.State = StateStarted
		c.Opponent = &joiner
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	out, err := l.sessions.Create(ctx, engine.CreateParams{
		Creator:  c.Creator,
		Opponent: joiner,
		Color:    c.Color,
		Preset:   c.Preset,
		Rated:    c.Rated,
	})
	if err != nil {
		c.State, c.Opponent = StateOpen, nil
		if serr := l.save(ctx, c); serr != nil {
			l.log.Warn("lobby_reopen_failed", zap.String("code", c.Code), zap.Error(serr))
		}
		return nil, nil, err
	}

	c.SessionID = out.Session.ID
	if err := l.save(ctx, c); err != nil {
		// the session exists; a stale challenge record only affects listing
		l.log.Warn("lobby_save_failed", zap.String("code", c.Code), zap.Error(err))
	}
	l.release(ctx, c)
	l.log.Info("lobby_start",
		zap.String("code", c.Code),
		zap.String("session_id", c.SessionID),
		zap.String("creator_id", c.Creator.ID),
		zap.String("joiner_id", joiner.ID),
	)
	return c, out, nil
}

// Cancel withdraws an open challenge. Only its creator may do so.
func (l *Lobby) Cancel(ctx context.Context, code, playerID string) (*Challenge, error) {
	c, err := l.transition(ctx, code, func(c *Challenge) error {
		if c.Creator.ID != strings.TrimSpace(playerID) {
			return ErrNotCreator
		}
		c.State = StateCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.release(ctx, c)
	l.log.Info("lobby_cancel", zap.String("code", c.Code), zap.String("creator_id", c.Creator.ID))
	return c, nil
}

// transition applies fn to an open challenge under WATCH so concurrent accepts cannot both win.
func (l *Lobby) transition(ctx context.Context, code string, fn func(c *Challenge) error) (*Challenge, error) {
	var out *Challenge
	key := metaKey(code)
	err := l.rdb.Watch(ctx, func(tx *redis.Tx) error {
		c, err := l.load(ctx, tx, code)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrGone
		}
		if c.State != StateOpen {
			return ErrClosed
		}
		if err := fn(c); err != nil {
			return err
		}
		raw, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, redis.KeepTTL)
			return nil
		}); err != nil {
			return err
		}
		out = c
		return nil
	}, key)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return nil, ErrClosed
	case err != nil:
		var le *lobbyError
		if errors.As(err, &le) || errors.Is(err, engine.ErrUnavailable) || errors.Is(err, engine.ErrCorruptSession) {
			return nil, err
		}
		return nil, unavailable(err)
	}
	return out, nil
}

// release drops the challenge from the open index and frees the creator's slot.
func (l *Lobby) release(ctx context.Context, c *Challenge) {
	pipe := l.rdb.TxPipeline()
	pipe.SRem(ctx, openKey(), c.Code)
	pipe.Del(ctx, ownerKey(c.Creator.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Warn("lobby_release_failed", zap.String("code", c.Code), zap.Error(err))
	}
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (l *Lobby) load(ctx context.Context, rdb getter, code string) (*Challenge, error) {
	if !strings.HasPrefix(strings.TrimSpace(code), "CH-") {
		return nil, nil
	}
	raw, err := rdb.Get(ctx, metaKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	var c Challenge
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: challenge %s: %v", engine.ErrCorruptSession, code, err)
	}
	return &c, nil
}

func (l *Lobby) save(ctx context.Context, c *Challenge) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return l.rdb.Set(ctx, metaKey(c.Code), raw, redis.KeepTTL).Err()
}

func unavailable(err error) error {
	return fmt.Errorf("%w: lobby: %v", engine.ErrUnavailable, err)
}

// newCode returns "CH-" and six characters from an unambiguous alphabet.
func newCode() (string, error) {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return "CH-" + string(b), nil
}
