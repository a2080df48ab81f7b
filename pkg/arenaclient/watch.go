package arenaclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-arena/pkg/arenadto"
)

// Notification mirrors the server's push payload. Events stay raw so callers decode only what they use.
type Notification struct {
	Kind      string                `json:"kind"`
	SessionID string                `json:"session_id"`
	Seq       int64                 `json:"seq"`
	Events    []json.RawMessage     `json:"events,omitempty"`
	Snapshot  *arenadto.SessionView `json:"snapshot,omitempty"`
	Result    string                `json:"result,omitempty"`
	Reason    string                `json:"reason,omitempty"`
}

// Frame is one websocket message: "events" first, then "state" and "finished" notifications.
type Frame struct {
	Type         string                   `json:"type"`
	Events       *arenadto.EventsResponse `json:"events,omitempty"`
	Notification *Notification            `json:"notification,omitempty"`
}

// Seq is the newest event sequence the frame covers.
func (f Frame) Seq() int64 {
	switch {
	case f.Events != nil:
		return f.Events.Head
	case f.Notification != nil:
		return f.Notification.Seq
	}
	return 0
}

// ErrStopWatch can be returned from a watch callback to end the stream without an error.
var ErrStopWatch = errors.New("stop watching")

type WatchOptions struct {
	// Since is the last sequence already seen; 0 replays the retained log.
	Since int64
	// MaxReconnects bounds consecutive failed dials; 0 disables reconnecting.
	MaxReconnects int
}

// Watch streams frames for a session until ctx is done or fn returns an error. After a dropped
// connection it redials with the last sequence it delivered, so fn sees every event at most once.
func (c *Client) Watch(ctx context.Context, id string, opts WatchOptions, fn func(Frame) error) error {
	since := opts.Since
	failures := 0
	for {
		delivered, err := c.watchOnce(ctx, id, &since, fn)
		switch {
		case errors.Is(err, ErrStopWatch):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil:
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if delivered {
			failures = 0
		}
		failures++
		if failures > opts.MaxReconnects {
			return err
		}
		if serr := sleepWithContext(ctx, backoffDuration(failures)); serr != nil {
			return serr
		}
	}
}

// permanentError ends Watch without redialing: a callback failure or a rejected handshake.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func (c *Client) watchOnce(ctx context.Context, id string, since *int64, fn func(Frame) error) (bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	header := http.Header{}
	if c.user != "" {
		header.Set(UserHeader, c.user)
	}
	conn, resp, err := websocket.Dial(dialCtx, c.wsURL(id, *since), &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// unknown session or bad cursor; redialing will not help
			return false, permanentError{&APIError{Status: resp.StatusCode, DomainError: arenadto.DomainError{Code: codeForStatus(resp.StatusCode), Message: err.Error()}}}
		}
		return false, err
	}
	defer conn.CloseNow()

	delivered := false
	for {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return delivered, nil
			}
			return delivered, err
		}
		if seq := f.Seq(); seq > 0 && seq <= *since && f.Type != "events" && f.Type != "finished" {
			continue
		}
		if err := fn(f); err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			if errors.Is(err, ErrStopWatch) {
				return true, err
			}
			return true, permanentError{err}
		}
		delivered = true
		if seq := f.Seq(); seq > *since {
			*since = seq
		}
	}
}

func (c *Client) wsURL(id string, since int64) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + sessionPath(id, "/ws?since="+strconv.FormatInt(since, 10))
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return arenadto.CodeNotFound
	case http.StatusForbidden:
		return arenadto.CodeNotParticipant
	default:
		return arenadto.CodeInvalidRequest
	}
}
