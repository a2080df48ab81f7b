// Package arenaclient is a Go client for the arena HTTP API and its websocket push channel.
package arenaclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/cheese-arena/pkg/arenadto"
)

// UserHeader identifies the acting player to the server.
const UserHeader = "X-User-Id"

// APIError is a non-2xx answer. Result is set when the server still committed an outcome,
// e.g. a move rejected because the mover's flag had already fallen.
type APIError struct {
	Status int
	arenadto.DomainError
	Result *arenadto.MoveResult
}

func (e *APIError) Error() string {
	return fmt.Sprintf("arena: status=%d code=%s: %s", e.Status, e.Code, e.DomainError.Error())
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == code
}

type Client struct {
	baseURL string
	user    string
	http    *fasthttp.Client

	timeout  time.Duration
	retryMax int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetry bounds attempts for busy sessions and, on reads, for unavailable backends.
func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func New(baseURL, userID string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		user:     strings.TrimSpace(userID),
		http:     &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		timeout:  10 * time.Second,
		retryMax: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// As returns a client acting for another player over the same connection pool.
func (c *Client) As(userID string) *Client {
	cp := *c
	cp.user = strings.TrimSpace(userID)
	return &cp
}

func sessionPath(id, suffix string) string {
	return "/sessions/" + url.PathEscape(id) + suffix
}

func (c *Client) Create(ctx context.Context, req arenadto.CreateRequest) (*arenadto.MoveResult, error) {
	return c.result(ctx, fasthttp.MethodPost, "/sessions", req)
}

func (c *Client) Snapshot(ctx context.Context, id string) (*arenadto.MoveResult, error) {
	return c.result(ctx, fasthttp.MethodGet, sessionPath(id, ""), nil)
}

func (c *Client) Move(ctx context.Context, id, move string) (*arenadto.MoveResult, error) {
	return c.result(ctx, fasthttp.MethodPost, sessionPath(id, "/moves"), arenadto.MoveRequest{Move: move})
}

func (c *Client) Resign(ctx context.Context, id string) (*arenadto.MoveResult, error) {
	return c.result(ctx, fasthttp.MethodPost, sessionPath(id, "/resign"), nil)
}

func (c *Client) Abort(ctx context.Context, id string) (*arenadto.MoveResult, error) {
	return c.result(ctx, fasthttp.MethodPost, sessionPath(id, "/abort"), nil)
}

func (c *Client) OfferDraw(ctx context.Context, id string) (*arenadto.MoveResult, error) {
	return c.result(ctx, fasthttp.MethodPost, sessionPath(id, "/draw/offer"), nil)
}

func (c *Client) RespondDraw(ctx context.Context, id string, accept bool) (*arenadto.MoveResult, error) {
	return c.result(ctx, fasthttp.MethodPost, sessionPath(id, "/draw/respond"), arenadto.DrawResponseRequest{Accept: accept})
}

func (c *Client) ClaimDraw(ctx context.Context, id string) (*arenadto.MoveResult, error) {
	return c.result(ctx, fasthttp.MethodPost, sessionPath(id, "/draw/claim"), nil)
}

func (c *Client) Chat(ctx context.Context, id, text string) (*arenadto.MoveResult, error) {
	return c.result(ctx, fasthttp.MethodPost, sessionPath(id, "/chat"), arenadto.ChatRequest{Text: text})
}

func (c *Client) Rematch(ctx context.Context, id string) (*arenadto.MoveResult, error) {
	return c.result(ctx, fasthttp.MethodPost, sessionPath(id, "/rematch"), nil)
}

func (c *Client) Events(ctx context.Context, id string, since int64) (*arenadto.EventsResponse, error) {
	var out arenadto.EventsResponse
	path := sessionPath(id, "/events?since="+strconv.FormatInt(since, 10))
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Verify(ctx context.Context, id string) (*arenadto.VerifyReport, error) {
	var out arenadto.VerifyReport
	if err := c.doJSON(ctx, fasthttp.MethodGet, sessionPath(id, "/verify"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Board fetches the PNG board. An empty perspective renders from the caller's own side.
func (c *Client) Board(ctx context.Context, id, perspective string, squareSize int) ([]byte, error) {
	q := url.Values{}
	if perspective != "" {
		q.Set("perspective", perspective)
	}
	if squareSize > 0 {
		q.Set("size", strconv.Itoa(squareSize))
	}
	path := sessionPath(id, "/board.png")
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var png []byte
	err := c.do(ctx, fasthttp.MethodGet, path, nil, func(body []byte) error {
		png = append([]byte(nil), body...)
		return nil
	})
	return png, err
}

func (c *Client) Presets(ctx context.Context) ([]string, error) {
	var out struct {
		Presets []string `json:"presets"`
	}
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/time-controls", nil, &out); err != nil {
		return nil, err
	}
	return out.Presets, nil
}

func (c *Client) OpenChallenge(ctx context.Context, req arenadto.ChallengeRequest) (*arenadto.ChallengeView, error) {
	var out arenadto.ChallengeView
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/challenges", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Challenges(ctx context.Context) ([]arenadto.ChallengeView, error) {
	var out arenadto.ChallengeList
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/challenges", nil, &out); err != nil {
		return nil, err
	}
	return out.Challenges, nil
}

func (c *Client) AcceptChallenge(ctx context.Context, code, name string) (*arenadto.MoveResult, error) {
	return c.result(ctx, fasthttp.MethodPost, "/challenges/"+url.PathEscape(code)+"/accept", arenadto.AcceptRequest{Name: name})
}

func (c *Client) CancelChallenge(ctx context.Context, code string) (*arenadto.ChallengeView, error) {
	var out arenadto.ChallengeView
	if err := c.doJSON(ctx, fasthttp.MethodDelete, "/challenges/"+url.PathEscape(code), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) result(ctx context.Context, method, path string, in any) (*arenadto.MoveResult, error) {
	var out arenadto.MoveResult
	if err := c.doJSON(ctx, method, path, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	return c.do(ctx, method, path, in, func(body []byte) error {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

func (c *Client) do(ctx context.Context, method, path string, in any, onOK func(body []byte) error) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	if c.user != "" {
		req.Header.Set(UserHeader, c.user)
	}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			// a mutation may have reached the server, so only reads are retried on transport errors
			if method != fasthttp.MethodGet || attempt == attempts {
				return lastErr
			}
		} else {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				return onOK(resp.Body())
			}
			apiErr := decodeError(status, resp.Body())
			lastErr = apiErr
			if attempt == attempts || !retryable(method, apiErr) {
				return apiErr
			}
		}
		if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// retryable allows busy sessions everywhere and unavailable backends on reads.
func retryable(method string, e *APIError) bool {
	if e.Code == arenadto.CodeBusy {
		return true
	}
	return method == fasthttp.MethodGet && e.Retryable
}

func decodeError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	var probe struct {
		arenadto.DomainError
		Session *arenadto.SessionView `json:"session"`
		Error   *arenadto.DomainError `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		e.Code = arenadto.CodeUnavailable
		e.Message = truncate(string(body), 512)
		return e
	}
	if probe.Session != nil && probe.Error != nil {
		var res arenadto.MoveResult
		if json.Unmarshal(body, &res) == nil {
			e.Result = &res
		}
		e.DomainError = *probe.Error
		return e
	}
	e.DomainError = probe.DomainError
	if e.Code == "" {
		e.Code = arenadto.CodeUnavailable
	}
	return e
}

func (c *Client) deadline(ctx context.Context) time.Time {
	own := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
