// Package httpapi exposes the session engine over REST and a websocket push channel.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/broadcast"
	"github.com/park285/cheese-arena/internal/engine"
	"github.com/park285/cheese-arena/internal/render"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

// UserHeader carries the acting player's id. Authentication happens in front of this service.
const UserHeader = "X-User-Id"

// Engine is what the handlers call; *engine.Engine implements it.
type Engine interface {
	Create(ctx context.Context, p engine.CreateParams) (*engine.Outcome, error)
	Snapshot(ctx context.Context, id string) (*engine.Outcome, error)
	Move(ctx context.Context, id, playerID, text string) (*engine.Outcome, error)
	Resign(ctx context.Context, id, playerID string) (*engine.Outcome, error)
	OfferDraw(ctx context.Context, id, playerID string) (*engine.Outcome, error)
	RespondDraw(ctx context.Context, id, playerID string, accept bool) (*engine.Outcome, error)
	ClaimDraw(ctx context.Context, id, playerID string) (*engine.Outcome, error)
	Abort(ctx context.Context, id, playerID string) (*engine.Outcome, error)
	Chat(ctx context.Context, id, playerID, text string) (*engine.Outcome, error)
	Rematch(ctx context.Context, id, playerID string) (*engine.Outcome, error)
	EventsSince(ctx context.Context, id string, since int64) (*arenadto.EventsResponse, error)
	Verify(ctx context.Context, id string) (*arenadto.VerifyReport, error)
}

// PresetLister lists the configured time-control names.
type PresetLister interface {
	Names() []string
}

type Options struct {
	Engine     Engine
	Subscriber broadcast.Subscriber
	Renderer   *render.Renderer
	Presets    PresetLister
	// Lobby enables the /challenges routes when set.
	Lobby  Lobby
	Logger *zap.Logger
	// PingInterval keeps idle websocket connections alive.
	PingInterval time.Duration
	// OriginPatterns are the cross-origin hosts the websocket accepts, in path.Match syntax.
	// Requests without an Origin header and same-origin requests are always accepted.
	OriginPatterns []string
}

type Server struct {
	eng     Engine
	sub     broadcast.Subscriber
	render  *render.Renderer
	presets PresetLister
	lobby   Lobby
	log     *zap.Logger
	ping    time.Duration
	origins []string
}

func New(opts Options) *Server {
	s := &Server{
		eng:     opts.Engine,
		sub:     opts.Subscriber,
		render:  opts.Renderer,
		presets: opts.Presets,
		lobby:   opts.Lobby,
		log:     opts.Logger,
		ping:    opts.PingInterval,
		origins: opts.OriginPatterns,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.render == nil {
		s.render = render.New()
	}
	if s.ping <= 0 {
		s.ping = 30 * time.Second
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.recoverer, s.accessLog)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/time-controls", s.handlePresets).Methods(http.MethodGet)

	if s.lobby != nil {
		s.lobbyRoutes(r)
	}

	r.HandleFunc("/sessions", s.handleCreate).Methods(http.MethodPost)
	sr := r.PathPrefix("/sessions/{id}").Subrouter()
	sr.HandleFunc("", s.handleSnapshot).Methods(http.MethodGet)
	sr.HandleFunc("/moves", s.handleMove).Methods(http.MethodPost)
	sr.HandleFunc("/resign", s.action(Engine.Resign)).Methods(http.MethodPost)
	sr.HandleFunc("/abort", s.action(Engine.Abort)).Methods(http.MethodPost)
	sr.HandleFunc("/draw/offer", s.action(Engine.OfferDraw)).Methods(http.MethodPost)
	sr.HandleFunc("/draw/claim", s.action(Engine.ClaimDraw)).Methods(http.MethodPost)
	sr.HandleFunc("/draw/respond", s.handleRespondDraw).Methods(http.MethodPost)
	sr.HandleFunc("/rematch", s.action(Engine.Rematch)).Methods(http.MethodPost)
	sr.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	sr.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	sr.HandleFunc("/verify", s.handleVerify).Methods(http.MethodGet)
	sr.HandleFunc("/board.png", s.handleBoard).Methods(http.MethodGet)
	sr.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	return r
}

// statusFor maps domain error codes to HTTP statuses.
func statusFor(code string) int {
	switch code {
	case arenadto.CodeInvalidRequest:
		return http.StatusBadRequest
	case arenadto.CodeNotParticipant:
		return http.StatusForbidden
	case arenadto.CodeNotFound:
		return http.StatusNotFound
	case arenadto.CodeIllegalMove:
		return http.StatusUnprocessableEntity
	case arenadto.CodeBusy, arenadto.CodeNotYourTurn, arenadto.CodeSessionOver, arenadto.CodeTimeExpired,
		arenadto.CodeNotClaimable, arenadto.CodeNoDrawOffer:
		return http.StatusConflict
	case arenadto.CodeCorrupt:
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	de := engine.ToDomainError(err)
	status := statusFor(de.Code)
	if de.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		s.log.Warn("http_error", zap.String("code", de.Code), zap.Error(err))
	}
	writeJSON(w, status, de)
}

// writeOutcome sends a MoveResult. A rejection that still committed, like a flag-fall, carries its
// error inside the body with the error's status.
func (s *Server) writeOutcome(w http.ResponseWriter, ok int, out *engine.Outcome, err error) {
	if out == nil {
		s.writeError(w, err)
		return
	}
	res := engine.Result(out, err)
	status := ok
	if res.Error != nil {
		status = statusFor(res.Error.Code)
	}
	writeJSON(w, status, res)
}

func userID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(UserHeader))
	if id == "" {
		return "", errMissingUser
	}
	return id, nil
}

var errMissingUser = errors.New("missing " + UserHeader + " header")

func decode(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("http_panic",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()),
				)
				writeJSON(w, http.StatusInternalServerError, arenadto.DomainError{Code: arenadto.CodeUnavailable, Retryable: true})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets the websocket upgrade reach the underlying hijacker.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/ws") {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
