package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/engine"
	"github.com/park285/cheese-arena/internal/render"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

// actor returns the acting player or writes 401.
func (s *Server) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := userID(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, arenadto.DomainError{Code: arenadto.CodeInvalidRequest, Message: err.Error()})
		return "", false
	}
	return id, true
}

func badRequest(err error) error {
	return fmt.Errorf("%w: %v", engine.ErrInvalidRequest, err)
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	names := []string{}
	if s.presets != nil {
		names = s.presets.Names()
	}
	writeJSON(w, http.StatusOK, map[string][]string{"presets": names})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	player, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req arenadto.CreateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, badRequest(err))
		return
	}
	p := engine.CreateParams{
		Creator:  domain.Player{ID: player, Name: req.Creator.Name},
		Opponent: domain.Player{ID: req.Opponent.ID, Name: req.Opponent.Name, Bot: req.Opponent.Bot, Rating: req.Opponent.Rating},
		Color:    req.Color,
		Preset:   req.Preset,
		Rated:    req.Rated,
		Custom:   customControl(req),
	}
	out, err := s.eng.Create(r.Context(), p)
	s.writeOutcome(w, http.StatusCreated, out, err)
}

// customControl builds an explicit control from the request. A missing black side mirrors white.
func customControl(req arenadto.CreateRequest) *domain.TimeControl {
	if req.Unlimited {
		return &domain.TimeControl{Name: "unlimited", Category: domain.CategoryUnlimited}
	}
	if req.WhiteInitial == 0 && req.BlackInitial == 0 {
		return nil
	}
	tc := &domain.TimeControl{
		Category:       domain.CategoryCustom,
		WhiteInitial:   req.WhiteInitial,
		BlackInitial:   req.BlackInitial,
		WhiteIncrement: req.WhiteIncrement,
		BlackIncrement: req.BlackIncrement,
	}
	if tc.BlackInitial == 0 {
		tc.BlackInitial, tc.BlackIncrement = tc.WhiteInitial, tc.WhiteIncrement
	}
	tc.Name = fmt.Sprintf("custom-%d+%d/%d+%d", tc.WhiteInitial/60, tc.WhiteIncrement, tc.BlackInitial/60, tc.BlackIncrement)
	return tc
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	out, err := s.eng.Snapshot(r.Context(), mux.Vars(r)["id"])
	s.writeOutcome(w, http.StatusOK, out, err)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	player, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req arenadto.MoveRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, badRequest(err))
		return
	}
	out, err := s.eng.Move(r.Context(), mux.Vars(r)["id"], player, req.Move)
	s.writeOutcome(w, http.StatusOK, out, err)
}

// action adapts the engine operations that need only the session and the player.
func (s *Server) action(op func(Engine, context.Context, string, string) (*engine.Outcome, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		player, ok := s.actor(w, r)
		if !ok {
			return
		}
		out, err := op(s.eng, r.Context(), mux.Vars(r)["id"], player)
		s.writeOutcome(w, http.StatusOK, out, err)
	}
}

func (s *Server) handleRespondDraw(w http.ResponseWriter, r *http.Request) {
	player, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req arenadto.DrawResponseRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, badRequest(err))
		return
	}
	out, err := s.eng.RespondDraw(r.Context(), mux.Vars(r)["id"], player, req.Accept)
	s.writeOutcome(w, http.StatusOK, out, err)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	player, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req arenadto.ChatRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, badRequest(err))
		return
	}
	out, err := s.eng.Chat(r.Context(), mux.Vars(r)["id"], player, req.Text)
	s.writeOutcome(w, http.StatusOK, out, err)
}

func sinceParam(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("since"))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, badRequest(fmt.Errorf("since must be a non-negative integer"))
	}
	return n, nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	since, err := sinceParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp, err := s.eng.EventsSince(r.Context(), mux.Vars(r)["id"], since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	rep, err := s.eng.Verify(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleBoard renders the position from the requested side, or from the viewer's own side.
func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	out, err := s.eng.Snapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	sess := out.Session
	q := r.URL.Query()
	perspective := domain.ParseSide(q.Get("perspective"))
	if perspective == domain.NoSide {
		perspective = sess.SideOf(r.Header.Get(UserHeader))
	}
	size := 0
	if raw := q.Get("size"); raw != "" {
		if size, err = strconv.Atoi(raw); err != nil {
			s.writeError(w, badRequest(fmt.Errorf("size must be an integer")))
			return
		}
	}
	img, err := s.render.PNG(r.Context(), sess.FEN, render.Options{
		Perspective: perspective,
		LastFrom:    out.LastFrom,
		LastTo:      out.LastTo,
		Title:       fmt.Sprintf("%s vs %s", displayName(sess.White), displayName(sess.Black)),
		Caption:     caption(sess),
		SquareSize:  size,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

func displayName(p domain.Player) string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

func caption(s *domain.Session) string {
	switch {
	case s.Status.Terminal() && s.Result != domain.ResultUnset:
		return fmt.Sprintf("%s (%s)", s.Result, s.Reason)
	case s.Status.Terminal():
		return string(s.Reason)
	default:
		return fmt.Sprintf("move %d, %s to play", s.MoveCount()/2+1, s.SideToMove())
	}
}
