package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/engine"
	"github.com/park285/cheese-arena/internal/lobby"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

// Lobby is the challenge board; *lobby.Lobby implements it.
type Lobby interface {
	Open(ctx context.Context, p lobby.OpenParams) (*lobby.Challenge, error)
	Get(ctx context.Context, code string) (*lobby.Challenge, error)
	List(ctx context.Context) ([]*lobby.Challenge, error)
	Accept(ctx context.Context, code string, joiner domain.Player) (*lobby.Challenge, *engine.Outcome, error)
	Cancel(ctx context.Context, code, playerID string) (*lobby.Challenge, error)
}

func (s *Server) lobbyRoutes(r *mux.Router) {
	r.HandleFunc("/challenges", s.handleListChallenges).Methods(http.MethodGet)
	r.HandleFunc("/challenges", s.handleOpenChallenge).Methods(http.MethodPost)
	r.HandleFunc("/challenges/{code}", s.handleGetChallenge).Methods(http.MethodGet)
	r.HandleFunc("/challenges/{code}", s.handleCancelChallenge).Methods(http.MethodDelete)
	r.HandleFunc("/challenges/{code}/accept", s.handleAcceptChallenge).Methods(http.MethodPost)
}

func challengeView(c *lobby.Challenge) arenadto.ChallengeView {
	v := arenadto.ChallengeView{
		Code:      c.Code,
		State:     string(c.State),
		CreatedAt: c.CreatedAt,
		Creator:   arenadto.PlayerView{ID: c.Creator.ID, Name: c.Creator.Name},
		Color:     c.Color,
		Preset:    c.Preset,
		Rated:     c.Rated,
		SessionID: c.SessionID,
	}
	if c.Opponent != nil {
		v.Opponent = &arenadto.PlayerView{ID: c.Opponent.ID, Name: c.Opponent.Name}
	}
	return v
}

func (s *Server) handleListChallenges(w http.ResponseWriter, r *http.Request) {
	list, err := s.lobby.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := arenadto.ChallengeList{Challenges: make([]arenadto.ChallengeView, 0, len(list))}
	for _, c := range list {
		out.Challenges = append(out.Challenges, challengeView(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOpenChallenge(w http.ResponseWriter, r *http.Request) {
	player, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req arenadto.ChallengeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, badRequest(err))
		return
	}
	c, err := s.lobby.Open(r.Context(), lobby.OpenParams{
		Creator: domain.Player{ID: player, Name: req.Name},
		Color:   req.Color,
		Preset:  req.Preset,
		Rated:   req.Rated,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, challengeView(c))
}

func (s *Server) handleGetChallenge(w http.ResponseWriter, r *http.Request) {
	c, err := s.lobby.Get(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeView(c))
}

func (s *Server) handleCancelChallenge(w http.ResponseWriter, r *http.Request) {
	player, ok := s.actor(w, r)
	if !ok {
		return
	}
	c, err := s.lobby.Cancel(r.Context(), mux.Vars(r)["code"], player)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeView(c))
}

// handleAcceptChallenge answers with the new session, like POST /sessions.
func (s *Server) handleAcceptChallenge(w http.ResponseWriter, r *http.Request) {
	player, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req arenadto.AcceptRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, badRequest(err))
		return
	}
	_, out, err := s.lobby.Accept(r.Context(), mux.Vars(r)["code"], domain.Player{ID: player, Name: req.Name})
	s.writeOutcome(w, http.StatusCreated, out, err)
}
