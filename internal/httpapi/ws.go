package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-arena/internal/broadcast"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

// Frame is one websocket message. The first frame is always "events"; later frames are
// "state" notifications newer than anything already sent, and "finished" once the game ends.
type Frame struct {
	Type         string                   `json:"type"`
	Events       *arenadto.EventsResponse `json:"events,omitempty"`
	Notification *broadcast.Notification  `json:"notification,omitempty"`
}

const writeTimeout = 10 * time.Second

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.sub == nil {
		writeJSON(w, http.StatusServiceUnavailable, arenadto.DomainError{Code: arenadto.CodeUnavailable, Message: "push channel disabled"})
		return
	}
	id := mux.Vars(r)["id"]
	since, err := sinceParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// reject unknown sessions before upgrading
	if _, err := s.eng.EventsSince(r.Context(), id, since); err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.origins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.log.Debug("ws_accept_failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// CloseRead handles control frames and cancels ctx when the client goes away.
	ctx := conn.CloseRead(r.Context())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// subscribe first so nothing committed between the replay and the subscription is lost
	notes, err := s.sub.Subscribe(ctx, id)
	if err != nil {
		s.log.Warn("ws_subscribe_failed", zap.String("session_id", id), zap.Error(err))
		conn.Close(websocket.StatusTryAgainLater, "subscribe failed")
		return
	}
	batch, err := s.eng.EventsSince(ctx, id, since)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "replay failed")
		return
	}
	if err := s.send(ctx, conn, Frame{Type: "events", Events: batch}); err != nil {
		return
	}
	head := batch.Head

	ping := time.NewTicker(s.ping)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				return
			}
		case n, ok := <-notes:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "stream ended")
				return
			}
			if n.Seq <= head && n.Kind != broadcast.KindFinished {
				continue
			}
			if n.Seq > head {
				head = n.Seq
			}
			note := n
			if err := s.send(ctx, conn, Frame{Type: string(n.Kind), Notification: &note}); err != nil {
				return
			}
		}
	}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, f Frame) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	err := wsjson.Write(wctx, conn, f)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Debug("ws_write_failed", zap.Error(err))
	}
	return err
}
