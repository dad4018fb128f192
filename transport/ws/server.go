package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"chat-relay/relay"
)

const defaultSendBuffer = 256

// Server accepts websocket sessions and drives one relay state machine
// per connection: one read-loop goroutine per session, one write pump
// per channel.
type Server struct {
	log        *slog.Logger
	relay      *relay.Relay
	upgrader   websocket.Upgrader
	sendBuffer int
}

func NewServer(log *slog.Logger, r *relay.Relay) *Server {
	return &Server{
		log:   log,
		relay: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sendBuffer: defaultSendBuffer,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWS)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"online": len(s.relay.OnlineUsers()),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", "error", err)
		return
	}

	ch := newChannel(conn, s.sendBuffer)
	go ch.writePump()

	sess := s.relay.Attach(ch)
	defer func() {
		// The request context may already be gone when the connection
		// drops; the leave broadcast still has to reach the others.
		sess.Close(context.Background())
		_ = ch.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("Websocket read failed", "error", err)
			}
			return
		}
		sess.HandleRaw(r.Context(), raw)
	}
}
