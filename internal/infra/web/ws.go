package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	wsEventBuf   = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin policy is enforced at the gateway in front of this service.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleRoomSocket streams room events for one session to one connected
// device. Authorization reuses GetSession so a non-party gets 403 before
// the upgrade and never learns whether the room exists.
func (s *Server) handleRoomSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	partyID := PartyID(r.Context())

	if _, err := s.uc.GetSession(r.Context(), sessionID, partyID); err != nil {
		writeDomainError(w, err, nil)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("websocket upgrade failed")
		return
	}

	events, leave := s.hub.Join(sessionID, wsEventBuf)
	defer leave()
	defer conn.Close()

	log := s.log.With().Str("session_id", sessionID).Str("party_id", partyID).Logger()
	log.Debug().Msg("room socket joined")

	// Reader goroutine: we never expect client frames besides pongs and
	// close, but the read loop must run for the close handshake to work.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("room socket write failed")
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
