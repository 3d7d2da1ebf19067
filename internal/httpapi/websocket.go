package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sitepatrol/backend/internal/feed"
	"github.com/sitepatrol/backend/internal/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth middleware already gates this route; the bearer token carries
	// the trust decision, not the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket streams entry change events to a connected client. Each
// connection gets its own feed subscription; a slow client misses events
// rather than stalling the submission pipeline.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", map[string]interface{}{
			"remote": r.RemoteAddr,
			"reason": err.Error(),
		})
		return
	}

	events, cancel := s.feed.Subscribe(r.Context())
	go writePump(conn, events)
	readPump(conn, cancel)
}

// writePump forwards feed events and keepalive pings until the subscription
// closes.
func writePump(conn *websocket.Conn, events <-chan feed.Event) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client frames to process close and pong control messages.
// Any read error tears the subscription down.
func readPump(conn *websocket.Conn, cancel func()) {
	defer func() {
		cancel()
		conn.Close()
	}()

	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("websocket read ended", map[string]interface{}{
					"reason": err.Error(),
				})
			}
			return
		}
	}
}
