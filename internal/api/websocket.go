package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"kiwoom-core/internal/events"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is one frame pushed to /ws clients.
type wsMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// websocket pushes a diagnostics snapshot, then every diagnostics batch and
// recorded trade until the client goes away.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteJSON(gin.H{"error": "bus not ready"})
		return
	}

	rows, unsubRows := s.Bus.Subscribe(events.EventDiagnostics, 100)
	defer unsubRows()
	trades, unsubTrades := s.Bus.Subscribe(events.EventTradeRecorded, 100)
	defer unsubTrades()

	// Reader goroutine only notices the close frame.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	write := func(m wsMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(m); err != nil {
			s.log.Debug().Err(err).Msg("ws write failed")
			return false
		}
		return true
	}

	if !write(wsMessage{Type: "snapshot", Payload: s.Core.Diagnostics()}) {
		return
	}
	for {
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case msg, ok := <-rows:
			if !ok || !write(wsMessage{Type: "diagnostics", Payload: msg}) {
				return
			}
		case msg, ok := <-trades:
			if !ok || !write(wsMessage{Type: "trade", Payload: msg}) {
				return
			}
		}
	}
}
