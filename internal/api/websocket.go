package api

import (
	"log/slog"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// serveWebSocket handles GET /ws, upgrading the connection and handing it
// to the Event Bus's WebSocket sink for the lifetime of the connection —
// spec.md §4.5's event stream, subscribable per-topic via the
// subscribe/unsubscribe messages eventbus.WSBus understands.
func (s *Server) serveWebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("api: websocket upgrade failed", "error", err)
		return
	}
	s.WS.HandleConnection(c.Request.Context(), conn)
}
