package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/josystem/webhost/internal/hub"
	"github.com/josystem/webhost/internal/logging"
)

// RefreshToken in a client message requests a filesChanged broadcast.
const RefreshToken = "requestRefresh"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// serveWebSocket upgrades /ws and runs the receive loop until the client
// goes away or the host stops.
func (h *Host) serveWebSocket(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.String(http.StatusBadRequest, "WebSocket upgrade required")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logging.Warn("WebSocket upgrade failed",
			zap.String("remote_addr", c.Request.RemoteAddr), zap.Error(err))
		return
	}

	ctx := h.connContext()
	if ctx.Err() != nil {
		conn.Close()
		return
	}

	wc := h.hub.Register(conn, c.Request.RemoteAddr)
	h.hub.RunReceiveLoop(ctx, wc)
}

// handleMessage reacts to inbound client text frames.
func (h *Host) handleMessage(ctx context.Context, conn *hub.Connection, data []byte) error {
	if !strings.Contains(string(data), RefreshToken) {
		return nil
	}
	logging.Debug("Client requested refresh", zap.String("conn_id", conn.ID))
	return h.hub.Broadcast(ctx, hub.FilesChangedEvent(hub.ReasonManual, h.now()))
}
