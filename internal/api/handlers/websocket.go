package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/frostdev-ops/pma-monitor/internal/websocket"
	"github.com/frostdev-ops/pma-monitor/pkg/utils"
)

// WebSocket upgrades the connection and streams engine events. Clients may
// narrow the stream with ?topics=alert:,workflow:
func (h *Handlers) WebSocket(c *gin.Context) {
	if h.wsHub == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "WebSocket is disabled")
		return
	}
	websocket.HandleWebSocket(h.wsHub, c.Writer, c.Request)
}

// GetWebSocketStats returns hub counters
func (h *Handlers) GetWebSocketStats(c *gin.Context) {
	if h.wsHub == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "WebSocket is disabled")
		return
	}
	utils.SendSuccess(c, h.wsHub.GetStats())
}
