package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/frostdev-ops/pma-monitor/pkg/version"
)

// Health returns the health status of the service. It answers 503 when
// monitoring is enabled but the loop has stopped.
func (h *Handlers) Health(c *gin.Context) {
	status := h.engine.GetMonitoringStatus()
	build := version.GetBuildInfo()

	healthy := status.Running || !h.cfg.Monitoring.Enabled
	state := "healthy"
	code := http.StatusOK
	if !healthy {
		state = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	body := gin.H{
		"status":     state,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"service":    build.Service,
		"version":    build.Version,
		"build":      build,
		"monitoring": status,
	}
	if h.wsHub != nil {
		body["websocket_clients"] = h.wsHub.GetClientCount()
	}

	c.JSON(code, body)
}
