package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/frostdev-ops/pma-monitor/pkg/utils"
)

// GetChannels returns the notification channels. Transport settings are not
// exposed.
func (h *Handlers) GetChannels(c *gin.Context) {
	channels := h.engine.Channels()
	utils.SendSuccessWithMeta(c, channels, gin.H{"count": len(channels)})
}

// SetChannelEnabled turns a channel on or off
func (h *Handlers) SetChannelEnabled(c *gin.Context) {
	var req ruleEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := h.engine.SetChannelEnabled(c.Param("id"), *req.Enabled); err != nil {
		utils.SendAppError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{"id": c.Param("id"), "enabled": *req.Enabled})
}

// GetDeliveries returns recent notification attempts, newest first
func (h *Handlers) GetDeliveries(c *gin.Context) {
	deliveries := h.engine.Deliveries(queryLimit(c, 100))
	utils.SendSuccessWithMeta(c, deliveries, gin.H{"count": len(deliveries)})
}
