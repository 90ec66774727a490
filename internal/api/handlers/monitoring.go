package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/frostdev-ops/pma-monitor/internal/core/alerts"
	"github.com/frostdev-ops/pma-monitor/internal/database/models"
	"github.com/frostdev-ops/pma-monitor/pkg/utils"
)

// alertView adds the derived lifecycle state to an alert
type alertView struct {
	alerts.Alert
	Status alerts.Status `json:"status"`
}

func viewAlert(a alerts.Alert) alertView {
	return alertView{Alert: a, Status: a.Status()}
}

// GetMetrics returns every registered metric
func (h *Handlers) GetMetrics(c *gin.Context) {
	list := h.engine.GetMetrics()
	if category := c.Query("category"); category != "" {
		filtered := list[:0]
		for _, m := range list {
			if strings.EqualFold(string(m.Category), category) {
				filtered = append(filtered, m)
			}
		}
		list = filtered
	}
	utils.SendSuccessWithMeta(c, list, gin.H{"count": len(list)})
}

// GetMetric returns one metric
func (h *Handlers) GetMetric(c *gin.Context) {
	m, ok := h.engine.GetMetric(c.Param("id"))
	if !ok {
		utils.SendError(c, http.StatusNotFound, "Metric not found")
		return
	}
	utils.SendSuccess(c, m)
}

// GetMetricHistory returns persisted snapshots of a metric
func (h *Handlers) GetMetricHistory(c *gin.Context) {
	if h.audit == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Metric history is not available")
		return
	}
	id := c.Param("id")
	if _, ok := h.engine.GetMetric(id); !ok {
		utils.SendError(c, http.StatusNotFound, "Metric not found")
		return
	}

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			utils.SendError(c, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		since = parsed
	}

	history, err := h.audit.MetricHistory(c.Request.Context(), id, since, queryLimit(c, 500))
	if err != nil {
		h.log.WithError(err).WithField("metric", id).Error("Failed to load metric history")
		utils.SendError(c, http.StatusInternalServerError, "Failed to load metric history")
		return
	}
	utils.SendSuccessWithMeta(c, history, gin.H{"count": len(history)})
}

// GetAlerts returns alerts held in memory, newest first. Optional filters:
// status, severity, type, entity_id.
func (h *Handlers) GetAlerts(c *gin.Context) {
	status := c.Query("status")
	severity := c.Query("severity")
	alertType := c.Query("type")
	entityID := c.Query("entity_id")
	limit := queryLimit(c, 100)

	out := make([]alertView, 0)
	for _, a := range h.engine.GetAlerts() {
		if status != "" && string(a.Status()) != status {
			continue
		}
		if severity != "" && string(a.Severity) != severity {
			continue
		}
		if alertType != "" && string(a.Type) != alertType {
			continue
		}
		if entityID != "" && a.Source.EntityID != entityID {
			continue
		}
		out = append(out, viewAlert(a))
		if len(out) == limit {
			break
		}
	}

	utils.SendSuccessWithMeta(c, out, gin.H{"count": len(out)})
}

// GetAlert returns one alert
func (h *Handlers) GetAlert(c *gin.Context) {
	a, ok := h.engine.GetAlert(c.Param("id"))
	if !ok {
		utils.SendError(c, http.StatusNotFound, "Alert not found")
		return
	}
	utils.SendSuccess(c, viewAlert(a))
}

// GetAlertHistory returns persisted alerts, including ones already evicted
// from memory
func (h *Handlers) GetAlertHistory(c *gin.Context) {
	if h.audit == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Alert history is not available")
		return
	}
	records, err := h.audit.ListAlerts(c.Request.Context(), models.AlertFilter{
		Status:   c.Query("status"),
		Severity: c.Query("severity"),
		EntityID: c.Query("entity_id"),
		Limit:    queryLimit(c, 100),
	})
	if err != nil {
		h.log.WithError(err).Error("Failed to load alert history")
		utils.SendError(c, http.StatusInternalServerError, "Failed to load alert history")
		return
	}
	utils.SendSuccessWithMeta(c, records, gin.H{"count": len(records)})
}

type acknowledgeRequest struct {
	actorRequest
	Reason string `json:"reason"`
}

// AcknowledgeAlert marks an alert as seen. Repeating it is a no-op.
func (h *Handlers) AcknowledgeAlert(c *gin.Context) {
	var req acknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := c.Param("id")
	if _, ok := h.engine.GetAlert(id); !ok {
		utils.SendError(c, http.StatusNotFound, "Alert not found")
		return
	}
	changed := h.engine.AcknowledgeAlert(id, actor(c, req.UserID), req.Reason)
	a, _ := h.engine.GetAlert(id)
	utils.SendSuccessWithMeta(c, viewAlert(a), gin.H{"changed": changed})
}

type resolveRequest struct {
	actorRequest
	Resolution string `json:"resolution"`
}

// ResolveAlert closes an alert. Repeating it is a no-op.
func (h *Handlers) ResolveAlert(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := c.Param("id")
	if _, ok := h.engine.GetAlert(id); !ok {
		utils.SendError(c, http.StatusNotFound, "Alert not found")
		return
	}
	changed := h.engine.ResolveAlert(id, actor(c, req.UserID), req.Resolution)
	a, _ := h.engine.GetAlert(id)
	utils.SendSuccessWithMeta(c, viewAlert(a), gin.H{"changed": changed})
}

// GetMonitoringStatus reports loop health and counts
func (h *Handlers) GetMonitoringStatus(c *gin.Context) {
	status := h.engine.GetMonitoringStatus()
	body := gin.H{
		"status":       status,
		"feed_backlog": 0,
	}
	if h.feed != nil {
		body["feed_backlog"] = h.feed.Len()
		body["feed_dropped"] = h.feed.Dropped()
	}
	utils.SendSuccess(c, body)
}
