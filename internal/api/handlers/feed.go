package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/frostdev-ops/pma-monitor/internal/core/automation"
	"github.com/frostdev-ops/pma-monitor/pkg/utils"
)

// maxFeedBatch bounds one ingestion request
const maxFeedBatch = 500

func validUpstream(u *automation.Upstream) string {
	if u.EntityID == "" {
		return "entity_id is required"
	}
	if u.Score < 0 || u.Score > 1 {
		return "confidence must be between 0 and 1"
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now().UTC()
	}
	return ""
}

// ingest binds a batch, validates every entry and queues them for the next
// monitoring tick
func ingest[T any](h *Handlers, c *gin.Context, upstream func(*T) *automation.Upstream, wrap func(T) automation.Event) {
	if h.feed == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Event feed is not available")
		return
	}

	var batch []T
	if err := c.ShouldBindJSON(&batch); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Body must be a JSON array of events")
		return
	}
	if len(batch) == 0 || len(batch) > maxFeedBatch {
		utils.SendError(c, http.StatusBadRequest, "Batch must hold between 1 and 500 events")
		return
	}

	events := make([]automation.Event, 0, len(batch))
	for i := range batch {
		if msg := validUpstream(upstream(&batch[i])); msg != "" {
			utils.SendError(c, http.StatusBadRequest, msg)
			return
		}
		events = append(events, wrap(batch[i]))
	}

	h.feed.Push(events...)
	c.JSON(http.StatusAccepted, utils.Response{
		Success:   true,
		Data:      gin.H{"accepted": len(events), "backlog": h.feed.Len()},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// IngestPredictions queues upstream predictions
func (h *Handlers) IngestPredictions(c *gin.Context) {
	ingest(h, c,
		func(e *automation.PredictionEvent) *automation.Upstream { return &e.Upstream },
		func(e automation.PredictionEvent) automation.Event { return e })
}

// IngestAnomalies queues upstream anomalies
func (h *Handlers) IngestAnomalies(c *gin.Context) {
	ingest(h, c,
		func(e *automation.AnomalyEvent) *automation.Upstream { return &e.Upstream },
		func(e automation.AnomalyEvent) automation.Event { return e })
}

// IngestCorrelations queues upstream correlations
func (h *Handlers) IngestCorrelations(c *gin.Context) {
	ingest(h, c,
		func(e *automation.CorrelationEvent) *automation.Upstream { return &e.Upstream },
		func(e automation.CorrelationEvent) automation.Event { return e })
}
