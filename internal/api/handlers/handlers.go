package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-monitor/internal/adapters/feed"
	"github.com/frostdev-ops/pma-monitor/internal/api/middleware"
	"github.com/frostdev-ops/pma-monitor/internal/config"
	"github.com/frostdev-ops/pma-monitor/internal/core/monitoring"
	"github.com/frostdev-ops/pma-monitor/internal/database/repositories"
	"github.com/frostdev-ops/pma-monitor/internal/websocket"
)

// Handlers holds all HTTP handlers and their dependencies
type Handlers struct {
	cfg    *config.Config
	engine *monitoring.Engine
	feed   *feed.Queue
	wsHub  *websocket.Hub
	audit  repositories.AuditRepository
	log    *logrus.Logger
}

// NewHandlers creates a new handlers instance. The hub and audit repository
// are optional; their endpoints answer 503 without them.
func NewHandlers(cfg *config.Config, engine *monitoring.Engine, queue *feed.Queue, wsHub *websocket.Hub, audit repositories.AuditRepository, logger *logrus.Logger) *Handlers {
	return &Handlers{
		cfg:    cfg,
		engine: engine,
		feed:   queue,
		wsHub:  wsHub,
		audit:  audit,
		log:    logger,
	}
}

// actorRequest is embedded by bodies that name who performs an action
type actorRequest struct {
	UserID string `json:"user_id"`
}

// actor resolves who performs a mutation: the authenticated user wins over
// the request body
func actor(c *gin.Context, fromBody string) string {
	if id := middleware.UserID(c); id != "" {
		return id
	}
	if fromBody != "" {
		return fromBody
	}
	return "anonymous"
}

// queryLimit parses the limit query parameter, falling back to def
func queryLimit(c *gin.Context, def int) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
