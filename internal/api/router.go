package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/frostdev-ops/pma-monitor/internal/api/handlers"
	"github.com/frostdev-ops/pma-monitor/internal/api/middleware"
	"github.com/frostdev-ops/pma-monitor/internal/config"
	"github.com/frostdev-ops/pma-monitor/internal/core/metrics"
	"github.com/frostdev-ops/pma-monitor/pkg/logger"
	"github.com/frostdev-ops/pma-monitor/pkg/utils"
)

// NewRouter creates and configures the main HTTP router. exporter and
// gatherer may be nil, which disables request metrics and /metrics.
func NewRouter(cfg *config.Config, h *handlers.Handlers, bl *logger.BatchLogger, exporter *metrics.Exporter, gatherer prometheus.Gatherer) *gin.Engine {
	// Set gin mode based on config
	switch cfg.Server.Mode {
	case "production", "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.ErrorHandlingMiddleware(bl.Logger))
	router.Use(middleware.LoggingMiddleware(bl))
	router.Use(middleware.CORSMiddleware(cfg.Server.CORSOrigins))
	if exporter != nil {
		router.Use(middleware.MetricsMiddleware(exporter))
	}
	if cfg.Server.RateLimit > 0 {
		rateLimiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
		router.Use(rateLimiter.RateLimitMiddleware())
	}

	router.NoRoute(func(c *gin.Context) {
		utils.SendError(c, http.StatusNotFound, "Endpoint not found")
	})

	// Public routes
	router.GET("/health", h.Health)
	router.GET("/ws", h.WebSocket)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")

	// Read-only routes are public
	{
		api.GET("/metrics", h.GetMetrics)
		api.GET("/metrics/:id", h.GetMetric)
		api.GET("/metrics/:id/history", h.GetMetricHistory)

		api.GET("/alerts", h.GetAlerts)
		api.GET("/alerts/history", h.GetAlertHistory)
		api.GET("/alerts/:id", h.GetAlert)

		api.GET("/monitoring/status", h.GetMonitoringStatus)

		api.GET("/automation/stats", h.GetAutomationStats)
		api.GET("/automation/rules", h.GetRules)
		api.GET("/automation/executions", h.GetExecutions)
		api.GET("/automation/executions/history", h.GetExecutionHistory)
		api.GET("/automation/executions/:id", h.GetExecution)

		api.GET("/workflows", h.GetWorkflows)
		api.GET("/workflows/instances", h.GetWorkflowInstances)
		api.GET("/workflows/instances/:id", h.GetWorkflowInstance)
		api.GET("/workflows/history", h.GetWorkflowHistory)

		api.GET("/notifications/channels", h.GetChannels)
		api.GET("/notifications/deliveries", h.GetDeliveries)

		api.GET("/websocket/stats", h.GetWebSocketStats)
	}

	// Mutating routes require a token when auth is enabled
	protected := api.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	}
	{
		protected.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)
		protected.POST("/alerts/:id/resolve", h.ResolveAlert)

		protected.PUT("/automation/rules/:id/enabled", h.SetRuleEnabled)
		protected.POST("/automation/executions/:id/approve", h.ApproveExecution)
		protected.POST("/automation/executions/:id/reject", h.RejectExecution)

		protected.POST("/workflows/:id/run", h.RunWorkflow)
		protected.PUT("/workflows/:id/status", h.SetWorkflowStatus)
		protected.POST("/workflows/instances/:id/approve", h.ApproveWorkflowStep)
		protected.POST("/workflows/instances/:id/reject", h.RejectWorkflowStep)

		protected.PUT("/notifications/channels/:id/enabled", h.SetChannelEnabled)

		protected.POST("/feed/predictions", h.IngestPredictions)
		protected.POST("/feed/anomalies", h.IngestAnomalies)
		protected.POST("/feed/correlations", h.IngestCorrelations)
	}

	return router
}
