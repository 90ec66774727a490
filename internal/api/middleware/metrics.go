package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/frostdev-ops/pma-monitor/internal/core/metrics"
)

// MetricsMiddleware records request counts and latency
func MetricsMiddleware(exporter *metrics.Exporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		exporter.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
