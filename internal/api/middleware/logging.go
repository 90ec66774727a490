package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-monitor/pkg/logger"
)

// LoggingMiddleware logs every request. Successful responses are folded into
// periodic batch summaries by the logger.
func LoggingMiddleware(bl *logger.BatchLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		bl.LogRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start), logrus.Fields{
			"client_ip":     c.ClientIP(),
			"user_agent":    c.Request.UserAgent(),
			"error_message": c.Errors.ByType(gin.ErrorTypePrivate).String(),
		})
	}
}
