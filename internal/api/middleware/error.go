package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-monitor/pkg/utils"
)

// ErrorHandlingMiddleware recovers from handler panics and answers 500
func ErrorHandlingMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.WithFields(logrus.Fields{
			"panic":       recovered,
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"client_ip":   c.ClientIP(),
			"user_id":     UserID(c),
			"stack_trace": string(debug.Stack()),
		}).Error("Panic recovered in HTTP handler")

		utils.SendError(c, http.StatusInternalServerError, "Internal server error")
		c.Abort()
	})
}
