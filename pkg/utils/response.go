package utils

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/frostdev-ops/pma-monitor/pkg/errors"
)

// Response represents a standard API response
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
	Meta      interface{} `json:"meta,omitempty"`
}

// ErrorResponse represents an enhanced error response with additional context
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     string      `json:"error"`
	Code      int         `json:"code"`
	Timestamp string      `json:"timestamp"`
	Request   RequestInfo `json:"request"`
	Details   interface{} `json:"details,omitempty"`
}

// RequestInfo provides context about the failed request
type RequestInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Query  string `json:"query,omitempty"`
}

// SendSuccess sends a successful response
func SendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SendError sends an error response with enhanced context
func SendError(c *gin.Context, statusCode int, message string) {
	errorResponse := ErrorResponse{
		Success:   false,
		Error:     message,
		Code:      statusCode,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Request: RequestInfo{
			Method: c.Request.Method,
			Path:   c.Request.URL.Path,
			Query:  c.Request.URL.RawQuery,
		},
	}

	// Add helpful suggestions for common errors
	if statusCode == http.StatusNotFound {
		suggestions := generateNotFoundSuggestions(c.Request.URL.Path)
		if len(suggestions) > 0 {
			errorResponse.Details = map[string]interface{}{
				"suggestions": suggestions,
				"message":     "The requested endpoint does not exist. Check the suggestions below for similar endpoints.",
			}
		}
	} else if statusCode == http.StatusMethodNotAllowed {
		errorResponse.Details = map[string]interface{}{
			"message": "The HTTP method is not supported for this endpoint. Please check the API documentation for supported methods.",
		}
	}

	c.JSON(statusCode, errorResponse)
}

// SendSuccessWithMeta sends a successful response with metadata
func SendSuccessWithMeta(c *gin.Context, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Meta:      meta,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SendAppError maps err to its HTTP status. Application errors answer with
// their details; anything else is reported as an internal error.
func SendAppError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		SendError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	message := appErr.Details
	if message == "" {
		message = appErr.Message
	}
	SendError(c, appErr.Code, message)
}

// generateNotFoundSuggestions provides helpful endpoint suggestions for 404 errors
func generateNotFoundSuggestions(path string) []string {
	commonEndpoints := []string{
		"/health",
		"/api/v1/metrics",
		"/api/v1/alerts",
		"/api/v1/monitoring/status",
		"/api/v1/automation/rules",
		"/api/v1/automation/executions",
		"/api/v1/workflows",
		"/api/v1/notifications/channels",
		"/ws",
	}

	keywords := []string{"metric", "alert", "monitoring", "automation", "workflow", "notification"}

	var suggestions []string
	pathLower := strings.ToLower(path)

	for _, keyword := range keywords {
		if !strings.Contains(pathLower, keyword) {
			continue
		}
		for _, endpoint := range commonEndpoints {
			if strings.Contains(endpoint, keyword) {
				suggestions = append(suggestions, endpoint)
			}
		}
	}
	if len(suggestions) == 0 && strings.Contains(pathLower, "status") {
		suggestions = append(suggestions, "/health", "/api/v1/monitoring/status")
	}

	// Remove duplicates and limit suggestions
	seen := make(map[string]bool)
	var unique []string
	for _, suggestion := range suggestions {
		if !seen[suggestion] && len(unique) < 5 {
			seen[suggestion] = true
			unique = append(unique, suggestion)
		}
	}

	return unique
}
