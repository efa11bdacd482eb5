package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDKey is the gin context key holding the request ID
	RequestIDKey = "request_id"

	HeaderXRequestID     = "X-Request-ID"
	HeaderXCorrelationID = "X-Correlation-ID"
	// Cloudflare
	HeaderCFRay = "CF-Ray"
	// AWS load balancers
	HeaderXAmznTraceID = "X-Amzn-Trace-Id"
)

// maxRequestIDLen caps IDs accepted from clients so they cannot bloat logs
const maxRequestIDLen = 128

// RequestID reuses an upstream request ID when one is present, otherwise
// generates a UUID v4, and echoes it in the X-Request-ID response header
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := extractRequestID(c)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Header(HeaderXRequestID, requestID)

		c.Next()
	}
}

// extractRequestID checks the known request ID headers in priority order
func extractRequestID(c *gin.Context) string {
	for _, header := range []string{
		HeaderXRequestID,
		HeaderXCorrelationID,
		HeaderCFRay,
		HeaderXAmznTraceID,
	} {
		if id := c.GetHeader(header); id != "" && len(id) <= maxRequestIDLen {
			return id
		}
	}
	return ""
}

// GetRequestID returns the request ID, or "" outside the middleware chain
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}
