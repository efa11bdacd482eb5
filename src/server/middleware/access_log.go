package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apimgr/weatherapi/src/utils"
)

// slowRequest is the latency above which a request is also logged as a warning
const slowRequest = time.Second

// AccessLogger writes one access log line per request
func AccessLogger(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)

		// Subject of the session token, when the route was authenticated
		username := ""
		if identity, ok := GetIdentity(c); ok {
			username = identity.Subject
		}

		logger.Access(
			c.ClientIP(),
			username,
			c.Request.Method,
			c.Request.URL.Path,
			c.Request.Proto,
			c.Writer.Status(),
			int64(c.Writer.Size()),
			c.Request.Referer(),
			c.Request.UserAgent(),
			GetRequestID(c),
			latency,
		)

		if latency > slowRequest {
			logger.Warn("Slow request: %s %s took %v", c.Request.Method, c.Request.URL.Path, latency)
		}
	}
}
