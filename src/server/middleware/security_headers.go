package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// SecurityHeaders sets the headers shared by every response. Chart pages
// load echarts from its CDN, so no Content-Security-Policy is sent for them;
// JSON responses get a deny-all policy.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
			h.Set("Strict-Transport-Security", "max-age=31536000")
		}
		if !isChartPath(c.Request.URL.Path) {
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		}

		c.Next()
	}
}

func isChartPath(path string) bool {
	return strings.Contains(path, "/chart/") ||
		strings.HasPrefix(path, "/weather/map/") ||
		strings.HasPrefix(path, "/weather/pollution/")
}

// NoStore keeps token-bearing responses out of caches. Every /users
// response either returns a token or is authorized by one.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
