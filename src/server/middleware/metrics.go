package middleware

import (
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apimgr/weatherapi/src/server/metrics"
)

var (
	// Cardinality control for unmatched routes
	jwtRegex       = regexp.MustCompile(`[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)
	ulidRegex      = regexp.MustCompile(`[0-9A-HJKMNP-TV-Z]{26}`)
	numericIDRegex = regexp.MustCompile(`/\d+(?:/|$)`)
)

// Metrics records request count, duration and in-flight requests
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		metrics.HTTPActiveRequests.Inc()
		defer metrics.HTTPActiveRequests.Dec()

		c.Next()

		// The route template keeps tokens and city names out of the labels
		path := c.FullPath()
		if path == "" {
			path = normalizeMetricPath(c.Request.URL.Path)
		}

		status := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// normalizeMetricPath replaces tokens and IDs in a raw path with ":id"
func normalizeMetricPath(path string) string {
	if path == "" {
		return "/"
	}
	path = jwtRegex.ReplaceAllString(path, ":id")
	path = ulidRegex.ReplaceAllString(path, ":id")
	path = numericIDRegex.ReplaceAllStringFunc(path, func(m string) string {
		if m[len(m)-1] == '/' {
			return "/:id/"
		}
		return "/:id"
	})
	return path
}
