package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/httprate"
)

// RateLimit limits each client IP to requests per window. A non-positive
// limit disables limiting.
func RateLimit(requests int, window time.Duration) gin.HandlerFunc {
	if requests <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	limiter := httprate.NewRateLimiter(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			// Marker for the gin side; the JSON body is written there
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
		}),
	)

	return func(c *gin.Context) {
		allowed := false
		next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			allowed = true
		})

		// httprate only touches headers here; the body is gin's to write
		limiter.Handler(next).ServeHTTP(c.Writer, c.Request)

		if !allowed {
			abortWithError(c, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later.", nil)
			return
		}

		c.Next()
	}
}
