package middleware

import (
	"github.com/gin-gonic/gin"
)

// abortWithError writes the same error envelope the handlers use
func abortWithError(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	body := gin.H{
		"error":  message,
		"code":   code,
		"status": status,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	c.AbortWithStatusJSON(status, body)
}
