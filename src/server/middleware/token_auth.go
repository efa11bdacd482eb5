package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/apimgr/weatherapi/src/server/auth"
	"github.com/apimgr/weatherapi/src/utils"
)

const (
	// HeaderToken carries the raw session token
	HeaderToken = "Token"

	// IdentityKey is the gin context key holding the auth.Identity
	IdentityKey = "identity"
)

// RequireToken authenticates the request with the gate. The token is read
// from the Token header, falling back to "Authorization: Bearer <token>".
// Bad, missing and revoked tokens abort with 401; a failing blacklist store
// aborts with 500.
func RequireToken(gate *auth.Gate, logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := gate.Authenticate(c.Request.Context(), extractToken(c))
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrMissingToken):
				abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Missing token", nil)
			case errors.Is(err, auth.ErrRevokedToken):
				abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Token has been revoked", nil)
			case errors.Is(err, auth.ErrInvalidToken):
				abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token", nil)
			default:
				logger.Error("Token check failed [%s]: %v", GetRequestID(c), err)
				abortWithError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
			}
			return
		}

		c.Set(IdentityKey, identity)
		c.Next()
	}
}

// GetIdentity returns the identity stored by RequireToken
func GetIdentity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := v.(auth.Identity)
	return identity, ok
}

func extractToken(c *gin.Context) string {
	if t := strings.TrimSpace(c.GetHeader(HeaderToken)); t != "" {
		return t
	}

	authHeader := c.GetHeader("Authorization")
	scheme, t, ok := strings.Cut(authHeader, " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(t)
	}
	return ""
}
