package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/apimgr/weatherapi/src/server/auth"
	"github.com/apimgr/weatherapi/src/server/middleware"
	services "github.com/apimgr/weatherapi/src/server/service"
	"github.com/apimgr/weatherapi/src/utils"
)

// ErrorResponse is the error payload of every endpoint
type ErrorResponse struct {
	// Human-readable error message
	Error string `json:"error"`
	// Machine-readable error code (e.g., INVALID_INPUT, NOT_FOUND)
	Code string `json:"code"`
	// HTTP status code
	Status int `json:"status"`
	// Per-field validation messages
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error codes
const (
	ErrInvalidInput     = "INVALID_INPUT"
	ErrNotFound         = "NOT_FOUND"
	ErrUnauthorized     = "UNAUTHORIZED"
	ErrForbidden        = "FORBIDDEN"
	ErrConflict         = "CONFLICT"
	ErrValidationFailed = "VALIDATION_FAILED"
	ErrBadRequest       = "BAD_REQUEST"

	ErrInternal        = "INTERNAL_ERROR"
	ErrExternalService = "EXTERNAL_SERVICE_ERROR"
)

// RespondError sends the standard error payload
func RespondError(c *gin.Context, status int, code string, message string, details ...map[string]interface{}) {
	response := ErrorResponse{
		Error:  message,
		Code:   code,
		Status: status,
	}
	if len(details) > 0 {
		response.Details = details[0]
	}
	c.JSON(status, response)
}

// respondServiceError maps service and auth errors to status codes.
// Unknown errors are logged and hidden behind a 500.
func respondServiceError(c *gin.Context, logger *utils.Logger, err error) {
	var validationErr *services.ValidationError

	switch {
	case errors.As(err, &validationErr):
		RespondError(c, http.StatusUnprocessableEntity, ErrValidationFailed, "Validation failed", validationErr.Details())

	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrRevokedToken):
		RespondError(c, http.StatusUnauthorized, ErrUnauthorized, "Access denied")

	case errors.Is(err, services.ErrInvalidCredentials):
		RespondError(c, http.StatusForbidden, ErrForbidden, "Unauthorized")

	case errors.Is(err, services.ErrNotFound),
		errors.Is(err, services.ErrLocationNotFound):
		RespondError(c, http.StatusNotFound, ErrNotFound, err.Error())

	case errors.Is(err, services.ErrConflict):
		RespondError(c, http.StatusBadRequest, ErrConflict, err.Error())

	case errors.Is(err, services.ErrForbidden):
		RespondError(c, http.StatusBadRequest, ErrBadRequest, err.Error())

	case errors.Is(err, services.ErrInvalidUnits):
		RespondError(c, http.StatusBadRequest, ErrInvalidInput, err.Error())

	case errors.Is(err, services.ErrUpstream):
		logger.Warn("Upstream failure [%s]: %v", middleware.GetRequestID(c), err)
		RespondError(c, http.StatusBadGateway, ErrExternalService, "Weather service unavailable")

	default:
		logger.Error("%s %s [%s]: %v", c.Request.Method, c.FullPath(), middleware.GetRequestID(c), err)
		RespondError(c, http.StatusInternalServerError, ErrInternal, "Internal server error")
	}
}

// respondBadBody reports a request body that is not valid JSON
func respondBadBody(c *gin.Context, err error) {
	RespondError(c, http.StatusUnprocessableEntity, ErrInvalidInput, "Invalid request body",
		map[string]interface{}{"body": err.Error()})
}
