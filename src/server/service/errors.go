package services

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Service errors. Handlers map them to status codes with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("already exists")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrValidation         = errors.New("validation failed")

	ErrLocationNotFound = errors.New("location not found")
	ErrUpstream         = errors.New("upstream weather service failed")
	ErrInvalidUnits     = errors.New("units must be metric, imperial or standard")
)

// ValidationError carries per-field messages and matches ErrValidation
type ValidationError struct {
	Fields validation.Errors
}

func (e *ValidationError) Error() string {
	return ErrValidation.Error() + ": " + e.Fields.Error()
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Details flattens the field errors for the response payload
func (e *ValidationError) Details() map[string]interface{} {
	details := make(map[string]interface{}, len(e.Fields))
	for field, err := range e.Fields {
		details[field] = strings.TrimSpace(err.Error())
	}
	return details
}

// asValidationError wraps ozzo errors; anything else is returned unchanged
func asValidationError(err error) error {
	var fields validation.Errors
	if errors.As(err, &fields) {
		return &ValidationError{Fields: fields}
	}
	return err
}
