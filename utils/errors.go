package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

func NewAPIErrorWithDetails(code int, message, details string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	ErrInvalidRequest    = NewAPIError(http.StatusBadRequest, "Invalid request")
	ErrForbidden         = NewAPIError(http.StatusForbidden, "Forbidden")
	ErrTooManyRequests   = NewAPIError(http.StatusTooManyRequests, "Too many requests")
	ErrInternalServer    = NewAPIError(http.StatusInternalServerError, "Internal server error")
	ErrRateLimitExceeded = NewAPIError(http.StatusTooManyRequests, "Rate limit exceeded")
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("duplicate")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError rejects a request before anything is persisted.
type ValidationError struct {
	Code    int
	Message string
	Fields  []string
	Err     error
}

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func NewConflictError(message string) *ValidationError {
	return &ValidationError{Code: http.StatusConflict, Message: message, Err: ErrDuplicate}
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

type AuthorizationError struct {
	Message string
}

func NewAuthorizationError(format string, args ...interface{}) *AuthorizationError {
	return &AuthorizationError{Message: fmt.Sprintf(format, args...)}
}

func (e *AuthorizationError) Error() string {
	return e.Message
}

// RoutingError means a rule could not be resolved or executed.
type RoutingError struct {
	Op  string
	Err error
}

func (e *RoutingError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RoutingError) Unwrap() error {
	return e.Err
}

type ProviderError struct {
	URL string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("Microservice call failed: %v", e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// StatusCode maps an error from the taxonomy to an HTTP status.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var apiErr *APIError
	var validationErr *ValidationError
	var authErr *AuthorizationError
	var providerErr *ProviderError

	switch {
	case errors.As(err, &apiErr):
		return apiErr.Code
	case errors.As(err, &validationErr):
		return validationErr.Code
	case errors.As(err, &authErr):
		return http.StatusForbidden
	case errors.As(err, &providerErr):
		return http.StatusBadGateway
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrDuplicate), errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func WrapError(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

func LogError(ctx context.Context, err error, message string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}

	fields["error"] = err.Error()

	Error(ctx, message, fields)
}
