package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases.
// Use errors.Is() to check against these.
var (
	ErrConfig         = errors.New("configuration error")
	ErrAuth           = errors.New("authentication required")
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUpstreamError  = errors.New("upstream error")
	ErrRateLimited    = errors.New("rate limited")
)

// APIError represents a structured error from the upstream API.
// Implements error interface and supports unwrapping.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"` // HTTP status from the upstream, not serialized
	Body       string `json:"-"` // Raw response body, not serialized
	Err        error  `json:"-"` // Wrapped error, not serialized
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewConfigError creates an error for missing or invalid configuration.
// Fatal, surfaced immediately, never retried.
func NewConfigError(reason string) *APIError {
	return &APIError{
		Code:    "CONFIG_ERROR",
		Message: reason,
		Err:     ErrConfig,
	}
}

// NewAuthError creates an error for failed or expired authentication.
// Fatal for the run; the caller must re-run the interactive flow.
func NewAuthError(reason string) *APIError {
	return &APIError{
		Code:       "AUTH_ERROR",
		Message:    reason,
		StatusCode: 401,
		Err:        ErrAuth,
	}
}

// NewNotFoundError creates an error for zero search results.
// Not a run failure; aggregated into the report's not_found list.
func NewNotFoundError(term string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("no products found for %q", term),
		StatusCode: 404,
		Err:        ErrNotFound,
	}
}

// NewValidationError creates an error for malformed caller input.
// Rejected before any network call.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		StatusCode: 400,
		Err:        ErrInvalidRequest,
	}
}

// NewUpstreamError creates an error for transport-level failures.
func NewUpstreamError(err error) *APIError {
	return &APIError{
		Code:       "UPSTREAM_ERROR",
		Message:    "Kroger API request failed",
		StatusCode: 502,
		Err:        fmt.Errorf("%w: %v", ErrUpstreamError, err),
	}
}

// NewStatusError creates an error carrying a non-2xx upstream status and body.
// Produced by the request layer after retries are exhausted.
func NewStatusError(status int, body []byte) *APIError {
	return &APIError{
		Code:       "API_ERROR",
		Message:    fmt.Sprintf("Kroger API returned status %d", status),
		StatusCode: status,
		Body:       string(body),
		Err:        ErrUpstreamError,
	}
}

// NewRateLimitError creates a 429 error for rate limiting.
func NewRateLimitError() *APIError {
	return &APIError{
		Code:       "RATE_LIMITED",
		Message:    "Kroger API rate limit exceeded, please retry later",
		StatusCode: 429,
		Err:        ErrRateLimited,
	}
}
