// Package llmerrors provides structured error classification for upstream
// model API interactions, used by retry and circuit breaker logic.
package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents categories of model errors for retry decisions.
type ErrorType int8

const (
	// ErrorTypeRateLimit represents rate limiting (429, quota exceeded). Retryable.
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents transient failures (5xx, EOF, connection reset, timeout). Retryable.
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents HTTP 200 with no content. Retryable.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth represents authentication failures (401/403). Not retryable.
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed requests (too long, policy violation). Not retryable.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is the default for unclassified errors.
	ErrorTypeUnknown
)

// String returns the metrics label for the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified model error.
type Error struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("model error (%s): %s", e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("model error (%s): %v", e.Type, e.Err)
	}
	return fmt.Sprintf("model error (%s): status %d", e.Type, e.StatusCode)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether this error type should be retried.
// Blocklist approach: retryable unless explicitly non-retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt:
		return false
	default:
		return true
	}
}

// New creates a classified error.
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// Wrap creates a classified error wrapping a cause.
func Wrap(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// Is checks whether err carries the given classification.
func Is(err error, errorType ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == errorType
	}
	return false
}

// TypeOf returns the classification of err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// Classify inspects an unclassified upstream error and assigns a type.
// Context cancellation is deliberately left unwrapped so callers can
// distinguish it with errors.Is.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		return Wrap(ErrorTypeRateLimit, err, "")
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key"):
		return Wrap(ErrorTypeAuth, err, "")
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid request") ||
		strings.Contains(msg, "context length"):
		return Wrap(ErrorTypeBadPrompt, err, "")
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") ||
		strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") ||
		strings.Contains(msg, "eof") || strings.Contains(msg, "temporar"):
		return Wrap(ErrorTypeTransient, err, "")
	default:
		return Wrap(ErrorTypeUnknown, err, "")
	}
}
