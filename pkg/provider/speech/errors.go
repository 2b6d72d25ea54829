package speech

import (
	"errors"
	"fmt"
)

// ErrorKind categorises vendor failures. The gateway retries Timeout,
// QuotaExceeded, and ServiceUnavailable per its backoff policy; InvalidInput
// is terminal and surfaces immediately.
type ErrorKind string

const (
	KindTimeout            ErrorKind = "timeout"
	KindQuotaExceeded      ErrorKind = "quota_exceeded"
	KindInvalidInput       ErrorKind = "invalid_input"
	KindServiceUnavailable ErrorKind = "service_unavailable"
)

// Error is a structured vendor failure.
type Error struct {
	// Kind is the failure category.
	Kind ErrorKind

	// Provider is the vendor name that produced the failure.
	Provider string

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Provider, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the gateway may retry the call.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindQuotaExceeded, KindServiceUnavailable:
		return true
	}
	return false
}

// NewError constructs an [*Error] for the given provider and kind.
func NewError(provider string, kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message}
}

// WithCause attaches the underlying error and returns e for chaining.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// IsRetryable reports whether err is a retryable [*Error]. Non-provider
// errors (including context cancellation) are never retryable.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}

// KindOf extracts the [ErrorKind] from err, or "" for non-provider errors.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
