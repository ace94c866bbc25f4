// Package llmerr defines the error type shared by provider clients, the
// resilience wrappers and the orchestration manager. The Retryable flag on
// an *Error is the only signal used to decide between retrying, falling back
// and giving up.
package llmerr

import (
	"errors"
	"fmt"
)

const (
	CodeMissingAPIKey       = "MISSING_API_KEY"
	CodeUnsupportedProvider = "UNSUPPORTED_PROVIDER"
	CodeInvalidConfig       = "INVALID_CONFIG"
	CodeNetwork             = "NETWORK_ERROR"
	CodeTimeout             = "TIMEOUT"
	CodeEmptyResponse       = "EMPTY_RESPONSE"
	CodeInvalidResponse     = "INVALID_RESPONSE"
	CodeCircuitOpen         = "CIRCUIT_OPEN"
	CodeUnknown             = "UNKNOWN"
)

type Error struct {
	Code       string
	Message    string
	Details    string // raw backend body, if any
	Retryable  bool
	Provider   string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	prefix := e.Code
	if e.Provider != "" {
		prefix = fmt.Sprintf("%s %s", e.Provider, e.Code)
	}
	if e.StatusCode > 0 {
		prefix = fmt.Sprintf("%s (status %d)", prefix, e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New returns a non-retryable error.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Transient returns a retryable error.
func Transient(code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: true}
}

// Wrap attaches cause to a new error with the given code and retryability.
func Wrap(cause error, code, message string, retryable bool) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable, Cause: cause}
}

// WithProvider returns a copy of e tagged with the provider name.
func (e *Error) WithProvider(name string) *Error {
	c := *e
	c.Provider = name
	return &c
}

// As reports whether err carries an *Error and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable returns false only for errors explicitly marked non-retryable.
// Errors that are not *Error values are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := As(err); ok {
		return e.Retryable
	}
	return true
}

// CodeOf returns the error code, or CodeUnknown for foreign errors.
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeUnknown
}
