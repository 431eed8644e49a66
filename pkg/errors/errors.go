// Package errors defines the shared error taxonomy for the gateway.
// Every error crossing the provider boundary is normalized into one of the
// kinds below; broker-specific codes are translated, never leaked raw.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Kind classifies an error for retry and recovery decisions.
type Kind string

const (
	// KindConfiguration - fatal, caller must fix the config and reinitialize
	KindConfiguration Kind = "configuration"
	// KindAuthentication - triggers a recovery attempt, then fatal
	KindAuthentication Kind = "authentication"
	// KindNetwork - transient transport failure, retryable up to policy limit
	KindNetwork Kind = "network"
	// KindTimeout - operation deadline exceeded, retryable up to policy limit
	KindTimeout Kind = "timeout"
	// KindCircuitOpen - fails fast, never retried
	KindCircuitOpen Kind = "circuit_open"
	// KindValidation - market/compliance rule violation, never retried
	KindValidation Kind = "validation"
	// KindRateLimit - retryable, honoring a server-suggested delay if present
	KindRateLimit Kind = "rate_limit"
	// KindNotSupported - operation outside the provider's capability set
	KindNotSupported Kind = "not_supported"
	// KindProvider - unclassified broker-side failure
	KindProvider Kind = "provider"
)

// Error carries a classified gateway error with structured details.
type Error struct {
	Kind     Kind                   `json:"kind"`
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Provider string                 `json:"provider,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`

	// RetryAfter is a server-suggested backoff for rate-limit errors.
	RetryAfter time.Duration `json:"-"`

	cause error
}

var _ error = (*Error)(nil)

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap classifies an underlying error without losing its chain.
func Wrap(kind Kind, code string, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Code: code, Message: msg, cause: cause}
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s (provider=%s)", e.Kind, e.Code, e.Message, e.Provider)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithProvider tags the error with the originating provider id.
func (e *Error) WithProvider(id string) *Error {
	e.Provider = id
	return e
}

// WithDetail attaches a structured detail field.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRetryAfter records a server-suggested retry delay.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// KindOf extracts the taxonomy kind, or KindProvider for foreign errors.
func KindOf(err error) Kind {
	var ge *Error
	if As(err, &ge) {
		return ge.Kind
	}
	return KindProvider
}

// IsRetryable reports whether the retry executor may re-attempt the call.
// Circuit-open and validation errors are never retried.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout, KindRateLimit:
		return true
	default:
		return false
	}
}

// SuggestedDelay returns a rate-limit server hint, zero when absent.
func SuggestedDelay(err error) time.Duration {
	var ge *Error
	if As(err, &ge) {
		return ge.RetryAfter
	}
	return 0
}

// IsTerminal reports whether recovery should not even be attempted.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindConfiguration, KindValidation, KindNotSupported:
		return true
	default:
		return false
	}
}
