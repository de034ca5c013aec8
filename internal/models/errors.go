package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a completion failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuthentication
	KindRateLimit
	KindInvalidRequest
	KindQuotaExceeded
	KindModelUnavailable
	KindNetworkError
)

// String returns the snake_case name used in logs, metrics and API bodies.
func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindRateLimit:
		return "rate_limit"
	case KindInvalidRequest:
		return "invalid_request"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindModelUnavailable:
		return "model_unavailable"
	case KindNetworkError:
		return "network_error"
	default:
		return "unknown"
	}
}

// KindForStatus maps a non-success HTTP status from a provider onto an
// error kind and whether the call may be retried.
func KindForStatus(status int) (ErrorKind, bool) {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuthentication, false
	case status == http.StatusTooManyRequests:
		return KindRateLimit, true
	case status == http.StatusBadRequest:
		return KindInvalidRequest, false
	case status == http.StatusPaymentRequired:
		return KindQuotaExceeded, false
	case status == http.StatusServiceUnavailable:
		return KindModelUnavailable, true
	case status >= 500 && status <= 599:
		return KindNetworkError, true
	default:
		return KindNetworkError, false
	}
}

// CompletionError represents a standardized failure from the router or any
// provider.
type CompletionError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Provider   string    `json:"provider,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Retryable  bool      `json:"retryable"`
	// Cost already incurred before the failure, if any.
	Cost float64 `json:"cost,omitempty"`
	Err  error   `json:"-"`
}

// NewCompletionError creates a completion error.
func NewCompletionError(kind ErrorKind, message string, retryable bool, err error) *CompletionError {
	return &CompletionError{
		Kind:      kind,
		Message:   message,
		Retryable: retryable,
		Err:       err,
	}
}

// NewStatusError creates a completion error for a non-success HTTP status.
func NewStatusError(provider string, status int, body string) *CompletionError {
	kind, retryable := KindForStatus(status)
	return &CompletionError{
		Kind:       kind,
		Message:    fmt.Sprintf("%s api error (status %d): %s", provider, status, body),
		Provider:   provider,
		StatusCode: status,
		Retryable:  retryable,
	}
}

// Error implements the error interface.
func (e *CompletionError) Error() string {
	prefix := e.Kind.String()
	if e.Provider != "" {
		prefix = e.Provider + ": " + prefix
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying error.
func (e *CompletionError) Unwrap() error {
	return e.Err
}

// AsCompletionError extracts a *CompletionError from err. Errors that are
// not completion errors are reported as non-retryable KindUnknown.
func AsCompletionError(err error) *CompletionError {
	if err == nil {
		return nil
	}
	var cerr *CompletionError
	if errors.As(err, &cerr) {
		return cerr
	}
	return NewCompletionError(KindUnknown, "unexpected error", false, err)
}

// IsRetryable reports whether err is a retryable completion error.
func IsRetryable(err error) bool {
	var cerr *CompletionError
	if errors.As(err, &cerr) {
		return cerr.Retryable
	}
	return false
}
