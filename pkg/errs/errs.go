// Package errs defines the node runner's error taxonomy: a closed set of
// kinds, each with a fixed retryability, that every backend failure is
// normalized into before it crosses the execution engine boundary.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one entry in the error taxonomy.
type Kind string

const (
	NodeNotFound         Kind = "NODE_NOT_FOUND"
	ParseError           Kind = "PARSE_ERROR"
	PolicyDeny           Kind = "POLICY_DENY"
	QuotaExceeded        Kind = "QUOTA_EXCEEDED"
	IsolationUnavailable Kind = "ISOLATION_UNAVAILABLE"
	Timeout              Kind = "TIMEOUT"
	SandboxCrash         Kind = "SANDBOX_CRASH"
	NetworkError         Kind = "NETWORK_ERROR"
	ValidationError      Kind = "VALIDATION_ERROR"
	Cancelled            Kind = "CANCELLED"
	Unknown              Kind = "UNKNOWN"
)

// retryableByKind is the fixed retryability taxonomy. QUOTA_EXCEEDED has two
// distinct retryability outcomes depending on whether the cap is hard or a
// transient concurrency window, so it is not looked up here — callers use
// NewQuotaExceeded to pick the right one explicitly.
var retryableByKind = map[Kind]bool{
	NodeNotFound:         false,
	ParseError:           false,
	PolicyDeny:           false,
	IsolationUnavailable: false,
	Timeout:              true,
	SandboxCrash:         true,
	NetworkError:         true,
	ValidationError:      false,
	Cancelled:            false,
	Unknown:              true,
}

// Error is the normalized shape every failure takes once it crosses the
// execution engine boundary.
type Error struct {
	Kind      Kind
	Retryable bool
	Message   string
	Source    string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a taxonomy error with the kind's fixed retryability.
func New(kind Kind, source, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Retryable: retryableByKind[kind],
		Message:   message,
		Source:    source,
		Err:       cause,
	}
}

// NewQuotaExceeded builds a QUOTA_EXCEEDED error; hard caps are
// non-retryable, transient concurrency windows are retryable.
func NewQuotaExceeded(source, message string, hard bool) *Error {
	return &Error{
		Kind:      QuotaExceeded,
		Retryable: !hard,
		Message:   message,
		Source:    source,
	}
}

// NewTimeout builds a TIMEOUT error. It is retryable until the final
// attempt — callers pass the request's final-attempt hint.
func NewTimeout(source, message string, finalAttempt bool) *Error {
	return &Error{
		Kind:      Timeout,
		Retryable: !finalAttempt,
		Message:   message,
		Source:    source,
	}
}

// As reports whether err (or something it wraps) is an *Error, and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Normalize wraps any error into the taxonomy, defaulting to UNKNOWN
// (retryable) when it is not already a taxonomy error. This is the single
// point the execution engine passes every backend failure through, so no
// unstructured error ever propagates outward.
func Normalize(source string, err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return New(Unknown, source, err.Error(), err)
}
