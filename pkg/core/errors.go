// Package core provides the domain model, failure taxonomy, and port
// interfaces for the CacheDeck operations console. It defines the entities
// shared by the executor, workflow, governance, retention, alerting, and
// export components, plus the repository contracts they consume.
package core

import (
	"errors"
	"fmt"
)

// FailureCode classifies a failure for retry and presentation logic.
type FailureCode string

const (
	// CodeValidation indicates malformed input or a missing entity.
	// Never retryable.
	CodeValidation FailureCode = "VALIDATION_ERROR"

	// CodeUnauthorized indicates a denied operation: read-only connection,
	// missing guardrail confirmation, or governance denial. Never retryable.
	CodeUnauthorized FailureCode = "UNAUTHORIZED"

	// CodeTimeout indicates an operation exceeded its deadline. Retryable.
	CodeTimeout FailureCode = "TIMEOUT"

	// CodeConnectionFailed indicates a transport-level failure against the
	// cache backend. Retryable, unless the failure was raised by the retry
	// policy itself (see DetailAbortedByPolicy).
	CodeConnectionFailed FailureCode = "CONNECTION_FAILED"

	// CodeNotSupported indicates the backend lacks a required capability.
	CodeNotSupported FailureCode = "NOT_SUPPORTED"

	// CodeConflict indicates an invalid state transition, such as resuming
	// an execution that has no checkpoint.
	CodeConflict FailureCode = "CONFLICT"

	// CodeInternal indicates an unexpected error.
	CodeInternal FailureCode = "INTERNAL_ERROR"
)

// DetailAbortedByPolicy marks a CONNECTION_FAILED failure raised when the
// retry policy's error-rate threshold aborted the operation. Such failures
// are not retryable even though their code normally is.
const DetailAbortedByPolicy = "aborted_by_policy"

// Failure is the single classified error type used across the console core.
type Failure struct {
	// Code is the failure classification.
	Code FailureCode `json:"code"`

	// Message is the human-readable failure message.
	Message string `json:"message"`

	// ConnectionID is the connection involved, if applicable.
	ConnectionID string `json:"connection_id,omitempty"`

	// Operation is the operation being performed when the failure occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`

	// Details carries structured diagnostic context (ids, policy name,
	// observed error rate, attempt count).
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (f *Failure) Error() string {
	base := fmt.Sprintf("[%s] %s", f.Code, f.Message)
	if f.ConnectionID != "" {
		base = fmt.Sprintf("%s (connection=%s)", base, f.ConnectionID)
	}
	if f.Err != nil {
		return base + ": " + f.Err.Error()
	}
	return base
}

// Unwrap returns the underlying error for error chain inspection.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches failures by code so callers can use errors.Is with sentinels.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return f.Code == t.Code
}

// Retryable reports whether an operation that produced this failure may be
// retried. TIMEOUT is always retryable; CONNECTION_FAILED is retryable unless
// it was raised by the retry policy's abort threshold.
func (f *Failure) Retryable() bool {
	switch f.Code {
	case CodeTimeout:
		return true
	case CodeConnectionFailed:
		if f.Details != nil {
			if aborted, ok := f.Details[DetailAbortedByPolicy].(bool); ok && aborted {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// WithConnection adds connection context to a failure.
func (f *Failure) WithConnection(connectionID string) *Failure {
	f.ConnectionID = connectionID
	return f
}

// WithOperation adds operation context to a failure.
func (f *Failure) WithOperation(operation string) *Failure {
	f.Operation = operation
	return f
}

// WithDetail adds a structured detail field to a failure.
func (f *Failure) WithDetail(key string, value interface{}) *Failure {
	if f.Details == nil {
		f.Details = make(map[string]interface{})
	}
	f.Details[key] = value
	return f
}

// NewValidationFailure creates a VALIDATION_ERROR failure.
func NewValidationFailure(message string, err error) *Failure {
	return &Failure{Code: CodeValidation, Message: message, Err: err}
}

// NewUnauthorizedFailure creates an UNAUTHORIZED failure.
func NewUnauthorizedFailure(message string, err error) *Failure {
	return &Failure{Code: CodeUnauthorized, Message: message, Err: err}
}

// NewTimeoutFailure creates a TIMEOUT failure.
func NewTimeoutFailure(message string, err error) *Failure {
	return &Failure{Code: CodeTimeout, Message: message, Err: err}
}

// NewConnectionFailure creates a CONNECTION_FAILED failure.
func NewConnectionFailure(message string, err error) *Failure {
	return &Failure{Code: CodeConnectionFailed, Message: message, Err: err}
}

// NewNotSupportedFailure creates a NOT_SUPPORTED failure.
func NewNotSupportedFailure(message string, err error) *Failure {
	return &Failure{Code: CodeNotSupported, Message: message, Err: err}
}

// NewConflictFailure creates a CONFLICT failure.
func NewConflictFailure(message string, err error) *Failure {
	return &Failure{Code: CodeConflict, Message: message, Err: err}
}

// NewInternalFailure creates an INTERNAL_ERROR failure.
func NewInternalFailure(message string, err error) *Failure {
	return &Failure{Code: CodeInternal, Message: message, Err: err}
}

// AsFailure extracts a *Failure from an error chain. Errors that are not
// failures are wrapped as INTERNAL_ERROR so callers always see the taxonomy.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return NewInternalFailure("unexpected error", err)
}

// IsCode reports whether err carries the given failure code.
func IsCode(err error, code FailureCode) bool {
	var f *Failure
	if errors.As(err, &f) {
		return f.Code == code
	}
	return false
}

// IsRetryable reports whether err allows another attempt. Unclassified
// errors are treated as retryable transport failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Retryable()
	}
	return true
}
