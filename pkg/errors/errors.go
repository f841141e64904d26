// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Conclave.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies Conclave errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates a caller contract violation (empty request
	// list, empty persona set, malformed arguments).
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeNotFound indicates an unknown persona, skill or backend.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeBudgetExceeded marks a skill skipped because it did not fit the
	// token budget. Informational only.
	CodeBudgetExceeded ErrorCode = "BUDGET_EXCEEDED"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeBackendError indicates a model backend call failed.
	CodeBackendError ErrorCode = "BACKEND_ERROR"

	// CodeCanceled indicates the surrounding turn was cancelled.
	CodeCanceled ErrorCode = "CANCELED"

	// CodeRateLimit indicates rate limiting was triggered.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeUnauthorized indicates authorization failed.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeStoreError indicates the persona, skill or session store failed.
	CodeStoreError ErrorCode = "STORE_ERROR"
)

// ConclaveError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type ConclaveError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *ConclaveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *ConclaveError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *ConclaveError) MarshalJSON() ([]byte, error) {
	type Alias ConclaveError
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         cause,
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new ConclaveError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *ConclaveError {
	return &ConclaveError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
		StatusCode: codeToStatusCode(code),
	}
}

// NotFound builds a recoverable NOT_FOUND error for the given kind of
// record ("persona", "skill", "backend") and lookup key.
func NotFound(kind, key string) *ConclaveError {
	return New(CodeNotFound, fmt.Sprintf("%s not found: %s", kind, key), nil).
		WithContext(kind, key).
		WithRecoverable(true)
}

// InvalidInput builds a non-recoverable INVALID_INPUT error.
func InvalidInput(msg string) *ConclaveError {
	return New(CodeInvalidInput, msg, nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *ConclaveError) WithContext(key string, value interface{}) *ConclaveError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *ConclaveError) WithAttribute(key, value string) *ConclaveError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *ConclaveError) WithRecoverable(recoverable bool) *ConclaveError {
	e.Recoverable = recoverable
	return e
}

// AsConclaveError attempts to convert an error to a ConclaveError.
// Returns the error as ConclaveError if one is found in the chain, or wraps
// it as an internal error otherwise.
func AsConclaveError(err error) *ConclaveError {
	if err == nil {
		return nil
	}
	var ce *ConclaveError
	if stderrors.As(err, &ce) {
		return ce
	}
	return New(CodeInternal, "wrapped error", err)
}

// IsCode reports whether err carries a ConclaveError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var ce *ConclaveError
	if !stderrors.As(err, &ce) {
		return false
	}
	return ce.Code == code
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *ConclaveError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeToStatusCode maps error codes to HTTP-style status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeUnauthorized:
		return 401
	case CodeInvalidInput:
		return 400
	case CodeTimeout:
		return 408
	case CodeRateLimit:
		return 429
	case CodeBackendError:
		return 502
	case CodeCanceled:
		return 499
	default:
		return 500
	}
}
