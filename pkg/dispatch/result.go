// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"time"

	cerrors "github.com/jllopis/conclave/pkg/errors"
)

// FailureKind classifies a failed dispatch slot.
type FailureKind string

const (
	KindNotFound          FailureKind = "not_found"
	KindUnknownBackend    FailureKind = "unknown_backend"
	KindBackendNotAllowed FailureKind = "backend_not_allowed"
	KindTimeout           FailureKind = "timeout"
	KindBackendError      FailureKind = "backend_error"
	KindCanceled          FailureKind = "canceled"
	// KindInternal covers store and composition failures.
	KindInternal FailureKind = "internal"
)

// Failure is the error carried by a single result slot. It never crosses
// the fan-out boundary as a returned error.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (f *Failure) Error() string { return string(f.Kind) + ": " + f.Message }

// Code maps the failure onto the shared error taxonomy.
func (f *Failure) Code() cerrors.ErrorCode {
	switch f.Kind {
	case KindNotFound, KindUnknownBackend:
		return cerrors.CodeNotFound
	case KindBackendNotAllowed:
		return cerrors.CodeUnauthorized
	case KindTimeout:
		return cerrors.CodeTimeout
	case KindBackendError:
		return cerrors.CodeBackendError
	case KindCanceled:
		return cerrors.CodeCanceled
	default:
		return cerrors.CodeInternal
	}
}

// AsError converts the failure into a ConclaveError for metrics and logs.
func (f *Failure) AsError() *cerrors.ConclaveError {
	return cerrors.New(f.Code(), f.Message, nil).
		WithRecoverable(f.Kind != KindInternal).
		WithContext("kind", string(f.Kind))
}

// Request is one persona query.
type Request struct {
	// Persona is an id or case-insensitive name.
	Persona string `json:"persona"`
	// Backend may be empty; the persona default and then the dispatcher
	// default are used.
	Backend     string   `json:"backend,omitempty"`
	Query       string   `json:"query"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Result is the outcome of one Request. Exactly one of Text and Err is
// meaningful.
type Result struct {
	Persona  string        `json:"persona"`
	Backend  string        `json:"backend,omitempty"`
	Text     string        `json:"text,omitempty"`
	Err      *Failure      `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Render returns the text handed back to the orchestrating model. Failures
// become an "[Error: ...]" line the model can react to.
func (r Result) Render() string {
	if r.Err != nil {
		return "[Error: " + r.Err.Message + "]"
	}
	return r.Text
}
