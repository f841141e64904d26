// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/jllopis/conclave/pkg/errors"
)

// CLIError wraps ConclaveError with a hint for the operator.
type CLIError struct {
	*errors.ConclaveError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(ce *errors.ConclaveError, hint string) *CLIError {
	return &CLIError{ConclaveError: ce, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.ConclaveError == nil {
		return "unknown error"
	}
	msg := e.ConclaveError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the underlying ConclaveError.
func (e *CLIError) Unwrap() error {
	if e.ConclaveError == nil {
		return nil
	}
	return e.ConclaveError
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	ce := errors.AsConclaveError(err)
	if ce.Code == errors.CodeInternal {
		ce = errors.New(errors.CodeInvalidInput, "configuration error", err)
	}
	ce.WithContext("config_path", configPath)

	hint := "check your configuration file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(ce, hint)
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	ce := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg)
	return NewCLIError(ce, "run 'conclave help' for usage information")
}

// WrapEngineError attaches a hint matching the error code.
func WrapEngineError(err error) *CLIError {
	ce := errors.AsConclaveError(err)
	switch ce.Code {
	case errors.CodeNotFound:
		return NewCLIError(ce, "run 'conclave personas' or 'conclave councils' to see what is available")
	case errors.CodeStoreError:
		return NewCLIError(ce, "check store.dsn and that the database file is writable")
	case errors.CodeUnauthorized:
		return NewCLIError(ce, "check the backend API key (CONCLAVE_BACKENDS_<ID>_API_KEY)")
	default:
		return NewCLIError(ce, "")
	}
}

func printError(err error, asJSON bool) {
	writeError(os.Stderr, err, asJSON)
}

func writeError(w io.Writer, err error, asJSON bool) {
	var cli *CLIError
	if !stderrors.As(err, &cli) {
		cli = WrapEngineError(err)
	}
	if asJSON {
		payload := map[string]any{"error": map[string]any{
			"code":    cli.Code,
			"message": cli.Message,
			"hint":    cli.Hint,
		}}
		_ = json.NewEncoder(w).Encode(payload)
		return
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", FormatErrorCode(cli.Code), cli.Message)
	if cli.Err != nil {
		fmt.Fprintf(w, "  Cause: %v\n", cli.Err)
	}
	if cli.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", cli.Hint)
	}
}

// FormatErrorCode returns a user-friendly name for error codes.
func FormatErrorCode(code errors.ErrorCode) string {
	switch code {
	case errors.CodeInternal:
		return "Internal Error"
	case errors.CodeInvalidInput:
		return "Invalid Input"
	case errors.CodeNotFound:
		return "Not Found"
	case errors.CodeUnauthorized:
		return "Unauthorized"
	case errors.CodeTimeout:
		return "Timeout"
	case errors.CodeRateLimit:
		return "Rate Limited"
	case errors.CodeBackendError:
		return "Backend Error"
	case errors.CodeStoreError:
		return "Store Error"
	case errors.CodeCanceled:
		return "Canceled"
	default:
		return string(code)
	}
}
