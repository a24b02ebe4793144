// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/Keiii25/lean-formal-agent/pkg/errors"
)

// CLIError wraps RegistryError with CLI-specific formatting and hints.
type CLIError struct {
	*errors.RegistryError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(re *errors.RegistryError, hint string) *CLIError {
	return &CLIError{
		RegistryError: re,
		Hint:          hint,
	}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.RegistryError == nil {
		return "unknown error"
	}
	msg := e.RegistryError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the registry error to errors.As.
func (e *CLIError) Unwrap() error {
	if e.RegistryError == nil {
		return nil
	}
	return e.RegistryError
}

type cliErrorBody struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Context map[string]any   `json:"context,omitempty"`
	Hint    string           `json:"hint,omitempty"`
}

// PrintError writes the error to w, as a JSON object when asJSON is set.
func (e *CLIError) PrintError(w io.Writer, asJSON bool) {
	if asJSON {
		payload, _ := json.Marshal(map[string]cliErrorBody{"error": {
			Code:    e.Code,
			Message: e.Message,
			Context: e.Context,
			Hint:    e.Hint,
		}})
		fmt.Fprintln(w, string(payload))
		return
	}

	fmt.Fprintf(w, "Error [%s]: %s\n", e.Code, e.Message)
	if e.Err != nil {
		fmt.Fprintf(w, "  Cause: %v\n", e.Err)
	}
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

// WrapConnectionError wraps a connection error with CLI hints.
func WrapConnectionError(err error, addr string) *CLIError {
	re := errors.New(errors.CodeUpstreamUnavailable, "connection failed", err).
		WithContext("address", addr).
		WithRecoverable(true)
	return NewCLIError(re, fmt.Sprintf("check if the server is running at %s (agentreg serve)", addr))
}

// NewNotFoundError creates a not found error with CLI hints.
func NewNotFoundError(resource, name string) *CLIError {
	code := errors.CodeUnknownTool
	if resource == "workflow" {
		code = errors.CodeWorkflowNotFound
	}
	re := errors.New(code, fmt.Sprintf("%s '%s' not found", resource, name), nil).
		WithContext("resource", resource).
		WithContext("name", name)
	return NewCLIError(re, fmt.Sprintf("run 'agentreg %ss list' to see what is registered", resource))
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	re := errors.New(errors.CodeInvalidArgument, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg).
		WithContext("reason", reason)
	return NewCLIError(re, "run 'agentreg help' for usage information")
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	re := errors.New(errors.CodeInvalidArgument, "configuration error", err).
		WithContext("config_path", configPath)

	hint := "check your configuration values and AGENTREG_ environment variables"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(re, hint)
}

// toCLIError attaches a hint to any error based on its code.
func toCLIError(err error) *CLIError {
	var ce *CLIError
	if stderrors.As(err, &ce) {
		return ce
	}
	re := errors.AsRegistryError(err)
	return NewCLIError(re, hintFor(re.Code))
}

func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeUpstreamUnavailable:
		return "the server or one of its backends is unreachable; check 'agentreg status'"
	case errors.CodeTimeout:
		return "try increasing the timeout with --timeout"
	case errors.CodeUnknownTool:
		return "run 'agentreg tools list' to see registered tools"
	case errors.CodeWorkflowNotFound:
		return "run 'agentreg workflows list' to see stored workflows"
	case errors.CodeDuplicateTool:
		return "tool identifiers must be unique; pick another name or prefix"
	case errors.CodeCycleDetected, errors.CodeDanglingReference:
		return "check the context lists of the workflow tasks ('agentreg workflows plan -f <file>')"
	case errors.CodeUnknownAgent:
		return "every task must name an agent declared under agents"
	case errors.CodeInvalidArgument:
		return "check the arguments against the schema shown by 'show'"
	default:
		return ""
	}
}

// fail prints err with its hint and exits.
func fail(err error, asJSON bool) {
	toCLIError(err).PrintError(os.Stderr, asJSON)
	os.Exit(1)
}
