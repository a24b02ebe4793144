// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed registry errors with rich context.
// Every failure surfaced by the registry carries one of the codes below so
// callers can tell "your request was invalid" from "the system could not be
// reached" without string matching.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies registry errors for callers and monitoring.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeDuplicateTool indicates a tool identifier was registered twice.
	CodeDuplicateTool ErrorCode = "DUPLICATE_TOOL"

	// CodeUnknownTool indicates a tool reference could not be resolved.
	CodeUnknownTool ErrorCode = "UNKNOWN_TOOL"

	// CodeUnknownAgent indicates a task names an agent the workflow does not declare.
	CodeUnknownAgent ErrorCode = "UNKNOWN_AGENT"

	// CodeInvalidArgument indicates a caller-supplied argument was rejected.
	CodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// CodeWorkflowNotFound indicates no workflow is stored under the id.
	CodeWorkflowNotFound ErrorCode = "WORKFLOW_NOT_FOUND"

	// CodeCorruptWorkflow indicates a stored payload does not decode into a workflow.
	CodeCorruptWorkflow ErrorCode = "CORRUPT_WORKFLOW"

	// CodeCycleDetected indicates task dependencies form a cycle.
	CodeCycleDetected ErrorCode = "CYCLE_DETECTED"

	// CodeDanglingReference indicates a dependency names an undeclared node.
	CodeDanglingReference ErrorCode = "DANGLING_REFERENCE"

	// CodeToolExecution indicates a registered tool implementation failed.
	CodeToolExecution ErrorCode = "TOOL_EXECUTION_ERROR"

	// CodeExecution indicates the execution runtime failed a workflow run.
	CodeExecution ErrorCode = "EXECUTION_ERROR"

	// CodeUnknownMessageType indicates a dispatcher message tag has no handler.
	CodeUnknownMessageType ErrorCode = "UNKNOWN_MESSAGE_TYPE"

	// CodeMalformedRequest indicates a request body does not match its shape.
	CodeMalformedRequest ErrorCode = "MALFORMED_REQUEST"

	// CodeUpstreamUnavailable indicates the embedding provider or vector index
	// kept failing after retries.
	CodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeContextLost indicates the caller's context ended mid-operation.
	CodeContextLost ErrorCode = "CONTEXT_LOST"
)

// RegistryError is a typed error with context for logs and transports.
// It implements the error interface and can be unwrapped with errors.As().
type RegistryError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int // HTTP status used by the transport layer
}

// Error implements the error interface.
func (e *RegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *RegistryError) Unwrap() error {
	return e.Err
}

// MarshalJSON renders the error as the wire shape used by the HTTP and
// websocket transports.
func (e *RegistryError) MarshalJSON() ([]byte, error) {
	out := struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Cause       string                 `json:"cause,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	}
	if e.Err != nil {
		out.Cause = e.Err.Error()
	}
	if len(out.Context) == 0 {
		out.Context = nil
	}
	return json.Marshal(out)
}

// New creates a new RegistryError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *RegistryError {
	return &RegistryError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
		StatusCode: codeToStatusCode(code),
	}
}

// Newf creates a RegistryError without a cause and a formatted message.
func Newf(code ErrorCode, format string, args ...any) *RegistryError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *RegistryError) WithContext(key string, value interface{}) *RegistryError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *RegistryError) WithAttribute(key, value string) *RegistryError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be retried.
// Returns the error for method chaining.
func (e *RegistryError) WithRecoverable(recoverable bool) *RegistryError {
	e.Recoverable = recoverable
	return e
}

// As returns the first RegistryError in err's chain, if any.
func As(err error) (*RegistryError, bool) {
	var re *RegistryError
	if stderrors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// AsRegistryError converts an error to a RegistryError, wrapping unknown
// errors as internal.
func AsRegistryError(err error) *RegistryError {
	if err == nil {
		return nil
	}
	if re, ok := As(err); ok {
		return re
	}
	return New(CodeInternal, "internal error", err)
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		re, ok := As(err)
		if !ok {
			return false
		}
		if re.Code == code {
			return true
		}
		err = re.Err
	}
	return false
}

// CodeOf returns the outermost registry code of err, or CodeInternal.
func CodeOf(err error) ErrorCode {
	if re, ok := As(err); ok {
		return re.Code
	}
	return CodeInternal
}

// IsValidation reports whether the code describes a rejected request rather
// than a failure of the system or one of its collaborators.
func IsValidation(code ErrorCode) bool {
	switch code {
	case CodeDuplicateTool, CodeUnknownTool, CodeUnknownAgent, CodeInvalidArgument,
		CodeWorkflowNotFound, CodeCorruptWorkflow, CodeCycleDetected,
		CodeDanglingReference, CodeUnknownMessageType, CodeMalformedRequest:
		return true
	}
	return false
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *RegistryError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeUnknownTool, CodeWorkflowNotFound:
		return 404
	case CodeDuplicateTool:
		return 409
	case CodeUnknownAgent, CodeInvalidArgument, CodeCycleDetected, CodeDanglingReference,
		CodeUnknownMessageType, CodeMalformedRequest:
		return 400
	case CodeCorruptWorkflow:
		return 422
	case CodeUpstreamUnavailable:
		return 503
	case CodeTimeout:
		return 504
	case CodeToolExecution:
		return 502
	default:
		return 500
	}
}
