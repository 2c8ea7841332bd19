// Package errors provides structured error types for lldb-agent.
// These errors include helpful hints that guide the operator or the
// model to correct course when something goes wrong.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of error for programmatic handling
type ErrorCode string

const (
	// Session errors
	CodeSpawnFailed    ErrorCode = "SPAWN_FAILED"
	CodeAlreadyStarted ErrorCode = "ALREADY_STARTED"
	CodeNotRunning     ErrorCode = "NOT_RUNNING"
	CodeTimeout        ErrorCode = "TIMEOUT"
	CodeCancelled      ErrorCode = "CANCELLED"
	CodeSessionCrashed ErrorCode = "SESSION_CRASHED"

	// Tool errors
	CodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	CodeArgumentError   ErrorCode = "ARGUMENT_ERROR"
	CodeUnknownTool     ErrorCode = "UNKNOWN_TOOL"
	CodeControllerError ErrorCode = "CONTROLLER_ERROR"
	CodeNotFound        ErrorCode = "NOT_FOUND"

	// Configuration errors
	CodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Model errors
	CodeModelCallFailed ErrorCode = "MODEL_CALL_FAILED"
)

// DebugError is a structured error type that includes helpful information
// for the model or the operator to understand what went wrong and how to fix it.
type DebugError struct {
	// Code is a machine-readable error category
	Code ErrorCode `json:"code"`

	// Message is a human-readable description of what went wrong
	Message string `json:"message"`

	// Hint provides actionable guidance on how to fix the error
	Hint string `json:"hint,omitempty"`

	// Details contains additional context (e.g., the invalid value)
	Details map[string]interface{} `json:"details,omitempty"`

	// Cause is the underlying error, if any
	Cause error `json:"-"`
}

// Error implements the error interface
func (e *DebugError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Hint != "" {
		sb.WriteString(" | Hint: ")
		sb.WriteString(e.Hint)
	}

	return sb.String()
}

// Unwrap returns the underlying error for error chaining
func (e *DebugError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *DebugError) WithCause(err error) *DebugError {
	e.Cause = err
	return e
}

// --- Session Errors ---

// SpawnFailed creates an error when the debugger process could not start
func SpawnFailed(path string, err error) *DebugError {
	return &DebugError{
		Code:    CodeSpawnFailed,
		Message: fmt.Sprintf("failed to start debugger %s: %v", path, err),
		Hint:    "Ensure lldb is installed and the target executable exists. A new session can be started with the run tool.",
		Cause:   err,
		Details: map[string]interface{}{
			"path": path,
		},
	}
}

// AlreadyStarted creates an error when Start is called on a session that left NotStarted
func AlreadyStarted(state fmt.Stringer) *DebugError {
	return &DebugError{
		Code:    CodeAlreadyStarted,
		Message: fmt.Sprintf("debug session already started (state: %s)", state),
		Hint:    "The program is already being debugged. Set breakpoints or send debugger commands instead.",
		Details: map[string]interface{}{
			"state": state.String(),
		},
	}
}

// NotRunning creates an error when a command targets a session that is not running
func NotRunning(state fmt.Stringer) *DebugError {
	return &DebugError{
		Code:    CodeNotRunning,
		Message: fmt.Sprintf("debug session is not running (state: %s)", state),
		Hint:    "Start the program with the run tool first.",
		Details: map[string]interface{}{
			"state": state.String(),
		},
	}
}

// Timeout creates an error for a command that got no response in time
func Timeout(command string, seconds float64) *DebugError {
	return &DebugError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("command %q timed out after %gs", command, seconds),
		Hint:    "The program may be running or waiting for input. Later commands wait until this one is answered.",
		Details: map[string]interface{}{
			"command": command,
			"seconds": seconds,
		},
	}
}

// Cancelled creates an error for a caller-cancelled operation
func Cancelled(operation string, err error) *DebugError {
	return &DebugError{
		Code:    CodeCancelled,
		Message: fmt.Sprintf("%s cancelled", operation),
		Cause:   err,
	}
}

// SessionCrashed creates an error when the debugger process died unexpectedly
func SessionCrashed(reason string) *DebugError {
	return &DebugError{
		Code:    CodeSessionCrashed,
		Message: fmt.Sprintf("debug session crashed: %s", reason),
		Hint:    "Start a new session with the run tool. Breakpoints are kept and replayed on start.",
	}
}

// --- Tool Errors ---

// InvalidArgument creates an error for a rejected registry input
func InvalidArgument(paramName string, value interface{}, expected string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidArgument,
		Message: fmt.Sprintf("invalid value for '%s': %v", paramName, value),
		Hint:    fmt.Sprintf("Expected: %s", expected),
		Details: map[string]interface{}{
			"parameter": paramName,
			"value":     value,
			"expected":  expected,
		},
	}
}

// ArgumentError creates an error for malformed tool-call arguments
func ArgumentError(tool, reason string) *DebugError {
	return &DebugError{
		Code:    CodeArgumentError,
		Message: fmt.Sprintf("invalid arguments for tool '%s': %s", tool, reason),
		Hint:    `Provide a JSON object matching the tool schema, e.g. {"line": 42}.`,
		Details: map[string]interface{}{
			"tool":   tool,
			"reason": reason,
		},
	}
}

// UnknownTool creates an error for a tool name outside the catalog
func UnknownTool(name string, available []string) *DebugError {
	return &DebugError{
		Code:    CodeUnknownTool,
		Message: fmt.Sprintf("tool '%s' not found", name),
		Hint:    fmt.Sprintf("Available tools are: %s.", strings.Join(available, ", ")),
		Details: map[string]interface{}{
			"tool":      name,
			"available": available,
		},
	}
}

// ControllerError wraps a failure reported by the session controller
func ControllerError(operation string, err error) *DebugError {
	return &DebugError{
		Code:    CodeControllerError,
		Message: fmt.Sprintf("%s failed: %v", operation, err),
		Cause:   err,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NotFound creates an error for a missing file
func NotFound(path string, err error) *DebugError {
	return &DebugError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("file not found: %s", path),
		Hint:    "Check the source_path setting in the configuration.",
		Cause:   err,
		Details: map[string]interface{}{
			"path": path,
		},
	}
}

// --- Configuration Errors ---

// ConfigInvalid creates an error for an invalid configuration value
func ConfigInvalid(field, reason string) *DebugError {
	return &DebugError{
		Code:    CodeConfigInvalid,
		Message: fmt.Sprintf("configuration field '%s' is invalid: %s", field, reason),
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

// ModelCallFailed creates an error when the language model request fails
func ModelCallFailed(err error) *DebugError {
	return &DebugError{
		Code:    CodeModelCallFailed,
		Message: fmt.Sprintf("language model call failed: %v", err),
		Hint:    "Check the model API key and base URL. Direct commands (echo, breakpoint N, debug) still work.",
		Cause:   err,
	}
}

// --- Helpers ---

// CodeOf returns the code of the first DebugError in err's chain, or "" if none
func CodeOf(err error) ErrorCode {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return ""
}

// HasCode reports whether err carries a DebugError with the given code
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
