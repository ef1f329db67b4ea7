// Package errors provides the structured error taxonomy for the debug engine.
//
// Errors fall into two classes:
//   - Fatal (transport, protocol): the session is unrecoverable; the
//     lifecycle manager handles these once, fails all pending work, and
//     marks the session terminated.
//   - Recoverable (request failed, timeout, not found, state error): the
//     error is returned to the calling operation and the session lives on.
//
// Errors carry a hint alongside the message so that callers exposing them
// to an LLM or a human can suggest a corrective action.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Code represents a category of error for programmatic handling.
type Code string

const (
	// Fatal: the session cannot continue.
	CodeTransport Code = "TRANSPORT_ERROR"
	CodeProtocol  Code = "PROTOCOL_ERROR"

	// Recoverable: returned to the caller, session continues.
	CodeRequestFailed Code = "REQUEST_FAILED"
	CodeTimeout       Code = "TIMEOUT"
	CodeNotFound      Code = "NOT_FOUND"
	CodeState         Code = "STATE_ERROR"

	// Resolution of pending work when the session dies underneath it.
	CodeTerminated Code = "SESSION_TERMINATED"
)

// DebugError is the structured error type used throughout the engine.
type DebugError struct {
	// Code is a machine-readable error category.
	Code Code `json:"code"`

	// Message is a human-readable description of what went wrong.
	Message string `json:"message"`

	// Hint provides actionable guidance on how to recover.
	Hint string `json:"hint,omitempty"`

	// Details contains additional context (the invalid value, the
	// current state, the command that failed).
	Details map[string]interface{} `json:"details,omitempty"`

	// Cause is the underlying error, if any.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *DebugError) Error() string {
	if e.Hint != "" {
		return e.Message + " | Hint: " + e.Hint
	}
	return e.Message
}

// Unwrap returns the underlying error for error chaining.
func (e *DebugError) Unwrap() error {
	return e.Cause
}

// Fatal reports whether this error kind forces the session to Terminated.
func (e *DebugError) Fatal() bool {
	return e.Code == CodeTransport || e.Code == CodeProtocol
}

// WithDetails adds a detail entry to the error.
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// --- Fatal errors ---

// Transport creates an error for a broken or malformed wire stream.
func Transport(op string, err error) *DebugError {
	return &DebugError{
		Code:    CodeTransport,
		Message: fmt.Sprintf("transport failure during %s: %v", op, err),
		Hint:    "The adapter stream is broken. The session is dead; start a new one.",
		Cause:   err,
		Details: map[string]interface{}{
			"operation": op,
		},
	}
}

// Protocol creates an error for a message the engine cannot place.
func Protocol(reason string) *DebugError {
	return &DebugError{
		Code:    CodeProtocol,
		Message: fmt.Sprintf("protocol violation: %s", reason),
		Hint:    "The adapter sent something the engine cannot interpret. The session is dead; start a new one.",
	}
}

// --- Recoverable errors ---

// RequestFailed creates an error for an adapter-reported request failure.
func RequestFailed(command, adapterMessage string) *DebugError {
	return &DebugError{
		Code:    CodeRequestFailed,
		Message: fmt.Sprintf("%s request failed: %s", command, adapterMessage),
		Hint:    "The adapter rejected the request. Check the arguments and the current program state.",
		Details: map[string]interface{}{
			"command": command,
		},
	}
}

// Timeout creates an error for a request that got no response in time.
func Timeout(command string, d time.Duration) *DebugError {
	return &DebugError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("%s request timed out after %s", command, d),
		Hint:    "The adapter did not answer in time. The program may be stuck or the adapter overloaded; the request may still complete on the adapter side.",
		Details: map[string]interface{}{
			"command": command,
			"timeout": d.String(),
		},
	}
}

// NotFound creates an error for a missing file, breakpoint, frame or thread.
func NotFound(kind, what string) *DebugError {
	return &DebugError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", kind, what),
		Hint:    fmt.Sprintf("No such %s is known to the session. List the current %ss to see what exists.", kind, kind),
		Details: map[string]interface{}{
			"kind": kind,
			"what": what,
		},
	}
}

// State creates an error for an operation that is illegal in the
// session's current phase.
func State(op, current string) *DebugError {
	return &DebugError{
		Code:    CodeState,
		Message: fmt.Sprintf("%s is not legal while the session is %s", op, current),
		Hint:    stateHint(current),
		Details: map[string]interface{}{
			"operation": op,
			"state":     current,
		},
	}
}

func stateHint(current string) string {
	switch current {
	case "running":
		return "The debuggee is executing. Wait for it to stop at a breakpoint before inspecting or stepping."
	case "terminated":
		return "The session has ended. Start a new session to continue debugging."
	default:
		return fmt.Sprintf("The session is %s; this operation needs a different phase.", current)
	}
}

// Terminated creates the error used to resolve pending work when the
// session dies underneath it.
func Terminated(reason string) *DebugError {
	msg := "session terminated"
	if reason != "" {
		msg = fmt.Sprintf("session terminated: %s", reason)
	}
	return &DebugError{
		Code:    CodeTerminated,
		Message: msg,
		Hint:    "The debug session ended while this operation was in flight. Start a new session.",
	}
}

// --- Inspection helpers ---

// CodeOf extracts the error code, or empty for non-engine errors.
func CodeOf(err error) Code {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// FromError promotes a generic error, preserving any existing structure.
func FromError(err error) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de
	}
	return &DebugError{
		Code:    "UNKNOWN_ERROR",
		Message: err.Error(),
		Cause:   err,
	}
}
