// Package types defines shared data types exposed by the debug engine.
//
// This package provides type definitions for:
//   - SessionState: the phases of a debug session, from Uninitialized
//     through the Running/Stopped cycle to Terminated
//   - Breakpoint: a source breakpoint keyed by (file, line) with its
//     adapter-side verification status
//   - Thread, StackFrame, StoppedInfo: execution context populated from
//     stop events and on-demand stack fetches
//   - EvaluateResult: the result of evaluating an expression in a frame
//   - LaunchArguments: the opaque launch configuration handed to the
//     adapter's launch request
//
// These types form the contract between the engine (internal/dap) and
// its callers (the MCP tool layer, or any other consumer).
package types

// SessionState represents the phase of a debug session.
//
// The happy path is monotonic:
//
//	Uninitialized -> Initializing -> Initialized -> Launching ->
//	(Running <-> Stopped)* -> Terminating -> Terminated
//
// Only Running and Stopped may cycle; every other transition is one-way.
type SessionState string

const (
	StateUninitialized SessionState = "uninitialized"
	StateInitializing  SessionState = "initializing"
	StateInitialized   SessionState = "initialized"
	StateLaunching     SessionState = "launching"
	StateRunning       SessionState = "running"
	StateStopped       SessionState = "stopped"
	StateTerminating   SessionState = "terminating"
	StateTerminated    SessionState = "terminated"
)

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s == StateTerminated
}

// Breakpoint represents a source breakpoint tracked by the engine.
// Identity is (Path, Line); setting the same location again replaces
// the condition rather than adding a duplicate.
type Breakpoint struct {
	// Path is the normalized absolute path of the source file.
	Path string `json:"path"`

	// Line is the 1-based line number.
	Line int `json:"line"`

	// Condition is an optional condition expression.
	Condition string `json:"condition,omitempty"`

	// Verified indicates the adapter confirmed the breakpoint.
	Verified bool `json:"verified"`

	// AdapterID is the adapter-assigned breakpoint id, when provided.
	AdapterID int `json:"adapterId,omitempty"`

	// Message carries any adapter-side note (e.g. why it is unverified).
	Message string `json:"message,omitempty"`
}

// Thread represents a thread of the debuggee.
type Thread struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// StackFrame represents one activation record in a thread's call stack.
type StackFrame struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Source string `json:"source,omitempty"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`
}

// StoppedInfo describes why and where the debuggee stopped.
type StoppedInfo struct {
	Reason      string `json:"reason"`
	ThreadID    int    `json:"threadId"`
	Description string `json:"description,omitempty"`
	AllStopped  bool   `json:"allThreadsStopped,omitempty"`
}

// EvaluateResult represents the result of evaluating an expression.
type EvaluateResult struct {
	Result             string `json:"result"`
	Type               string `json:"type,omitempty"`
	VariablesReference int    `json:"variablesReference"`
}

// LaunchArguments is the launch configuration passed opaquely into the
// adapter's launch request. Extra holds adapter-specific fields that
// the engine forwards without interpreting.
type LaunchArguments struct {
	Program     string            `json:"program"`
	Args        []string          `json:"args,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	StopOnEntry bool              `json:"stopOnEntry,omitempty"`

	Extra map[string]interface{} `json:"-"`
}

// Wire flattens the launch arguments into the map shape DAP adapters
// expect, merging adapter-specific Extra fields. Explicit fields win
// over Extra on key collision.
func (l LaunchArguments) Wire() map[string]interface{} {
	args := make(map[string]interface{}, len(l.Extra)+5)
	for k, v := range l.Extra {
		args[k] = v
	}
	if l.Program != "" {
		args["program"] = l.Program
	}
	if len(l.Args) > 0 {
		args["args"] = l.Args
	}
	if l.Cwd != "" {
		args["cwd"] = l.Cwd
	}
	if len(l.Env) > 0 {
		args["env"] = l.Env
	}
	if l.StopOnEntry {
		args["stopOnEntry"] = true
	}
	return args
}
