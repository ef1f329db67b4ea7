// Package config provides configuration for the dap-engine server.
//
// Configuration controls:
//   - Which debug adapter to run (command, arguments, transport kind)
//   - The launch arguments handed opaquely to the adapter (program,
//     stop-on-entry, adapter-specific passthrough fields)
//   - Source root directories used by the tool layer to resolve
//     relative file paths
//   - Engine timeouts and the evaluate-while-running policy
//
// Configuration is loaded from a JSON file over sensible defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// TransportKind selects how the engine reaches the adapter.
type TransportKind string

const (
	// TransportStdio talks to the adapter over its stdin/stdout pipes.
	TransportStdio TransportKind = "stdio"
	// TransportTCP dials the adapter on a TCP address it listens on.
	TransportTCP TransportKind = "tcp"
)

// Config holds the server configuration.
type Config struct {
	// Debugger selects and parameterizes the adapter process.
	Debugger DebuggerConfig `json:"debugger"`

	// Launch is forwarded into the adapter's launch request.
	Launch LaunchConfig `json:"launch"`

	// SourceDirs are the roots relative source paths resolve against.
	// Consumed only by the tool layer, never by the engine.
	SourceDirs []string `json:"sourceDirs,omitempty"`

	// RequestTimeout bounds each request/response exchange.
	RequestTimeout Duration `json:"requestTimeout,omitempty"`

	// LaunchTimeout bounds the (deferred) launch exchange.
	LaunchTimeout Duration `json:"launchTimeout,omitempty"`

	// EvaluateWhileRunning permits evaluate requests while the
	// debuggee executes. Leave off unless the adapter supports it.
	EvaluateWhileRunning bool `json:"evaluateWhileRunning,omitempty"`

	// TerminateDebuggee asks the adapter to kill the debuggee when the
	// session disconnects.
	TerminateDebuggee bool `json:"terminateDebuggee,omitempty"`
}

// DebuggerConfig describes the adapter process.
type DebuggerConfig struct {
	// Path is the adapter executable (e.g. "python3", "dlv").
	Path string `json:"debuggerPath"`

	// Args are the adapter's own arguments (e.g. ["-m", "debugpy.adapter"]).
	Args []string `json:"debuggerArgs,omitempty"`

	// Transport is stdio (default) or tcp.
	Transport TransportKind `json:"transport,omitempty"`

	// Kind names a built-in adapter launcher ("debugpy", "delve").
	// When set, Path/Args defaults come from the launcher.
	Kind string `json:"kind,omitempty"`
}

// LaunchConfig mirrors the launch-argument structure the adapter
// receives. Extra fields in the JSON object are forwarded untouched.
type LaunchConfig struct {
	Program     string            `json:"program"`
	Args        []string          `json:"args,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	StopOnEntry bool              `json:"stopOnEntry,omitempty"`

	// Extra catches adapter-specific launch fields.
	Extra map[string]interface{} `json:"-"`
}

// UnmarshalJSON keeps unknown launch fields as opaque passthrough.
func (l *LaunchConfig) UnmarshalJSON(data []byte) error {
	type known LaunchConfig
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	*l = LaunchConfig(k)

	var all map[string]interface{}
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, field := range []string{"program", "args", "cwd", "env", "stopOnEntry"} {
		delete(all, field)
	}
	if len(all) > 0 {
		l.Extra = all
	}
	return nil
}

// Duration is a time.Duration that unmarshals from JSON strings like
// "10s" as well as nanosecond numbers.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val))
		return nil
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std converts to the standard duration type.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns a configuration with sensible defaults:
// debugpy over stdio, matching the most common deployment.
func DefaultConfig() *Config {
	return &Config{
		Debugger: DebuggerConfig{
			Kind:      "debugpy",
			Path:      "python3",
			Transport: TransportStdio,
		},
		RequestTimeout: Duration(10 * time.Second),
		LaunchTimeout:  Duration(30 * time.Second),
	}
}

// LoadConfig loads configuration from a JSON file layered over the
// defaults. An empty path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports configuration a session cannot be built from.
func (c *Config) Validate() error {
	if c.Debugger.Path == "" && c.Debugger.Kind == "" {
		return fmt.Errorf("config: debugger.debuggerPath or debugger.kind is required")
	}
	if c.Launch.Program == "" {
		return fmt.Errorf("config: launch.program is required")
	}
	switch c.Debugger.Transport {
	case "", TransportStdio, TransportTCP:
	default:
		return fmt.Errorf("config: unknown transport %q", c.Debugger.Transport)
	}
	return nil
}
