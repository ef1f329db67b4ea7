// Package adapters spawns debug adapter processes and connects
// transports to them.
//
// An Adapter knows how to start one kind of debug adapter (debugpy for
// Python, Delve for Go) and how to shape launch arguments for it.
// Adapters hand back a connected transport plus the spawned process;
// session wiring and protocol traffic belong to the dap package.
package adapters

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"time"

	"github.com/ctagard/dap-engine/internal/config"
	"github.com/ctagard/dap-engine/internal/dap"
	"github.com/ctagard/dap-engine/pkg/types"
)

// Adapter spawns a specific debug adapter and prepares launch
// arguments in the dialect it expects.
type Adapter interface {
	// Kind is the registry name ("debugpy", "delve").
	Kind() string

	// Spawn starts the adapter process and returns a transport
	// connected to it. The caller owns both and must reap the
	// process after closing the transport.
	Spawn(ctx context.Context, cfg config.DebuggerConfig) (*dap.Transport, *exec.Cmd, error)

	// BuildLaunchArgs translates the configured launch request into
	// the adapter's launch-argument dialect.
	BuildLaunchArgs(launch config.LaunchConfig) types.LaunchArguments
}

var registry = map[string]Adapter{
	"debugpy": &DebugpyAdapter{},
	"delve":   &DelveAdapter{},
}

// Register adds or overrides an adapter in the registry.
func Register(a Adapter) {
	registry[a.Kind()] = a
}

// Lookup returns the adapter registered under kind.
func Lookup(kind string) (Adapter, error) {
	a, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for kind %q", kind)
	}
	return a, nil
}

// Start resolves the configured adapter and spawns it. When no kind is
// configured, the debugger command is run as-is over the configured
// transport.
func Start(ctx context.Context, cfg config.DebuggerConfig) (Adapter, *dap.Transport, *exec.Cmd, error) {
	if cfg.Kind == "" {
		generic := &GenericAdapter{}
		transport, cmd, err := generic.Spawn(ctx, cfg)
		return generic, transport, cmd, err
	}

	a, err := Lookup(cfg.Kind)
	if err != nil {
		return nil, nil, nil, err
	}
	transport, cmd, err := a.Spawn(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return a, transport, cmd, nil
}

// GenericAdapter runs an arbitrary adapter command with no
// dialect-specific launch shaping.
type GenericAdapter struct{}

func (g *GenericAdapter) Kind() string { return "generic" }

func (g *GenericAdapter) Spawn(ctx context.Context, cfg config.DebuggerConfig) (*dap.Transport, *exec.Cmd, error) {
	if cfg.Path == "" {
		return nil, nil, fmt.Errorf("adapters: debugger path is required")
	}
	if cfg.Transport == config.TransportTCP {
		return spawnTCP(ctx, cfg.Path, cfg.Args, "")
	}
	return spawnStdio(ctx, cfg.Path, cfg.Args)
}

func (g *GenericAdapter) BuildLaunchArgs(launch config.LaunchConfig) types.LaunchArguments {
	return baseLaunchArgs(launch)
}

// baseLaunchArgs carries the common launch fields every dialect shares.
func baseLaunchArgs(launch config.LaunchConfig) types.LaunchArguments {
	args := types.LaunchArguments{
		Program:     launch.Program,
		Args:        launch.Args,
		Cwd:         launch.Cwd,
		Env:         launch.Env,
		StopOnEntry: launch.StopOnEntry,
	}
	if len(launch.Extra) > 0 {
		args.Extra = make(map[string]interface{}, len(launch.Extra))
		for k, v := range launch.Extra {
			args.Extra[k] = v
		}
	}
	return args
}

// withExtra sets a dialect field unless the configuration already
// overrode it.
func withExtra(args *types.LaunchArguments, key string, value interface{}) {
	if args.Extra == nil {
		args.Extra = make(map[string]interface{})
	}
	if _, ok := args.Extra[key]; !ok {
		args.Extra[key] = value
	}
}

// spawnStdio starts the adapter and returns a transport over its
// stdin/stdout pipes.
func spawnStdio(ctx context.Context, path string, args []string) (*dap.Transport, *exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("adapters: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("adapters: stdout pipe: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("adapters: start %s: %w", path, err)
	}

	return dap.NewStdioTransport(stdin, stdout), cmd, nil
}

// spawnTCP starts the adapter listening on a free local port and dials
// it with retries. extraListenFlag, when non-empty, is appended as
// "<flag> <address>" to the adapter arguments.
func spawnTCP(ctx context.Context, path string, args []string, extraListenFlag string) (*dap.Transport, *exec.Cmd, error) {
	port, err := findAvailablePort()
	if err != nil {
		return nil, nil, fmt.Errorf("adapters: find port: %w", err)
	}
	address := fmt.Sprintf("127.0.0.1:%d", port)

	if extraListenFlag != "" {
		args = append(append([]string{}, args...), extraListenFlag, address)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = nil
	setProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("adapters: start %s: %w", path, err)
	}

	transport, err := connectWithRetry(address, 20, 200*time.Millisecond)
	if err != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil, nil, err
	}
	return transport, cmd, nil
}

// connectWithRetry dials the adapter, giving it time to bind.
func connectWithRetry(address string, attempts int, delay time.Duration) (*dap.Transport, error) {
	var transport *dap.Transport
	var err error
	for i := 0; i < attempts; i++ {
		transport, err = dap.NewTCPTransport(address)
		if err == nil {
			return transport, nil
		}
		time.Sleep(delay)
	}
	return nil, fmt.Errorf("adapters: connect to %s: %w", address, err)
}

func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}
