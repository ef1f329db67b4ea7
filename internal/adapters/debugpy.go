package adapters

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ctagard/dap-engine/internal/config"
	"github.com/ctagard/dap-engine/internal/dap"
	"github.com/ctagard/dap-engine/pkg/types"
)

// DebugpyAdapter spawns debugpy for Python targets. debugpy.adapter
// speaks the protocol on stdio when started without a listen port,
// which is the default here; TCP mode is available via configuration.
type DebugpyAdapter struct{}

func (d *DebugpyAdapter) Kind() string { return "debugpy" }

func (d *DebugpyAdapter) Spawn(ctx context.Context, cfg config.DebuggerConfig) (*dap.Transport, *exec.Cmd, error) {
	python := cfg.Path
	if python == "" {
		python = "python3"
	}

	args := append([]string{"-m", "debugpy.adapter"}, cfg.Args...)

	if cfg.Transport == config.TransportTCP {
		return spawnTCPDebugpy(ctx, python, args)
	}

	transport, cmd, err := spawnStdio(ctx, python, args)
	if err != nil {
		return nil, nil, err
	}
	applyVenv(cmd, python)
	return transport, cmd, nil
}

// spawnTCPDebugpy uses debugpy's --host/--port flags rather than a
// single listen-address flag.
func spawnTCPDebugpy(ctx context.Context, python string, args []string) (*dap.Transport, *exec.Cmd, error) {
	port, err := findAvailablePort()
	if err != nil {
		return nil, nil, err
	}
	args = append(args, "--host", "127.0.0.1", "--port", strconv.Itoa(port))

	cmd := exec.CommandContext(ctx, python, args...)
	cmd.Stdin = nil
	setProcAttr(cmd)
	applyVenv(cmd, python)

	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}

	address := "127.0.0.1:" + strconv.Itoa(port)
	transport, err := connectWithRetry(address, 20, 200*time.Millisecond)
	if err != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil, nil, err
	}
	return transport, cmd, nil
}

// applyVenv detects a virtualenv from the interpreter path and exposes
// it to the adapter and its children.
func applyVenv(cmd *exec.Cmd, python string) {
	binDir := filepath.Dir(python)
	venvRoot := filepath.Dir(binDir)
	if _, err := os.Stat(filepath.Join(venvRoot, "pyvenv.cfg")); err != nil {
		return
	}

	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, "VIRTUAL_ENV="+venvRoot)
	for i, env := range cmd.Env {
		if strings.HasPrefix(env, "PATH=") {
			cmd.Env[i] = "PATH=" + binDir + string(os.PathListSeparator) + env[5:]
			break
		}
	}
}

func (d *DebugpyAdapter) BuildLaunchArgs(launch config.LaunchConfig) types.LaunchArguments {
	args := baseLaunchArgs(launch)
	withExtra(&args, "type", "python")
	withExtra(&args, "console", "internalConsole")

	// debugpy runs either a script or a module, never both.
	if _, ok := args.Extra["module"]; ok {
		args.Program = ""
	}
	return args
}
