package adapters

import (
	"context"
	"os/exec"

	"github.com/ctagard/dap-engine/internal/config"
	"github.com/ctagard/dap-engine/internal/dap"
	"github.com/ctagard/dap-engine/pkg/types"
)

// DelveAdapter spawns Delve in DAP mode for Go targets. dlv dap only
// serves over TCP, so the configured transport kind is ignored.
type DelveAdapter struct{}

func (d *DelveAdapter) Kind() string { return "delve" }

func (d *DelveAdapter) Spawn(ctx context.Context, cfg config.DebuggerConfig) (*dap.Transport, *exec.Cmd, error) {
	dlv := cfg.Path
	if dlv == "" {
		dlv = "dlv"
	}

	args := append([]string{"dap"}, cfg.Args...)
	return spawnTCP(ctx, dlv, args, "--listen")
}

func (d *DelveAdapter) BuildLaunchArgs(launch config.LaunchConfig) types.LaunchArguments {
	args := baseLaunchArgs(launch)
	withExtra(&args, "mode", "debug")
	return args
}
