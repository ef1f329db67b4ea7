//go:build !windows

package adapters

import (
	"os/exec"
	"syscall"
)

// setProcAttr puts the spawned adapter in its own session so the whole
// process tree can be killed as a group on teardown.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
