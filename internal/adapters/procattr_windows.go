//go:build windows

package adapters

import (
	"os/exec"
	"syscall"
)

// setProcAttr creates a fresh process group for the spawned adapter so
// teardown can signal it separately from this process.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
