//go:build !windows

package dap

import (
	"os/exec"
	"syscall"
)

// killProcessGroup kills the adapter process and everything it spawned.
// A negative PID signals the whole process group.
func killProcessGroup(pid int, cmd *exec.Cmd) error {
	if pid > 0 {
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
			// ESRCH: the group is already gone.
			if err != syscall.ESRCH {
				return err
			}
		}
	} else if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil {
			if err.Error() != "os: process already finished" {
				return err
			}
		}
	}
	return nil
}
