//go:build windows

package dap

import (
	"os/exec"
)

// killProcessGroup kills the adapter process. Windows has no Unix-style
// process groups; children are covered by CREATE_NEW_PROCESS_GROUP.
func killProcessGroup(pid int, cmd *exec.Cmd) error {
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil {
			if err.Error() != "os: process already finished" {
				return err
			}
		}
	}
	return nil
}
