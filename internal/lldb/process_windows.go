//go:build windows

package lldb

import (
	"os/exec"
	"syscall"
)

// killProcessGroup kills lldb. Windows has no Unix-style process groups, so
// only the lldb process itself is signalled.
func killProcessGroup(pid int, cmd *exec.Cmd) error {
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && err.Error() != "os: process already finished" {
			return err
		}
	}
	return nil
}

// setProcAttr starts lldb in a new process group.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
