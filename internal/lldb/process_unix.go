//go:build !windows

package lldb

import (
	"os/exec"
	"syscall"
)

// killProcessGroup kills lldb together with the inferior it launched.
// The negative pid signals the whole process group.
func killProcessGroup(pid int, cmd *exec.Cmd) error {
	if pid > 0 {
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
			// ESRCH: the group is already gone
			if err != syscall.ESRCH {
				return err
			}
		}
		return nil
	}
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && err.Error() != "os: process already finished" {
			return err
		}
	}
	return nil
}

// setProcAttr makes lldb the leader of a new session so the program it
// launches can be killed along with it.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
