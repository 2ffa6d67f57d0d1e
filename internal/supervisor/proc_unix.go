//go:build unix

package supervisor

import (
	"os/exec"
	"syscall"
)

// configureProcAttr places the child in its own process group, so Cancel
// can reach helper processes the tool forks.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessTree kills the whole process group, falling back to the direct
// child if the group signal fails.
func killProcessTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}
