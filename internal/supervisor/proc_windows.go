//go:build !unix

package supervisor

import "os/exec"

func configureProcAttr(*exec.Cmd) {}

func killProcessTree(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
