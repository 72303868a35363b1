//go:build !windows

package launcher

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in a new process group so signals
// reach the backend and everything it forks.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}
