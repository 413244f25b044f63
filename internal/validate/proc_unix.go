//go:build !windows

package validate

import (
	"os/exec"
	"syscall"
	"time"
)

// configureProcessGroup starts the shell in its own process group so a
// timeout kills the checker and everything it spawned.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second
}
