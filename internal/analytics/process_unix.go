//go:build unix

package analytics

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
)

// configureProcessGroup puts the CLI in its own process group so a timeout
// takes down anything it spawned.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return killProcessTree(cmd.Process.Pid)
	}
	cmd.WaitDelay = 2 * time.Second
}

func killProcessTree(pid int) error {
	if pid <= 0 {
		return errors.Newf("invalid pid %d", pid)
	}
	groupErr := syscall.Kill(-pid, syscall.SIGKILL)
	if groupErr == nil {
		return nil
	}

	pidErr := syscall.Kill(pid, syscall.SIGKILL)
	if pidErr == nil || errors.Is(pidErr, syscall.ESRCH) {
		return nil
	}
	return errors.Wrapf(pidErr, "group kill failed: %v; pid kill failed", groupErr)
}
