//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// SendTerminationSignal asks the process group led by pid to stop
func SendTerminationSignal(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// KillProcessGroup forcibly kills the process group led by pid.
// A group that no longer exists is not an error.
func KillProcessGroup(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}
