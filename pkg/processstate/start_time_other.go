//go:build !linux && !windows

package processstate

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// StartTime returns the start time of pid as reported by ps
func StartTime(pid int) (string, error) {
	if pid <= 0 {
		return "", fmt.Errorf("invalid PID: %d", pid)
	}

	out, err := exec.Command("ps", "-o", "lstart=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", fmt.Errorf("no start time for PID %d", pid)
	}
	return strings.Join(fields, "_"), nil
}
