//go:build linux

package processstate

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// StartTime returns the kernel start time of pid in clock ticks since boot.
// The token differs between two processes that reused the same PID.
func StartTime(pid int) (string, error) {
	if pid <= 0 {
		return "", fmt.Errorf("invalid PID: %d", pid)
	}

	content, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return "", err
	}

	// comm may contain spaces and parentheses
	stat := string(content)
	end := strings.LastIndexByte(stat, ')')
	if end < 0 {
		return "", fmt.Errorf("malformed stat for PID %d", pid)
	}
	fields := strings.Fields(stat[end+1:])
	// starttime is field 22; fields here begin at field 3
	if len(fields) < 20 {
		return "", fmt.Errorf("malformed stat for PID %d", pid)
	}
	return fields[19], nil
}
