//go:build windows

package process

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/core-tools/hsu-apphost/pkg/processstate"
)

// Windows console operation lock to prevent racing control events
var consoleOperationLock sync.Mutex

const ctrlBreakTimeout = 5 * time.Second

// SendTerminationSignal sends Ctrl+Break to the process group led by pid
func SendTerminationSignal(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}

	consoleOperationLock.Lock()
	defer consoleOperationLock.Unlock()

	if running, _ := processstate.IsProcessRunning(pid); !running {
		return nil
	}

	dll, err := syscall.LoadDLL("kernel32.dll")
	if err != nil {
		return fmt.Errorf("failed to load kernel32.dll: %v", err)
	}
	defer dll.Release()

	done := make(chan error, 1)
	go func() {
		done <- generateConsoleCtrlEvent(dll, pid)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send Ctrl+Break to PID %d: %v", pid, err)
		}
		return nil
	case <-time.After(ctrlBreakTimeout):
		return fmt.Errorf("timeout sending Ctrl+Break to PID %d after %v", pid, ctrlBreakTimeout)
	}
}

// KillProcessGroup forcibly kills the process tree rooted at pid
func KillProcessGroup(pid int) error {
	if running, _ := processstate.IsProcessRunning(pid); !running {
		return nil
	}
	if err := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run(); err == nil {
		return nil
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return process.Kill()
}

func generateConsoleCtrlEvent(dll *syscall.DLL, pid int) error {
	proc, err := dll.FindProc("GenerateConsoleCtrlEvent")
	if err != nil {
		return err
	}

	result, _, err := proc.Call(
		uintptr(syscall.CTRL_BREAK_EVENT),
		uintptr(pid),
	)
	if result == 0 {
		return err
	}
	return nil
}
