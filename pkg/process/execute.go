package process

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-apphost/pkg/errors"
	"github.com/core-tools/hsu-apphost/pkg/logcollection"
	"github.com/core-tools/hsu-apphost/pkg/logging"
)

// DefaultWaitDelay bounds how long output readers may run after the process exited
const DefaultWaitDelay = 2 * time.Second

type ExecutionConfig struct {
	ExecutablePath   string            `yaml:"executable_path"`
	Args             []string          `yaml:"args,omitempty"`
	Environment      map[string]string `yaml:"environment,omitempty"`
	WorkingDirectory string            `yaml:"working_directory,omitempty"`
	WaitDelay        time.Duration     `yaml:"wait_delay,omitempty"`

	// Optional per-line forwarding; see logcollection.LineSink
	OnLine       logcollection.LineSink         `yaml:"-"`
	OutputLogger logcollection.StructuredLogger `yaml:"-"`
}

// RunningProcess is one spawned child with its captured output streams
type RunningProcess struct {
	id     string
	config ExecutionConfig
	cmd    *exec.Cmd
	logger logging.Logger

	stdout *logcollection.StreamCollector
	stderr *logcollection.StreamCollector

	exited   atomic.Bool
	exitCode atomic.Int64
	waitErr  error
	done     chan struct{}

	killMutex sync.Mutex
	killed    bool
}

// Run starts the executable and begins capturing stdout and stderr immediately.
// Every failure before the process is running is a launch error.
func Run(config ExecutionConfig, id string, logger logging.Logger) (*RunningProcess, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	if err := ValidateExecutionConfig(config); err != nil {
		logger.Errorf("Execution configuration validation failed, id: %s, error: %v", id, err)
		return nil, errors.NewLaunchError("invalid execution configuration", err).WithContext("id", id)
	}

	executable, err := exec.LookPath(config.ExecutablePath)
	if err != nil {
		return nil, errors.NewLaunchError("executable not found", err).
			WithContext("id", id).
			WithContext("executable_path", config.ExecutablePath)
	}

	if config.WaitDelay == 0 {
		config.WaitDelay = DefaultWaitDelay
	}

	logger.Debugf("Executing process, id: %s, executable path: '%s', args: %v, working directory: '%s'",
		id, executable, config.Args, config.WorkingDirectory)

	cmd := exec.Command(executable, config.Args...)
	cmd.Dir = config.WorkingDirectory
	cmd.Env = mergeEnvironment(os.Environ(), config.Environment)

	// Platform-specific setup is in execute_unix.go / execute_windows.go
	setupProcessAttributes(cmd)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, errors.NewLaunchError("failed to create stdout pipe", err).WithContext("id", id)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return nil, errors.NewLaunchError("failed to create stderr pipe", err).WithContext("id", id)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		return nil, errors.NewLaunchError("failed to start the process", err).
			WithContext("id", id).
			WithContext("executable_path", executable)
	}
	// the child holds its own copies of the write ends
	closeAll(stdoutW, stderrW)

	p := &RunningProcess{
		id:     id,
		config: config,
		cmd:    cmd,
		logger: logger,
		stdout: logcollection.NewStreamCollector(id, logcollection.StdoutStream, nil, config.OutputLogger, config.OnLine),
		stderr: logcollection.NewStreamCollector(id, logcollection.StderrStream, nil, config.OutputLogger, config.OnLine),
		done:   make(chan struct{}),
	}
	p.exitCode.Store(-1)

	p.stdout.Start(stdoutR)
	p.stderr.Start(stderrR)
	go p.wait(stdoutR, stderrR)

	logger.Infof("Successfully executed process, id: %s, PID: %d", id, cmd.Process.Pid)

	return p, nil
}

func (p *RunningProcess) wait(readers ...*os.File) {
	defer close(p.done)

	err := p.cmd.Wait()
	if p.cmd.ProcessState != nil {
		p.exitCode.Store(int64(p.cmd.ProcessState.ExitCode()))
	}
	p.waitErr = err
	p.exited.Store(true)

	timer := time.NewTimer(p.config.WaitDelay)
	defer timer.Stop()

	for _, c := range []*logcollection.StreamCollector{p.stdout, p.stderr} {
		select {
		case <-c.Done():
		case <-timer.C:
			// a descendant still holds the pipe open
			p.logger.Warnf("Output readers did not finish within %v, id: %s", p.config.WaitDelay, p.id)
			closeAll(readers...)
			<-p.stdout.Done()
			<-p.stderr.Done()
		}
	}
	closeAll(readers...)

	p.logger.Debugf("Process exited, id: %s, exit code: %d", p.id, p.ExitCode())
}

func (p *RunningProcess) ID() string {
	return p.id
}

func (p *RunningProcess) PID() int {
	return p.cmd.Process.Pid
}

// Command renders the executable and arguments for diagnostics
func (p *RunningProcess) Command() string {
	return strings.Join(append([]string{p.cmd.Path}, p.config.Args...), " ")
}

func (p *RunningProcess) Stdout() *logcollection.LineBuffer {
	return p.stdout.Buffer()
}

func (p *RunningProcess) Stderr() *logcollection.LineBuffer {
	return p.stderr.Buffer()
}

// Output returns all stdout text captured so far
func (p *RunningProcess) Output() string {
	return p.stdout.Buffer().String()
}

// ErrorOutput returns all stderr text captured so far
func (p *RunningProcess) ErrorOutput() string {
	return p.stderr.Buffer().String()
}

// Done is closed after the process exited and both streams were fully read
func (p *RunningProcess) Done() <-chan struct{} {
	return p.done
}

// HasExited reports whether the process itself has terminated
func (p *RunningProcess) HasExited() bool {
	return p.exited.Load()
}

// ExitCode is -1 while running or when the process was killed by a signal
func (p *RunningProcess) ExitCode() int {
	return int(p.exitCode.Load())
}

// Kill forcibly terminates the process and every process in its group.
// It is idempotent and returns nil once the process has already exited.
func (p *RunningProcess) Kill() error {
	p.killMutex.Lock()
	defer p.killMutex.Unlock()

	select {
	case <-p.done:
		return nil
	default:
	}

	if err := killProcessGroup(p.cmd.Process); err != nil {
		if p.HasExited() {
			return nil
		}
		return errors.NewInternalError("failed to kill process", err).
			WithContext("id", p.id).
			WithContext("pid", p.PID())
	}
	if !p.killed {
		p.killed = true
		p.logger.Infof("Killed process group, id: %s, PID: %d", p.id, p.PID())
	}
	return nil
}

// Stop asks the process group to terminate and kills it once timeout passes
// without an exit. A non-positive timeout kills right away.
func (p *RunningProcess) Stop(timeout time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if timeout > 0 && !p.HasExited() {
		if err := SendTerminationSignal(p.PID()); err != nil {
			p.logger.Debugf("Termination signal failed, id: %s, PID: %d, error: %v", p.id, p.PID(), err)
		} else {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			select {
			case <-p.done:
				p.logger.Infof("Process stopped gracefully, id: %s, PID: %d", p.id, p.PID())
				return nil
			case <-timer.C:
				p.logger.Warnf("Process did not stop within %v, killing, id: %s, PID: %d", timeout, p.id, p.PID())
			}
		}
	}

	return p.Kill()
}

// WaitForExit blocks until Done and returns the exit code. With assertSuccess a
// non-zero code is reported as a process failure carrying the captured output.
func (p *RunningProcess) WaitForExit(ctx context.Context, assertSuccess bool) (int, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return -1, errors.NewTimeoutError("process did not exit in time", ctx.Err()).
				WithContext("id", p.id).
				WithOutput(p.Output(), p.ErrorOutput())
		}
		return -1, errors.NewCancelledError("wait for process exit cancelled", ctx.Err()).WithContext("id", p.id)
	}

	code := p.ExitCode()
	if assertSuccess && code != 0 {
		return code, errors.NewProcessFailedError("process exited with non-zero code", p.waitErr).
			WithContext("id", p.id).
			WithContext("command", p.Command()).
			WithContext("exit_code", code).
			WithOutput(p.Output(), p.ErrorOutput())
	}
	return code, nil
}

// mergeEnvironment overlays values on base; overlaid keys replace inherited ones
func mergeEnvironment(base []string, overlay map[string]string) []string {
	env := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := lookupKey(overlay, key); ok {
			continue
		}
		env = append(env, kv)
	}
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	return env
}

func lookupKey(m map[string]string, key string) (string, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	if runtime.GOOS == "windows" {
		for k, v := range m {
			if strings.EqualFold(k, key) {
				return v, true
			}
		}
	}
	return "", false
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
