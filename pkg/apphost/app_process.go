package apphost

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/core-tools/hsu-apphost/pkg/endpoint"
	"github.com/core-tools/hsu-apphost/pkg/errors"
	"github.com/core-tools/hsu-apphost/pkg/logging"
	"github.com/core-tools/hsu-apphost/pkg/monitoring"
	"github.com/core-tools/hsu-apphost/pkg/process"
	"github.com/core-tools/hsu-apphost/pkg/readiness"
)

// AppProcess is one built and launched web application
type AppProcess struct {
	id      string
	options Options
	logger  logging.Logger
	sink    OutputSink

	mutex   sync.Mutex
	state   AppState
	process *process.RunningProcess
	url     endpoint.URL
	failure error

	// serializes readiness waits
	waitMutex sync.Mutex
}

// Start builds the project unless SkipBuild is set, launches it and waits out
// the grace period. On failure everything created so far is released.
func Start(ctx context.Context, options Options) (*AppProcess, error) {
	options, err := options.withDefaults()
	if err != nil {
		return nil, err
	}

	a := &AppProcess{
		id:      uuid.NewString(),
		options: options,
		logger:  options.Logger,
		sink:    options.Sink,
		state:   StateBuilding,
	}

	a.logger.Infof("Starting app, id: %s, directory: '%s', project: '%s', publish: %t",
		a.id, options.WorkingDirectory, options.ProjectName, options.Publish)

	if !options.SkipBuild {
		if options.Publish {
			a.sink.WriteLine(fmt.Sprintf("Publishing %s...", options.AppLabel))
		} else {
			a.sink.WriteLine(fmt.Sprintf("Building %s...", options.AppLabel))
		}
		if err := runBuild(ctx, options.Builder, options.buildRequest()); err != nil {
			a.logger.Errorf("Build failed, id: %s, error: %v", a.id, err)
			a.transitionTo(StateFailed)
			return nil, err
		}
	}

	a.transitionTo(StateStarting)
	a.sink.WriteLine(fmt.Sprintf("Running %s...", options.AppLabel))

	proc, err := process.Run(options.executionConfig(), a.id, a.logger)
	if err != nil {
		a.transitionTo(StateFailed)
		return nil, err
	}

	a.mutex.Lock()
	a.process = proc
	a.mutex.Unlock()

	a.writeProcessFiles(proc.PID())

	if err := a.waitGracePeriod(ctx, proc); err != nil {
		a.transitionTo(StateFailed)
		a.release(proc)
		return nil, err
	}

	a.transitionTo(StateWaitingForReadiness)
	a.logger.Infof("App started, id: %s, PID: %d, bind addresses: %s", a.id, proc.PID(), options.bindAddresses())
	return a, nil
}

func (a *AppProcess) waitGracePeriod(ctx context.Context, proc *process.RunningProcess) error {
	timer := time.NewTimer(a.options.Readiness.GracePeriod)
	defer timer.Stop()

	select {
	case <-proc.Done():
	case <-timer.C:
		if !proc.HasExited() {
			return nil
		}
		<-proc.Done()
	case <-ctx.Done():
		return errors.NewCancelledError("start cancelled", ctx.Err()).WithContext("id", a.id)
	}

	a.logger.Errorf("App exited during grace period, id: %s, exit code: %d", a.id, proc.ExitCode())
	return errors.NewEarlyExitError("process exited before it could be used", nil).
		WithContext("id", a.id).
		WithContext("exit_code", proc.ExitCode()).
		WithContext("grace_period", a.options.Readiness.GracePeriod.String()).
		WithOutput(proc.Output(), proc.ErrorOutput())
}

// WaitUntilReady blocks until the application announces its listening address
// and returns it normalized. A zero timeout uses the configured default.
// Once ready, later calls return the cached address.
func (a *AppProcess) WaitUntilReady(ctx context.Context, timeout time.Duration) (endpoint.URL, error) {
	a.waitMutex.Lock()
	defer a.waitMutex.Unlock()

	proc, url, err := a.validateAndPlanWait()
	if err != nil || !url.IsZero() {
		return url, err
	}

	if timeout <= 0 {
		timeout = a.options.Readiness.Timeout
	}
	deadline := time.Now().Add(timeout)

	a.sink.WriteLine(fmt.Sprintf("Waiting until %s is accepting connections...", a.options.AppLabel))

	line, err := readiness.Detect(ctx, proc.Stdout(), a.options.Readiness.Prefix, proc.Done(), timeout)
	if err != nil {
		if errors.IsCancelledError(err) {
			return endpoint.URL{}, err
		}
		return endpoint.URL{}, a.fail(withProcessOutput(err, proc))
	}

	raw := readiness.ExtractURL(line, a.options.Readiness.Prefix)
	url, err = endpoint.Normalize(raw, a.options.Readiness.LoopbackHost)
	if err != nil {
		return endpoint.URL{}, a.fail(withProcessOutput(err, proc))
	}

	if a.options.Probe.Enabled() {
		if err := a.probe(ctx, deadline, url, proc); err != nil {
			if errors.IsCancelledError(err) {
				return endpoint.URL{}, err
			}
			return endpoint.URL{}, a.fail(err)
		}
	}

	a.mutex.Lock()
	if a.state != StateWaitingForReadiness {
		state := a.state
		a.mutex.Unlock()
		return endpoint.URL{}, errors.NewValidationError("app left readiness wait", nil).
			WithContext("id", a.id).
			WithContext("state", string(state))
	}
	a.url = url
	a.setStateLocked(StateReady)
	a.mutex.Unlock()

	a.sink.WriteLine(fmt.Sprintf("Detected that %s is accepting connections on: %s", a.options.AppLabel, url))
	return url, nil
}

func (a *AppProcess) validateAndPlanWait() (*process.RunningProcess, endpoint.URL, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	switch a.state {
	case StateReady:
		return a.process, a.url, nil
	case StateWaitingForReadiness:
		return a.process, endpoint.URL{}, nil
	case StateFailed:
		return nil, endpoint.URL{}, a.failure
	default:
		return nil, endpoint.URL{}, errors.NewValidationError("app is not waiting for readiness", nil).
			WithContext("id", a.id).
			WithContext("state", string(a.state))
	}
}

func (a *AppProcess) probe(ctx context.Context, deadline time.Time, url endpoint.URL, proc *process.RunningProcess) error {
	prober, err := monitoring.NewProber(a.options.probeConfig(), a.id, a.logger)
	if err != nil {
		return err
	}

	probeCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	err = prober.WaitHealthy(probeCtx, monitoring.Target{Address: url.Address(), PID: proc.PID()})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return errors.NewCancelledError("readiness probe cancelled", ctx.Err()).WithContext("id", a.id)
	}
	return errors.NewReadinessTimeoutError("application reported readiness but the probe did not pass", err).
		WithContext("id", a.id).
		WithContext("reason", "probe").
		WithContext("url", url.String()).
		WithOutput(proc.Output(), proc.ErrorOutput())
}

// fail records a readiness failure. The process keeps running until Dispose.
func (a *AppProcess) fail(err error) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.state == StateDisposed {
		return err
	}
	a.failure = err
	a.setStateLocked(StateFailed)
	a.logger.Errorf("App failed to become ready, id: %s, error: %v", a.id, err)
	return err
}

// Dispose stops the process tree, killing it when it ignores the termination
// signal, waits for it to exit and removes process files. It is safe on nil, after failure, after natural exit and when repeated.
func (a *AppProcess) Dispose() error {
	if a == nil {
		return nil
	}

	proc, alreadyDisposed := a.validateAndPlanDispose()
	if alreadyDisposed {
		return nil
	}

	collection := errors.NewErrorCollection()
	if proc != nil {
		collection.Add(a.stopProcess(proc))
	}
	collection.Add(a.removeProcessFiles())

	a.logger.Infof("App disposed, id: %s", a.id)
	return collection.ToError()
}

func (a *AppProcess) validateAndPlanDispose() (*process.RunningProcess, bool) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.state == StateDisposed {
		return nil, true
	}
	a.setStateLocked(StateDisposed)
	return a.process, false
}

func (a *AppProcess) stopProcess(proc *process.RunningProcess) error {
	if err := proc.Stop(a.options.StopTimeout); err != nil {
		a.logger.Warnf("Failed to kill app, id: %s, error: %v", a.id, err)
		return err
	}

	timer := time.NewTimer(a.options.DisposeTimeout)
	defer timer.Stop()
	select {
	case <-proc.Done():
		return nil
	case <-timer.C:
		return errors.NewTimeoutError("app did not exit after kill", nil).
			WithContext("id", a.id).
			WithContext("pid", proc.PID()).
			WithContext("timeout", a.options.DisposeTimeout.String())
	}
}

// release tears down a process whose start failed
func (a *AppProcess) release(proc *process.RunningProcess) {
	if err := a.stopProcess(proc); err != nil {
		a.logger.Warnf("Failed to release app process, id: %s, error: %v", a.id, err)
	}
	if err := a.removeProcessFiles(); err != nil {
		a.logger.Warnf("Failed to remove process files, id: %s, error: %v", a.id, err)
	}
}

func (a *AppProcess) writeProcessFiles(pid int) {
	files := a.options.ProcessFiles
	if files == nil {
		return
	}
	if err := files.WritePIDFile(a.id, pid); err != nil {
		a.logger.Warnf("Failed to write PID file, id: %s, error: %v", a.id, err)
	}
	if err := files.WritePortFile(a.id, a.options.HTTPPort, a.options.HTTPSPort); err != nil {
		a.logger.Warnf("Failed to write port file, id: %s, error: %v", a.id, err)
	}
}

func (a *AppProcess) removeProcessFiles() error {
	if a.options.ProcessFiles == nil {
		return nil
	}
	return a.options.ProcessFiles.RemoveFiles(a.id)
}

func (a *AppProcess) transitionTo(state AppState) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.setStateLocked(state)
}

func (a *AppProcess) setStateLocked(state AppState) {
	if !canTransition(a.state, state) {
		a.logger.Warnf("Ignoring state transition, id: %s, %s -> %s", a.id, a.state, state)
		return
	}
	a.logger.Debugf("State transition, id: %s, %s -> %s", a.id, a.state, state)
	a.state = state
}

func (a *AppProcess) safeGetProcess() *process.RunningProcess {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.process
}

func (a *AppProcess) ID() string {
	return a.id
}

func (a *AppProcess) State() AppState {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.state
}

// URL returns the normalized address once the app is ready
func (a *AppProcess) URL() (endpoint.URL, bool) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.url, !a.url.IsZero()
}

// Err is the readiness failure, if any
func (a *AppProcess) Err() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.failure
}

func (a *AppProcess) PID() int {
	if proc := a.safeGetProcess(); proc != nil {
		return proc.PID()
	}
	return 0
}

// Ports are the HTTP and HTTPS ports passed to the application
func (a *AppProcess) Ports() (http int, https int) {
	return a.options.HTTPPort, a.options.HTTPSPort
}

// Done closes when the process exited and its output is fully captured
func (a *AppProcess) Done() <-chan struct{} {
	return a.safeGetProcess().Done()
}

// Output is everything the application wrote to stdout so far
func (a *AppProcess) Output() string {
	if proc := a.safeGetProcess(); proc != nil {
		return proc.Output()
	}
	return ""
}

// ErrorOutput is everything the application wrote to stderr so far
func (a *AppProcess) ErrorOutput() string {
	if proc := a.safeGetProcess(); proc != nil {
		return proc.ErrorOutput()
	}
	return ""
}

// withProcessOutput attaches the captured streams to a domain error
func withProcessOutput(err error, proc *process.RunningProcess) error {
	var domainErr *errors.DomainError
	if stderrors.As(err, &domainErr) {
		return domainErr.WithOutput(proc.Output(), proc.ErrorOutput())
	}
	return err
}
