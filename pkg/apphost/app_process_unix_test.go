//go:build !windows

package apphost

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-apphost/pkg/errors"
	"github.com/core-tools/hsu-apphost/pkg/monitoring"
	"github.com/core-tools/hsu-apphost/pkg/process"
	"github.com/core-tools/hsu-apphost/pkg/processfile"
	"github.com/core-tools/hsu-apphost/pkg/readiness"
)

type recordingSink struct {
	mutex sync.Mutex
	lines []string
}

func (s *recordingSink) WriteLine(line string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lines = append(s.lines, line)
}

func (s *recordingSink) Lines() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]string(nil), s.lines...)
}

// scriptOptions runs script with sh in place of the launcher
func scriptOptions(t *testing.T, script string) Options {
	t.Helper()
	return Options{
		WorkingDirectory: t.TempDir(),
		Command:          []string{"sh", "-c", script},
		SkipBuild:        true,
		Readiness:        ReadinessOptions{GracePeriod: 100 * time.Millisecond},
		WaitDelay:        500 * time.Millisecond,
	}
}

func startApp(t *testing.T, options Options) *AppProcess {
	t.Helper()
	app, err := Start(context.Background(), options)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Dispose() })
	return app
}

func TestAppProcess_DelayedReadiness(t *testing.T) {
	const script = `echo "Listening..."; sleep 0.9; echo "Now listening on: http://0.0.0.0:6000"; sleep 30`

	t.Run("ready_within_timeout", func(t *testing.T) {
		app := startApp(t, scriptOptions(t, script))
		assert.Equal(t, StateWaitingForReadiness, app.State())

		url, err := app.WaitUntilReady(context.Background(), 5*time.Second)

		require.NoError(t, err)
		assert.Equal(t, "http://localhost:6000", url.String())
		assert.Equal(t, StateReady, app.State())
		cached, ok := app.URL()
		assert.True(t, ok)
		assert.Equal(t, url, cached)
	})

	t.Run("timeout", func(t *testing.T) {
		app := startApp(t, scriptOptions(t, script))

		start := time.Now()
		_, err := app.WaitUntilReady(context.Background(), 500*time.Millisecond)

		require.Error(t, err)
		assert.True(t, errors.IsReadinessTimeoutError(err))
		assert.Less(t, time.Since(start), 850*time.Millisecond)
		assert.Contains(t, err.Error(), "Listening...")
		assert.Equal(t, StateFailed, app.State())

		// a readiness timeout leaves the process running
		select {
		case <-app.Done():
			t.Fatal("process should still be running")
		default:
		}

		_, again := app.WaitUntilReady(context.Background(), 5*time.Second)
		assert.Equal(t, err, again)

		require.NoError(t, app.Dispose())
		assert.Equal(t, StateDisposed, app.State())
	})
}

func TestAppProcess_CachedURL(t *testing.T) {
	app := startApp(t, scriptOptions(t, `echo "Now listening on: http://[::]:5000"; sleep 30`))

	first, err := app.WaitUntilReady(context.Background(), 5*time.Second)
	require.NoError(t, err)
	second, err := app.WaitUntilReady(context.Background(), time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:5000", first.String())
	assert.Equal(t, first, second)
}

func TestAppProcess_EarlyExit(t *testing.T) {
	options := scriptOptions(t, `echo "Unhandled exception"; echo "stack trace" >&2; exit 3`)
	options.Readiness.GracePeriod = 2 * time.Second

	start := time.Now()
	app, err := Start(context.Background(), options)

	assert.Nil(t, app)
	require.Error(t, err)
	assert.True(t, errors.IsEarlyExitError(err))
	assert.Less(t, time.Since(start), 2*time.Second)

	var domainErr *errors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "Unhandled exception\n", domainErr.Output)
	assert.Equal(t, "stack trace\n", domainErr.ErrorOutput)
	assert.Equal(t, 3, domainErr.Context["exit_code"])
}

func TestAppProcess_ExitAfterGraceStopsWait(t *testing.T) {
	app := startApp(t, scriptOptions(t, `echo "starting"; sleep 0.3; echo "fatal" >&2; exit 1`))

	start := time.Now()
	_, err := app.WaitUntilReady(context.Background(), 10*time.Second)

	require.Error(t, err)
	assert.True(t, errors.IsReadinessTimeoutError(err))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Contains(t, err.Error(), "fatal")
	assert.Equal(t, StateFailed, app.State())

	var domainErr *errors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, readiness.ReasonProcessExited, domainErr.Context["reason"])
}

func TestAppProcess_ReadyAfterOversizedLine(t *testing.T) {
	options := scriptOptions(t,
		`head -c 1100000 /dev/zero | tr '\000' x; echo; echo "Now listening on: http://0.0.0.0:6001"; sleep 30`)
	options.SuppressOutput = true
	app := startApp(t, options)

	url, err := app.WaitUntilReady(context.Background(), 5*time.Second)

	require.NoError(t, err)
	assert.Equal(t, "http://localhost:6001", url.String())
}

func TestAppProcess_TimeoutUnderOutputFlood(t *testing.T) {
	options := scriptOptions(t, `while :; do echo "info: request served"; done`)
	options.SuppressOutput = true
	app := startApp(t, options)

	start := time.Now()
	_, err := app.WaitUntilReady(context.Background(), 500*time.Millisecond)

	require.Error(t, err)
	assert.True(t, errors.IsReadinessTimeoutError(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestAppProcess_MalformedURL(t *testing.T) {
	app := startApp(t, scriptOptions(t, `echo "Now listening on: http://localhost"; sleep 30`))

	_, err := app.WaitUntilReady(context.Background(), 5*time.Second)

	require.Error(t, err)
	assert.True(t, errors.IsMalformedURLError(err))
	assert.Contains(t, err.Error(), "Now listening on: http://localhost")
	assert.Equal(t, StateFailed, app.State())
}

func TestAppProcess_Dispose(t *testing.T) {
	t.Run("twice", func(t *testing.T) {
		app := startApp(t, scriptOptions(t, `echo "out"; sleep 30`))

		require.NoError(t, app.Dispose())
		require.NoError(t, app.Dispose())

		select {
		case <-app.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("process still running after dispose")
		}
		assert.Equal(t, StateDisposed, app.State())
		assert.Equal(t, "out\n", app.Output())

		_, err := app.WaitUntilReady(context.Background(), time.Second)
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("after_natural_exit", func(t *testing.T) {
		app := startApp(t, scriptOptions(t, `sleep 0.3; echo "done"`))
		<-app.Done()

		assert.NoError(t, app.Dispose())
		assert.Equal(t, "done\n", app.Output())
	})

	t.Run("kills_process_tree", func(t *testing.T) {
		options := scriptOptions(t, `sleep 30 & echo "child"; wait`)
		options.WaitDelay = 20 * time.Second
		app := startApp(t, options)

		start := time.Now()
		require.NoError(t, app.Dispose())
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("terminates_before_killing", func(t *testing.T) {
		app := startApp(t, scriptOptions(t, `trap 'echo "shutting down"; exit 0' TERM; echo "started"; while :; do sleep 0.1; done`))
		assert.Eventually(t, func() bool {
			return strings.Contains(app.Output(), "started")
		}, 5*time.Second, 20*time.Millisecond)

		require.NoError(t, app.Dispose())
		assert.Equal(t, "started\nshutting down\n", app.Output())
	})

	t.Run("kills_when_termination_ignored", func(t *testing.T) {
		options := scriptOptions(t, `trap '' TERM; echo "started"; while :; do sleep 0.1; done`)
		options.StopTimeout = 200 * time.Millisecond
		app := startApp(t, options)
		assert.Eventually(t, func() bool {
			return strings.Contains(app.Output(), "started")
		}, 5*time.Second, 20*time.Millisecond)

		start := time.Now()
		require.NoError(t, app.Dispose())
		assert.Less(t, time.Since(start), 3*time.Second)
		assert.NotContains(t, app.Output(), "shutting down")
	})

	t.Run("interrupts_readiness_wait", func(t *testing.T) {
		app := startApp(t, scriptOptions(t, `sleep 30`))

		go func() {
			time.Sleep(200 * time.Millisecond)
			_ = app.Dispose()
		}()

		_, err := app.WaitUntilReady(context.Background(), 10*time.Second)
		assert.Error(t, err)
		assert.Equal(t, StateDisposed, app.State())
	})
}

func TestAppProcess_Cancellation(t *testing.T) {
	app := startApp(t, scriptOptions(t, `sleep 30`))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := app.WaitUntilReady(ctx, 10*time.Second)

	assert.True(t, errors.IsCancelledError(err))
	assert.Equal(t, StateWaitingForReadiness, app.State())
}

func TestAppProcess_SinkMessages(t *testing.T) {
	sink := &recordingSink{}
	options := scriptOptions(t, `echo "Now listening on: http://127.0.0.1:7000"; sleep 30`)
	options.Sink = sink

	app := startApp(t, options)
	_, err := app.WaitUntilReady(context.Background(), 5*time.Second)
	require.NoError(t, err)

	lines := sink.Lines()
	assert.Equal(t, "Running ASP.NET application...", lines[0])
	assert.Eventually(t, func() bool {
		return indexOf(sink.Lines(), "Now listening on: http://127.0.0.1:7000") >= 0
	}, 5*time.Second, 10*time.Millisecond)
	waiting := indexOf(lines, "Waiting until ASP.NET application is accepting connections...")
	detected := indexOf(lines, "Detected that ASP.NET application is accepting connections on: http://127.0.0.1:7000")
	assert.Greater(t, waiting, 0)
	assert.Greater(t, detected, waiting)
}

func indexOf(lines []string, line string) int {
	for i, l := range lines {
		if l == line {
			return i
		}
	}
	return -1
}

func TestAppProcess_Environment(t *testing.T) {
	options := scriptOptions(t, `echo "$ASPNETCORE_URLS"; echo "$ASPNETCORE_ENVIRONMENT"; echo "$EXTRA"; sleep 30`)
	options.HTTPPort = 5050
	options.HTTPSPort = 5051
	options.Environment = map[string]string{"EXTRA": "extra"}

	app := startApp(t, options)

	assert.Eventually(t, func() bool {
		return strings.Count(app.Output(), "\n") == 3
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "http://127.0.0.1:5050;https://127.0.0.1:5051\nDevelopment\nextra\n", app.Output())

	http, https := app.Ports()
	assert.Equal(t, 5050, http)
	assert.Equal(t, 5051, https)
}

func TestAppProcess_LauncherExecPublish(t *testing.T) {
	dir := t.TempDir()
	publishDir := filepath.Join(dir, "bin", "Release", DefaultFramework, "publish")
	require.NoError(t, os.MkdirAll(publishDir, 0o755))

	launcher := filepath.Join(t.TempDir(), "launcher")
	require.NoError(t, os.WriteFile(launcher, []byte(`#!/bin/sh
echo "args: $*"
echo "cwd: $(pwd -P)"
echo "env: ${ASPNETCORE_ENVIRONMENT:-unset}"
echo "Now listening on: http://+:5005"
sleep 30
`), 0o755))

	app := startApp(t, Options{
		WorkingDirectory: dir,
		ProjectName:      "App",
		Publish:          true,
		SkipBuild:        true,
		Launcher:         process.StaticLauncher(launcher),
		Readiness:        ReadinessOptions{GracePeriod: 100 * time.Millisecond},
	})

	url, err := app.WaitUntilReady(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5005", url.String())

	resolved, err := filepath.EvalSymlinks(publishDir)
	require.NoError(t, err)
	output := app.Output()
	assert.Contains(t, output, "args: exec App.dll\n")
	assert.Contains(t, output, "cwd: "+resolved+"\n")
	assert.Contains(t, output, "env: unset\n")
}

func TestAppProcess_MissingPublishDirectory(t *testing.T) {
	_, err := Start(context.Background(), Options{
		WorkingDirectory: t.TempDir(),
		ProjectName:      "App",
		Publish:          true,
		SkipBuild:        true,
		Launcher:         process.StaticLauncher("sh"),
	})

	assert.True(t, errors.IsLaunchError(err))
}

func TestAppProcess_ProcessFiles(t *testing.T) {
	files := processfile.NewProcessFileManager(processfile.ProcessFileConfig{BaseDirectory: t.TempDir()}, nil)
	options := scriptOptions(t, `sleep 30`)
	options.ProcessFiles = files

	app := startApp(t, options)

	pid, hostPID, err := files.ReadPIDFile(app.ID())
	require.NoError(t, err)
	assert.Equal(t, app.PID(), pid)
	assert.Equal(t, os.Getpid(), hostPID)

	http, https := app.Ports()
	ports, err := files.ReadPortFile(app.ID())
	require.NoError(t, err)
	assert.Equal(t, []int{http, https}, ports)

	require.NoError(t, app.Dispose())
	_, err = os.Stat(files.GeneratePIDFilePath(app.ID()))
	assert.True(t, os.IsNotExist(err))
}

func TestAppProcess_Probe(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	port := listener.Addr().(*net.TCPAddr).Port

	t.Run("passes", func(t *testing.T) {
		options := scriptOptions(t, fmt.Sprintf(`echo "Now listening on: http://127.0.0.1:%d"; sleep 30`, port))
		options.Probe = monitoring.HealthCheckConfig{Type: monitoring.HealthCheckTypeTCP}
		app := startApp(t, options)

		url, err := app.WaitUntilReady(context.Background(), 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, port, url.PortNumber())
	})

	t.Run("fails_until_deadline", func(t *testing.T) {
		closed, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		closedPort := closed.Addr().(*net.TCPAddr).Port
		closed.Close()

		options := scriptOptions(t, fmt.Sprintf(`echo "Now listening on: http://127.0.0.1:%d"; sleep 30`, closedPort))
		options.Probe = monitoring.HealthCheckConfig{Type: monitoring.HealthCheckTypeTCP}
		app := startApp(t, options)

		_, err = app.WaitUntilReady(context.Background(), 500*time.Millisecond)
		require.Error(t, err)
		assert.True(t, errors.IsReadinessTimeoutError(err))

		var domainErr *errors.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "probe", domainErr.Context["reason"])
		assert.Equal(t, StateFailed, app.State())
	})
}

func TestCommandBuilder(t *testing.T) {
	launcher := filepath.Join(t.TempDir(), "launcher")
	require.NoError(t, os.WriteFile(launcher, []byte(`#!/bin/sh
echo "$*"
[ "$1" = "publish" ] || { echo "unsupported" >&2; exit 4; }
`), 0o755))

	builder := &CommandBuilder{Launcher: process.StaticLauncher(launcher)}

	result, err := builder.Build(context.Background(), BuildRequest{
		WorkingDirectory: t.TempDir(),
		Configuration:    "Release",
		Publish:          true,
		ExtraArgs:        []string{"-p:PublishWithAspNetCoreTargetManifest=false"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "publish -c Release -p:PublishWithAspNetCoreTargetManifest=false\n", result.Output)

	sink := &recordingSink{}
	builder.Sink = sink
	result, err = builder.Build(context.Background(), BuildRequest{WorkingDirectory: t.TempDir(), Configuration: "Debug"})
	require.NoError(t, err)
	assert.Equal(t, 4, result.ExitCode)
	assert.Equal(t, "build -c Debug\n", result.Output)
	assert.Equal(t, "unsupported\n", result.ErrorOutput)
	assert.ElementsMatch(t, []string{"build -c Debug", "unsupported"}, sink.Lines())
}
