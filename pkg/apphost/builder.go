package apphost

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/core-tools/hsu-apphost/pkg/errors"
	"github.com/core-tools/hsu-apphost/pkg/logcollection"
	"github.com/core-tools/hsu-apphost/pkg/logging"
	"github.com/core-tools/hsu-apphost/pkg/process"
)

type BuildRequest struct {
	WorkingDirectory string
	Configuration    string
	Publish          bool
	ExtraArgs        []string
}

type BuildResult struct {
	ExitCode    int
	Output      string
	ErrorOutput string
}

// Builder compiles a project. A non-zero exit code is not an error;
// the caller decides whether the build succeeded.
type Builder interface {
	Build(ctx context.Context, request BuildRequest) (BuildResult, error)
}

// CommandBuilder runs "<launcher> build" or "<launcher> publish".
// Build output is echoed to Sink when set.
type CommandBuilder struct {
	Launcher  process.LauncherResolver
	Logger    logging.Logger
	Sink      OutputSink
	WaitDelay time.Duration
}

func (b *CommandBuilder) Build(ctx context.Context, request BuildRequest) (BuildResult, error) {
	logger := b.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	launcher := b.Launcher
	if launcher == nil {
		launcher = process.DefaultMuxer()
	}

	verb := "build"
	if request.Publish {
		verb = "publish"
	}
	args := append([]string{verb, "-c", request.Configuration}, request.ExtraArgs...)

	config := process.ExecutionConfig{
		ExecutablePath:   launcher.LauncherPath(),
		Args:             args,
		WorkingDirectory: request.WorkingDirectory,
		WaitDelay:        b.WaitDelay,
	}
	if sink := b.Sink; sink != nil {
		config.OnLine = func(_ logcollection.StreamType, line string) {
			sink.WriteLine(line)
		}
	}

	id := "build-" + uuid.NewString()
	proc, err := process.Run(config, id, logger)
	if err != nil {
		return BuildResult{ExitCode: -1}, err
	}

	code, err := proc.WaitForExit(ctx, false)
	if err != nil {
		if killErr := proc.Kill(); killErr != nil {
			logger.Warnf("Failed to kill build process, id: %s, error: %v", id, killErr)
		}
		<-proc.Done()
		return BuildResult{ExitCode: -1, Output: proc.Output(), ErrorOutput: proc.ErrorOutput()}, err
	}

	logger.Debugf("Build finished, id: %s, command: %s, exit code: %d", id, proc.Command(), code)
	return BuildResult{ExitCode: code, Output: proc.Output(), ErrorOutput: proc.ErrorOutput()}, nil
}

// runBuild asserts the build succeeded
func runBuild(ctx context.Context, builder Builder, request BuildRequest) error {
	result, err := builder.Build(ctx, request)
	if err != nil {
		if errors.IsCancelledError(err) || errors.IsTimeoutError(err) || errors.IsLaunchError(err) {
			return err
		}
		return errors.NewBuildFailedError("build failed", err).
			WithContext("working_directory", request.WorkingDirectory).
			WithOutput(result.Output, result.ErrorOutput)
	}
	if result.ExitCode != 0 {
		return errors.NewBuildFailedError("build exited with non-zero code", nil).
			WithContext("working_directory", request.WorkingDirectory).
			WithContext("configuration", request.Configuration).
			WithContext("exit_code", result.ExitCode).
			WithOutput(result.Output, result.ErrorOutput)
	}
	return nil
}
