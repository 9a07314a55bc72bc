package apphost

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/phayes/freeport"

	"github.com/core-tools/hsu-apphost/pkg/endpoint"
	"github.com/core-tools/hsu-apphost/pkg/errors"
	"github.com/core-tools/hsu-apphost/pkg/logcollection"
	"github.com/core-tools/hsu-apphost/pkg/logging"
	"github.com/core-tools/hsu-apphost/pkg/monitoring"
	"github.com/core-tools/hsu-apphost/pkg/process"
	"github.com/core-tools/hsu-apphost/pkg/processfile"
	"github.com/core-tools/hsu-apphost/pkg/readiness"
)

const (
	DefaultFramework           = "netcoreapp3.0"
	DefaultAppLabel            = "ASP.NET application"
	DefaultBindAddressVariable = "ASPNETCORE_URLS"
	DefaultEnvironmentVariable = "ASPNETCORE_ENVIRONMENT"
	DefaultEnvironmentName     = "Development"

	DefaultGracePeriod      = time.Second
	DefaultReadinessTimeout = 30 * time.Second
	DefaultDisposeTimeout   = 5 * time.Second
	DefaultStopTimeout      = 2 * time.Second

	publishConfiguration = "Release"
	buildConfiguration   = "Debug"
)

type ReadinessOptions struct {
	// Line prefix announcing the listening address
	Prefix string

	// How long the process must survive after spawn before it counts as started
	GracePeriod time.Duration

	// Default for WaitUntilReady when it is called without a timeout
	Timeout time.Duration

	// Host substituted for wildcard hosts in the reported URL
	LoopbackHost string
}

type Options struct {
	// Project root directory
	WorkingDirectory string

	// Base name of the entry artifact, <ProjectName>.dll
	ProjectName string

	// Publish runs a Release publish and launches from the publish directory
	Publish bool

	Framework string
	SkipBuild bool
	BuildArgs []string

	// Zero ports are allocated from free local ports
	HTTPPort  int
	HTTPSPort int

	// Command replaces the "<launcher> exec <entry>" invocation when set
	Command []string

	Builder  Builder
	Launcher process.LauncherResolver

	Sink           OutputSink
	SuppressOutput bool
	Logger         logging.Logger
	OutputLogger   logcollection.StructuredLogger
	AppLabel       string

	Readiness ReadinessOptions
	Probe     monitoring.HealthCheckConfig

	BindAddressVariable string
	EnvironmentVariable string
	EnvironmentName     string
	Environment         map[string]string

	ProcessFiles *processfile.ProcessFileManager

	WaitDelay time.Duration

	// How long Dispose waits after the termination signal before killing
	StopTimeout    time.Duration
	DisposeTimeout time.Duration
}

// withDefaults fills unset options and allocates ports
func (o Options) withDefaults() (Options, error) {
	if o.Framework == "" {
		o.Framework = DefaultFramework
	}
	if o.AppLabel == "" {
		o.AppLabel = DefaultAppLabel
	}
	if o.Launcher == nil {
		o.Launcher = process.DefaultMuxer()
	}
	if o.Logger == nil {
		o.Logger = logging.NewNopLogger()
	}
	if o.Sink == nil {
		o.Sink = NopSink{}
	}
	if o.Builder == nil {
		builder := &CommandBuilder{Launcher: o.Launcher, Logger: o.Logger, WaitDelay: o.WaitDelay}
		if !o.SuppressOutput {
			builder.Sink = o.Sink
		}
		o.Builder = builder
	}
	if o.Readiness.Prefix == "" {
		o.Readiness.Prefix = readiness.DefaultPrefix
	}
	if o.Readiness.GracePeriod == 0 {
		o.Readiness.GracePeriod = DefaultGracePeriod
	}
	if o.Readiness.Timeout == 0 {
		o.Readiness.Timeout = DefaultReadinessTimeout
	}
	if o.Readiness.LoopbackHost == "" {
		o.Readiness.LoopbackHost = endpoint.DefaultLoopbackHost
	}
	if o.BindAddressVariable == "" {
		o.BindAddressVariable = DefaultBindAddressVariable
	}
	if o.EnvironmentVariable == "" {
		o.EnvironmentVariable = DefaultEnvironmentVariable
	}
	if o.EnvironmentName == "" {
		o.EnvironmentName = DefaultEnvironmentName
	}
	if o.DisposeTimeout == 0 {
		o.DisposeTimeout = DefaultDisposeTimeout
	}
	if o.StopTimeout == 0 {
		o.StopTimeout = DefaultStopTimeout
	}

	if err := o.validate(); err != nil {
		return o, err
	}

	if err := o.allocatePorts(); err != nil {
		return o, err
	}
	return o, nil
}

func (o Options) validate() error {
	if o.WorkingDirectory == "" {
		return errors.NewValidationError("working directory is required", nil)
	}
	if o.ProjectName == "" && len(o.Command) == 0 {
		return errors.NewValidationError("project name is required", nil)
	}
	if o.HTTPPort < 0 || o.HTTPPort > 65535 {
		return errors.NewValidationError("invalid HTTP port", nil).WithContext("port", o.HTTPPort)
	}
	if o.HTTPSPort < 0 || o.HTTPSPort > 65535 {
		return errors.NewValidationError("invalid HTTPS port", nil).WithContext("port", o.HTTPSPort)
	}
	if o.HTTPPort != 0 && o.HTTPPort == o.HTTPSPort {
		return errors.NewValidationError("HTTP and HTTPS ports must differ", nil).WithContext("port", o.HTTPPort)
	}
	if o.Readiness.GracePeriod < 0 || o.Readiness.Timeout < 0 || o.DisposeTimeout < 0 || o.StopTimeout < 0 {
		return errors.NewValidationError("durations cannot be negative", nil)
	}
	if o.Probe.Enabled() {
		if err := monitoring.ValidateHealthCheckConfig(o.probeConfig()); err != nil {
			return errors.NewValidationError("invalid readiness probe", err)
		}
	}
	return nil
}

func (o Options) probeConfig() monitoring.HealthCheckConfig {
	config := o.Probe
	if config.RunOptions == (monitoring.HealthCheckRunOptions{}) {
		config.RunOptions = monitoring.DefaultHealthCheckRunOptions()
	}
	return config
}

func (o *Options) allocatePorts() error {
	if o.HTTPPort == 0 {
		port, err := freePortExcept(o.HTTPSPort)
		if err != nil {
			return err
		}
		o.HTTPPort = port
	}
	if o.HTTPSPort == 0 {
		port, err := freePortExcept(o.HTTPPort)
		if err != nil {
			return err
		}
		o.HTTPSPort = port
	}
	return nil
}

func freePortExcept(taken int) (int, error) {
	for attempt := 0; attempt < 3; attempt++ {
		port, err := freeport.GetFreePort()
		if err != nil {
			return 0, errors.NewNetworkError("failed to allocate a free port", err)
		}
		if port != taken {
			return port, nil
		}
	}
	return 0, errors.NewNetworkError("failed to allocate a distinct free port", nil)
}

// launchDirectory is where the application process runs
func (o Options) launchDirectory() string {
	if o.Publish {
		return filepath.Join(o.WorkingDirectory, "bin", publishConfiguration, o.Framework, "publish")
	}
	return o.WorkingDirectory
}

// entryArtifact is the compiled entry point relative to launchDirectory
func (o Options) entryArtifact() string {
	if o.Publish {
		return o.ProjectName + ".dll"
	}
	return filepath.Join("bin", buildConfiguration, o.Framework, o.ProjectName+".dll")
}

func (o Options) buildRequest() BuildRequest {
	request := BuildRequest{
		WorkingDirectory: o.WorkingDirectory,
		Publish:          o.Publish,
		Configuration:    buildConfiguration,
	}
	if o.Publish {
		request.Configuration = publishConfiguration
		request.ExtraArgs = append(request.ExtraArgs, "-p:PublishWithAspNetCoreTargetManifest=false")
	}
	request.ExtraArgs = append(request.ExtraArgs, o.BuildArgs...)
	return request
}

func (o Options) bindAddresses() string {
	return fmt.Sprintf("http://127.0.0.1:%d;https://127.0.0.1:%d", o.HTTPPort, o.HTTPSPort)
}

func (o Options) executionConfig() process.ExecutionConfig {
	environment := make(map[string]string, len(o.Environment)+2)
	for key, value := range o.Environment {
		environment[key] = value
	}
	environment[o.BindAddressVariable] = o.bindAddresses()
	if !o.Publish {
		environment[o.EnvironmentVariable] = o.EnvironmentName
	}

	config := process.ExecutionConfig{
		WorkingDirectory: o.launchDirectory(),
		Environment:      environment,
		WaitDelay:        o.WaitDelay,
		OutputLogger:     o.OutputLogger,
	}
	if len(o.Command) > 0 {
		config.ExecutablePath = o.Command[0]
		config.Args = append([]string(nil), o.Command[1:]...)
	} else {
		config.ExecutablePath = o.Launcher.LauncherPath()
		config.Args = []string{"exec", o.entryArtifact()}
	}
	if !o.SuppressOutput {
		sink := o.Sink
		config.OnLine = func(_ logcollection.StreamType, line string) {
			sink.WriteLine(line)
		}
	}
	return config
}
