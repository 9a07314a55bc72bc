package apphost

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-apphost/pkg/errors"
	"github.com/core-tools/hsu-apphost/pkg/logcollection"
	"github.com/core-tools/hsu-apphost/pkg/logging"
	"github.com/core-tools/hsu-apphost/pkg/monitoring"
	"github.com/core-tools/hsu-apphost/pkg/process"
	"github.com/core-tools/hsu-apphost/pkg/processfile"
	"github.com/core-tools/hsu-apphost/pkg/readiness"
)

// Config represents the configuration file structure
type Config struct {
	App          AppConfig                      `yaml:"app"`
	Launcher     LauncherConfig                 `yaml:"launcher,omitempty"`
	Readiness    ReadinessConfig                `yaml:"readiness,omitempty"`
	Probe        monitoring.HealthCheckConfig   `yaml:"probe,omitempty"`
	ProcessFiles *processfile.ProcessFileConfig `yaml:"process_files,omitempty"` // Optional, no files when unset
	Logging      LoggingConfig                  `yaml:"logging,omitempty"`
}

type AppConfig struct {
	WorkingDirectory string            `yaml:"working_directory"`
	ProjectName      string            `yaml:"project_name"`
	Publish          bool              `yaml:"publish,omitempty"`
	Framework        string            `yaml:"framework,omitempty"`
	HTTPPort         int               `yaml:"http_port,omitempty"`
	HTTPSPort        int               `yaml:"https_port,omitempty"`
	SkipBuild        bool              `yaml:"skip_build,omitempty"`
	BuildArgs        []string          `yaml:"build_args,omitempty"`
	Command          []string          `yaml:"command,omitempty"`
	EnvironmentName  string            `yaml:"environment_name,omitempty"`
	Environment      map[string]string `yaml:"environment,omitempty"`
	StopTimeout      time.Duration     `yaml:"stop_timeout,omitempty"`
	DisposeTimeout   time.Duration     `yaml:"dispose_timeout,omitempty"`
}

// LauncherConfig selects the runtime launcher. Path wins over the muxer lookup.
type LauncherConfig struct {
	Path   string `yaml:"path,omitempty"`
	EnvVar string `yaml:"env_var,omitempty"`
	Name   string `yaml:"name,omitempty"`
}

type ReadinessConfig struct {
	Prefix       string        `yaml:"prefix,omitempty"`
	GracePeriod  time.Duration `yaml:"grace_period,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	LoopbackHost string        `yaml:"loopback_host,omitempty"`
}

type LoggingConfig struct {
	logcollection.LoggerConfig `yaml:",inline"`

	// Echo application output lines to the progress sink
	ForwardOutput *bool `yaml:"forward_output,omitempty"` // Pointer to distinguish unset from false

	// Also log application output lines through the structured logger
	CollectOutput bool `yaml:"collect_output,omitempty"`
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config, err := ParseConfig(data)
	if err != nil {
		if domainErr, ok := err.(*errors.DomainError); ok {
			return nil, domainErr.WithContext("filename", filename)
		}
		return nil, err
	}
	return config, nil
}

// ParseConfig parses YAML configuration and applies defaults
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err)
	}

	setConfigDefaults(&config)
	return &config, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *Config) {
	if config.App.Framework == "" {
		config.App.Framework = DefaultFramework
	}
	if config.App.EnvironmentName == "" {
		config.App.EnvironmentName = DefaultEnvironmentName
	}
	if config.App.DisposeTimeout == 0 {
		config.App.DisposeTimeout = DefaultDisposeTimeout
	}
	if config.App.StopTimeout == 0 {
		config.App.StopTimeout = DefaultStopTimeout
	}

	if config.Launcher.Path == "" {
		muxer := process.DefaultMuxer()
		if config.Launcher.EnvVar == "" {
			config.Launcher.EnvVar = muxer.EnvVar
		}
		if config.Launcher.Name == "" {
			config.Launcher.Name = muxer.Name
		}
	}

	if config.Readiness.Prefix == "" {
		config.Readiness.Prefix = readiness.DefaultPrefix
	}
	if config.Readiness.GracePeriod == 0 {
		config.Readiness.GracePeriod = DefaultGracePeriod
	}
	if config.Readiness.Timeout == 0 {
		config.Readiness.Timeout = DefaultReadinessTimeout
	}

	if config.Probe.Enabled() && config.Probe.RunOptions == (monitoring.HealthCheckRunOptions{}) {
		config.Probe.RunOptions = monitoring.DefaultHealthCheckRunOptions()
	}

	defaults := logcollection.DefaultLoggerConfig()
	if config.Logging.Backend == "" {
		config.Logging.Backend = defaults.Backend
	}
	if config.Logging.Level == "" {
		config.Logging.Level = defaults.Level
	}
	if config.Logging.Format == "" {
		config.Logging.Format = defaults.Format
	}
	if config.Logging.Output == "" {
		config.Logging.Output = defaults.Output
	}
	if config.Logging.ForwardOutput == nil {
		forward := true
		config.Logging.ForwardOutput = &forward
	}
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	app := config.App
	if app.WorkingDirectory == "" {
		return errors.NewValidationError("invalid app configuration: working directory is required", nil)
	}
	if app.ProjectName == "" && len(app.Command) == 0 {
		return errors.NewValidationError("invalid app configuration: project name or command is required", nil)
	}
	if app.HTTPPort < 0 || app.HTTPPort > 65535 || app.HTTPSPort < 0 || app.HTTPSPort > 65535 {
		return errors.NewValidationError("invalid app configuration: ports must be between 0 and 65535", nil).
			WithContext("http_port", app.HTTPPort).
			WithContext("https_port", app.HTTPSPort)
	}
	if app.DisposeTimeout < 0 || app.StopTimeout < 0 {
		return errors.NewValidationError("invalid app configuration: timeouts cannot be negative", nil)
	}

	if config.Readiness.GracePeriod < 0 || config.Readiness.Timeout < 0 {
		return errors.NewValidationError("invalid readiness configuration: durations cannot be negative", nil)
	}

	if config.Probe.Enabled() {
		if err := monitoring.ValidateHealthCheckConfig(config.Probe); err != nil {
			return errors.NewValidationError("invalid probe configuration", err)
		}
	}

	if err := logcollection.ValidateLoggerConfig(config.Logging.LoggerConfig); err != nil {
		return errors.NewValidationError("invalid logging configuration", err)
	}

	return nil
}

// launcher resolves the configured launcher
func (c *Config) launcher() process.LauncherResolver {
	if c.Launcher.Path != "" {
		return process.StaticLauncher(c.Launcher.Path)
	}
	return process.MuxerResolver{EnvVar: c.Launcher.EnvVar, Name: c.Launcher.Name}
}

// ToOptions turns a validated configuration into start options
func (c *Config) ToOptions(logger logging.Logger, sink OutputSink) Options {
	options := Options{
		WorkingDirectory: c.App.WorkingDirectory,
		ProjectName:      c.App.ProjectName,
		Publish:          c.App.Publish,
		Framework:        c.App.Framework,
		SkipBuild:        c.App.SkipBuild,
		BuildArgs:        c.App.BuildArgs,
		HTTPPort:         c.App.HTTPPort,
		HTTPSPort:        c.App.HTTPSPort,
		Command:          c.App.Command,
		Launcher:         c.launcher(),
		Sink:             sink,
		Logger:           logger,
		Readiness: ReadinessOptions{
			Prefix:       c.Readiness.Prefix,
			GracePeriod:  c.Readiness.GracePeriod,
			Timeout:      c.Readiness.Timeout,
			LoopbackHost: c.Readiness.LoopbackHost,
		},
		Probe:           c.Probe,
		EnvironmentName: c.App.EnvironmentName,
		Environment:     c.App.Environment,
		StopTimeout:     c.App.StopTimeout,
		DisposeTimeout:  c.App.DisposeTimeout,
	}
	if c.Logging.ForwardOutput != nil {
		options.SuppressOutput = !*c.Logging.ForwardOutput
	}
	if c.ProcessFiles != nil {
		options.ProcessFiles = processfile.NewProcessFileManager(*c.ProcessFiles, logger)
	}
	return options
}
