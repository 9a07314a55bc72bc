package apphost

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-apphost/pkg/endpoint"
	"github.com/core-tools/hsu-apphost/pkg/errors"
	"github.com/core-tools/hsu-apphost/pkg/logcollection"
	"github.com/core-tools/hsu-apphost/pkg/monitoring"
	"github.com/core-tools/hsu-apphost/pkg/process"
	"github.com/core-tools/hsu-apphost/pkg/readiness"
)

func TestOptions_Defaults(t *testing.T) {
	options, err := Options{WorkingDirectory: "/src/App", ProjectName: "App"}.withDefaults()
	require.NoError(t, err)

	assert.Equal(t, DefaultFramework, options.Framework)
	assert.Equal(t, process.DefaultMuxer(), options.Launcher)
	assert.Equal(t, readiness.DefaultPrefix, options.Readiness.Prefix)
	assert.Equal(t, DefaultGracePeriod, options.Readiness.GracePeriod)
	assert.Equal(t, endpoint.DefaultLoopbackHost, options.Readiness.LoopbackHost)
	assert.Equal(t, DefaultBindAddressVariable, options.BindAddressVariable)
	assert.Equal(t, DefaultEnvironmentVariable, options.EnvironmentVariable)
	assert.IsType(t, &CommandBuilder{}, options.Builder)
	assert.IsType(t, NopSink{}, options.Sink)
	assert.Equal(t, DefaultStopTimeout, options.StopTimeout)

	assert.NotZero(t, options.HTTPPort)
	assert.NotZero(t, options.HTTPSPort)
	assert.NotEqual(t, options.HTTPPort, options.HTTPSPort)
}

func TestOptions_Validation(t *testing.T) {
	tests := []struct {
		name    string
		options Options
	}{
		{"missing_directory", Options{ProjectName: "App"}},
		{"missing_project", Options{WorkingDirectory: "/src"}},
		{"negative_port", Options{WorkingDirectory: "/src", ProjectName: "App", HTTPPort: -1}},
		{"port_too_large", Options{WorkingDirectory: "/src", ProjectName: "App", HTTPSPort: 70000}},
		{"same_ports", Options{WorkingDirectory: "/src", ProjectName: "App", HTTPPort: 5000, HTTPSPort: 5000}},
		{"negative_stop_timeout", Options{WorkingDirectory: "/src", ProjectName: "App", StopTimeout: -time.Second}},
		{"bad_probe", Options{WorkingDirectory: "/src", ProjectName: "App", Probe: monitoring.HealthCheckConfig{Type: "http"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.options.withDefaults()
			assert.True(t, errors.IsValidationError(err), "got %v", err)
		})
	}
}

func TestOptions_BuilderForwardsOutput(t *testing.T) {
	forwarded, err := Options{WorkingDirectory: "/src", ProjectName: "App", Sink: NopSink{}}.withDefaults()
	require.NoError(t, err)
	assert.NotNil(t, forwarded.Builder.(*CommandBuilder).Sink)

	suppressed, err := Options{WorkingDirectory: "/src", ProjectName: "App", SuppressOutput: true}.withDefaults()
	require.NoError(t, err)
	assert.Nil(t, suppressed.Builder.(*CommandBuilder).Sink)
}

func TestOptions_CommandReplacesProjectName(t *testing.T) {
	_, err := Options{WorkingDirectory: "/src", Command: []string{"app"}}.withDefaults()
	assert.NoError(t, err)
}

func TestOptions_BuildLayout(t *testing.T) {
	dir := filepath.Join("src", "App")

	debug := Options{WorkingDirectory: dir, ProjectName: "App", Framework: "netcoreapp3.0", HTTPPort: 5000, HTTPSPort: 5001}
	assert.Equal(t, dir, debug.launchDirectory())
	assert.Equal(t, filepath.Join("bin", "Debug", "netcoreapp3.0", "App.dll"), debug.entryArtifact())
	assert.Equal(t, BuildRequest{WorkingDirectory: dir, Configuration: "Debug"}, debug.buildRequest())

	publish := debug
	publish.Publish = true
	assert.Equal(t, filepath.Join(dir, "bin", "Release", "netcoreapp3.0", "publish"), publish.launchDirectory())
	assert.Equal(t, "App.dll", publish.entryArtifact())
	assert.Equal(t, BuildRequest{
		WorkingDirectory: dir,
		Configuration:    "Release",
		Publish:          true,
		ExtraArgs:        []string{"-p:PublishWithAspNetCoreTargetManifest=false"},
	}, publish.buildRequest())
}

func TestOptions_ExecutionConfig(t *testing.T) {
	options, err := Options{
		WorkingDirectory: "/src/App",
		ProjectName:      "App",
		HTTPPort:         5000,
		HTTPSPort:        5001,
		Launcher:         process.StaticLauncher("/usr/bin/dotnet"),
		Environment:      map[string]string{"EXTRA": "1", DefaultBindAddressVariable: "ignored"},
	}.withDefaults()
	require.NoError(t, err)

	config := options.executionConfig()
	assert.Equal(t, "/usr/bin/dotnet", config.ExecutablePath)
	assert.Equal(t, []string{"exec", filepath.Join("bin", "Debug", DefaultFramework, "App.dll")}, config.Args)
	assert.Equal(t, "/src/App", config.WorkingDirectory)
	assert.Equal(t, map[string]string{
		"EXTRA":                  "1",
		"ASPNETCORE_URLS":        "http://127.0.0.1:5000;https://127.0.0.1:5001",
		"ASPNETCORE_ENVIRONMENT": "Development",
	}, config.Environment)
	assert.NotNil(t, config.OnLine)

	options.Publish = true
	options.SuppressOutput = true
	config = options.executionConfig()
	assert.NotContains(t, config.Environment, "ASPNETCORE_ENVIRONMENT")
	assert.Equal(t, []string{"exec", "App.dll"}, config.Args)
	assert.Nil(t, config.OnLine)
}

func TestOptions_ForwardsLinesToSink(t *testing.T) {
	var lines []string
	options, err := Options{
		WorkingDirectory: "/src",
		Command:          []string{"app", "--flag"},
		Sink:             SinkFunc(func(line string) { lines = append(lines, line) }),
	}.withDefaults()
	require.NoError(t, err)

	config := options.executionConfig()
	assert.Equal(t, "app", config.ExecutablePath)
	assert.Equal(t, []string{"--flag"}, config.Args)

	config.OnLine(logcollection.StdoutStream, "hello")
	config.OnLine(logcollection.StderrStream, "oops")
	assert.Equal(t, []string{"hello", "oops"}, lines)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to AppState
		expected bool
	}{
		{StateBuilding, StateStarting, true},
		{StateStarting, StateWaitingForReadiness, true},
		{StateWaitingForReadiness, StateReady, true},
		{StateReady, StateDisposed, true},
		{StateBuilding, StateFailed, true},
		{StateWaitingForReadiness, StateFailed, true},
		{StateFailed, StateDisposed, true},
		{StateFailed, StateReady, false},
		{StateFailed, StateFailed, false},
		{StateDisposed, StateFailed, false},
		{StateDisposed, StateDisposed, false},
		{StateBuilding, StateReady, false},
		{StateReady, StateWaitingForReadiness, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.expected, canTransition(tt.from, tt.to))
		})
	}
}

func TestDispose_NilReceiver(t *testing.T) {
	var app *AppProcess
	assert.NoError(t, app.Dispose())
}
