package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	sprintfLogging "github.com/core-tools/hsu-core/pkg/logging/sprintf"

	"github.com/core-tools/hsu-apphost/pkg/apphost"
	"github.com/core-tools/hsu-apphost/pkg/logcollection"
	"github.com/core-tools/hsu-apphost/pkg/logging"
	"github.com/core-tools/hsu-apphost/pkg/processfile"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config       string        `long:"config" short:"c" description:"path to a YAML configuration file"`
	Dir          string        `long:"dir" description:"project directory"`
	Project      string        `long:"project" description:"project name, the entry artifact is <project>.dll"`
	Publish      bool          `long:"publish" description:"publish in Release and run the published output"`
	HTTPPort     int           `long:"http-port" description:"HTTP port, allocated when zero"`
	HTTPSPort    int           `long:"https-port" description:"HTTPS port, allocated when zero"`
	Framework    string        `long:"framework" description:"target framework moniker"`
	Timeout      time.Duration `long:"timeout" description:"readiness timeout"`
	SkipBuild    bool          `long:"skip-build" description:"launch the existing build output"`
	LogLevel     string        `long:"log-level" description:"structured log level (debug, info, warn, error)"`
	Structured   bool          `long:"structured" description:"log through zap instead of the console logger"`
	CleanupStale bool          `long:"cleanup-stale" description:"kill applications left behind by crashed hosts and exit"`
	ProcessFiles string        `long:"process-files" description:"directory for PID and port files"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	config, err := loadConfig(opts)
	if err != nil {
		fmt.Printf("Configuration failed: %v\n", err)
		os.Exit(1)
	}

	logger, structured, err := newLogger(opts, config)
	if err != nil {
		fmt.Printf("Logger setup failed: %v\n", err)
		os.Exit(1)
	}

	logger.Infof("opts: %+v", opts)

	var code int
	if opts.CleanupStale {
		code = cleanupStale(config, logger)
	} else if err := apphost.ValidateConfig(config); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		code = 1
	} else {
		code = run(config, logger, structured)
	}

	if structured != nil {
		_ = structured.Sync()
	}
	os.Exit(code)
}

func loadConfig(opts flagOptions) (*apphost.Config, error) {
	var config *apphost.Config
	var err error
	if opts.Config != "" {
		config, err = apphost.LoadConfigFromFile(opts.Config)
	} else {
		config, err = apphost.ParseConfig(nil)
	}
	if err != nil {
		return nil, err
	}

	// flags override file values
	if opts.Dir != "" {
		config.App.WorkingDirectory = opts.Dir
	}
	if opts.Project != "" {
		config.App.ProjectName = opts.Project
	}
	if opts.Publish {
		config.App.Publish = true
	}
	if opts.HTTPPort != 0 {
		config.App.HTTPPort = opts.HTTPPort
	}
	if opts.HTTPSPort != 0 {
		config.App.HTTPSPort = opts.HTTPSPort
	}
	if opts.Framework != "" {
		config.App.Framework = opts.Framework
	}
	if opts.SkipBuild {
		config.App.SkipBuild = true
	}
	if opts.Timeout != 0 {
		config.Readiness.Timeout = opts.Timeout
	}
	if opts.LogLevel != "" {
		config.Logging.Level = opts.LogLevel
	}
	if opts.ProcessFiles != "" {
		config.ProcessFiles = &processfile.ProcessFileConfig{BaseDirectory: opts.ProcessFiles}
	}
	if config.ProcessFiles == nil {
		config.ProcessFiles = &processfile.ProcessFileConfig{}
	}
	return config, nil
}

func newLogger(opts flagOptions, config *apphost.Config) (logging.Logger, logcollection.StructuredLogger, error) {
	if opts.Structured || config.Logging.CollectOutput {
		zapLogger, err := logcollection.NewStructuredLogger(config.Logging.LoggerConfig)
		if err != nil {
			return nil, nil, err
		}
		return logging.WithPrefix(logcollection.AsLogger(zapLogger), logPrefix("hsu-apphost")), zapLogger, nil
	}

	console := sprintfLogging.NewStdSprintfLogger()
	return logging.NewLogger(
		logPrefix("hsu-apphost"), logging.LogFuncs{
			Debugf: console.Debugf,
			Infof:  console.Infof,
			Warnf:  console.Warnf,
			Errorf: console.Errorf,
		}), nil, nil
}

func cleanupStale(config *apphost.Config, logger logging.Logger) int {
	files := processfile.NewProcessFileManager(*config.ProcessFiles, logger)
	stale, err := files.CleanupStale()
	for _, s := range stale {
		logger.Infof("Cleaned up stale app, id: %s, PID: %d, host PID: %d, was running: %t, PID reused: %t", s.AppID, s.PID, s.HostPID, s.Running, s.PIDReused)
	}
	if err != nil {
		logger.Errorf("Stale cleanup failed: %v", err)
		return 1
	}
	logger.Infof("Stale cleanup done, apps: %d", len(stale))
	return 0
}

func run(config *apphost.Config, logger logging.Logger, structured logcollection.StructuredLogger) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	go func() {
		select {
		case receivedSignal := <-sig:
			logger.Infof("Received signal: %v", receivedSignal)
			cancel()
		case <-ctx.Done():
		}
	}()

	options := config.ToOptions(logger, apphost.LoggerSink{Logger: logger})
	if config.Logging.CollectOutput && structured != nil {
		options.OutputLogger = structured
	}

	app, err := apphost.Start(ctx, options)
	if err != nil {
		logger.Errorf("Failed to start app: %v", err)
		return 1
	}
	defer func() {
		if err := app.Dispose(); err != nil {
			logger.Errorf("Failed to dispose app: %v", err)
		}
	}()

	url, err := app.WaitUntilReady(ctx, 0)
	if err != nil {
		logger.Errorf("App did not become ready: %v", err)
		return 1
	}

	fmt.Println(url.String())

	select {
	case <-ctx.Done():
		logger.Infof("Stopping app, id: %s", app.ID())
		return 0
	case <-app.Done():
		logger.Errorf("App exited unexpectedly, id: %s", app.ID())
		return 1
	}
}
