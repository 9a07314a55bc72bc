package logcollection

import (
	"context"
	"fmt"

	"github.com/core-tools/hsu-apphost/pkg/logging"
)

// LoggerConfig defines configuration for creating a structured logger
type LoggerConfig struct {
	Backend    string `yaml:"backend"` // only "zap"
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	Caller     bool   `yaml:"caller"`
	Stacktrace bool   `yaml:"stacktrace"`
}

// DefaultLoggerConfig returns the configuration the CLI starts from
func DefaultLoggerConfig() LoggerConfig {
	zc := DefaultZapConfig()
	return LoggerConfig{
		Backend:    "zap",
		Level:      zc.Level,
		Format:     zc.Format,
		Output:     zc.Output,
		Caller:     zc.Caller,
		Stacktrace: zc.Stacktrace,
	}
}

// ValidateLoggerConfig validates a logger configuration
func ValidateLoggerConfig(cfg LoggerConfig) error {
	if cfg.Backend != "" && cfg.Backend != "zap" {
		return fmt.Errorf("invalid backend: %s", cfg.Backend)
	}
	if cfg.Format != "" && cfg.Format != "json" && cfg.Format != "console" {
		return fmt.Errorf("invalid format: %s", cfg.Format)
	}
	if _, ok := ParseLogLevel(cfg.Level); !ok {
		return fmt.Errorf("invalid level: %s", cfg.Level)
	}
	return nil
}

// NewStructuredLogger creates a structured logger from configuration
func NewStructuredLogger(cfg LoggerConfig) (*ZapAdapter, error) {
	if err := ValidateLoggerConfig(cfg); err != nil {
		return nil, err
	}
	return NewZapAdapter(ZapConfig{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		Caller:     cfg.Caller,
		Stacktrace: cfg.Stacktrace,
	})
}

// LoggerForApp scopes a structured logger to one hosted application
func LoggerForApp(appID string, base StructuredLogger) StructuredLogger {
	return base.WithApp(appID).WithFields(Component("apphost"))
}

// AsLogger exposes a StructuredLogger through the plain logging.Logger interface
func AsLogger(structured StructuredLogger) logging.Logger {
	return logging.NewLogger("", logging.LogFuncs{
		Debugf: structured.Debugf,
		Infof:  structured.Infof,
		Warnf:  structured.Warnf,
		Errorf: structured.Errorf,
	})
}

// WrapLogger gives a plain logger the structured interface; fields are rendered inline
func WrapLogger(simple logging.Logger) StructuredLogger {
	return &simpleLoggerWrapper{logger: simple}
}

type simpleLoggerWrapper struct {
	logger logging.Logger
	fields []LogField
}

func (w *simpleLoggerWrapper) Debugf(format string, args ...interface{}) {
	w.logger.Debugf("%s%s", fmt.Sprintf(format, args...), formatFields(w.fields))
}

func (w *simpleLoggerWrapper) Infof(format string, args ...interface{}) {
	w.logger.Infof("%s%s", fmt.Sprintf(format, args...), formatFields(w.fields))
}

func (w *simpleLoggerWrapper) Warnf(format string, args ...interface{}) {
	w.logger.Warnf("%s%s", fmt.Sprintf(format, args...), formatFields(w.fields))
}

func (w *simpleLoggerWrapper) Errorf(format string, args ...interface{}) {
	w.logger.Errorf("%s%s", fmt.Sprintf(format, args...), formatFields(w.fields))
}

func (w *simpleLoggerWrapper) LogWithContext(_ context.Context, level LogLevel, msg string, fields ...LogField) {
	all := append(append([]LogField{}, w.fields...), fields...)
	w.logger.LogLevelf(int(level), "%s%s", msg, formatFields(all))
}

func (w *simpleLoggerWrapper) LogWithFields(level LogLevel, msg string, fields ...LogField) {
	w.LogWithContext(context.Background(), level, msg, fields...)
}

func (w *simpleLoggerWrapper) WithFields(fields ...LogField) StructuredLogger {
	return &simpleLoggerWrapper{
		logger: w.logger,
		fields: append(append([]LogField{}, w.fields...), fields...),
	}
}

func (w *simpleLoggerWrapper) WithError(err error) StructuredLogger {
	return w.WithFields(Error(err))
}

func (w *simpleLoggerWrapper) WithApp(appID string) StructuredLogger {
	return w.WithFields(App(appID))
}

func (w *simpleLoggerWrapper) Sync() error {
	return nil
}
