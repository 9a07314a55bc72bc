package logcollection

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapAdapter is the zap backed StructuredLogger
type ZapAdapter struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	closer io.Closer
}

// ZapConfig defines zap specific configuration
type ZapConfig struct {
	Level      string    `yaml:"level"`  // "debug", "info", "warn", "error"
	Format     string    `yaml:"format"` // "json", "console"
	Output     string    `yaml:"output"` // "stdout", "stderr", file path
	Caller     bool      `yaml:"caller"`
	Stacktrace bool      `yaml:"stacktrace"`
	Writer     io.Writer `yaml:"-"` // overrides Output when set
}

// DefaultZapConfig returns the configuration used by the CLI
func DefaultZapConfig() ZapConfig {
	return ZapConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stderr",
		Caller:     false,
		Stacktrace: true,
	}
}

// NewZapAdapter creates a new zap backend adapter
func NewZapAdapter(config ZapConfig) (*ZapAdapter, error) {
	zapLogger, closer, err := createZapLogger(config)
	if err != nil {
		return nil, err
	}

	return &ZapAdapter{
		logger: zapLogger,
		sugar:  zapLogger.Sugar(),
		closer: closer,
	}, nil
}

func (z *ZapAdapter) Debugf(format string, args ...interface{}) {
	z.sugar.Debugf(format, args...)
}

func (z *ZapAdapter) Infof(format string, args ...interface{}) {
	z.sugar.Infof(format, args...)
}

func (z *ZapAdapter) Warnf(format string, args ...interface{}) {
	z.sugar.Warnf(format, args...)
}

func (z *ZapAdapter) Errorf(format string, args ...interface{}) {
	z.sugar.Errorf(format, args...)
}

// LogWithContext logs with fields, adding a deadline field when ctx carries one
func (z *ZapAdapter) LogWithContext(ctx context.Context, level LogLevel, msg string, fields ...LogField) {
	zapFields := z.convertFields(fields)
	if ctx != nil {
		if deadline, ok := ctx.Deadline(); ok {
			zapFields = append(zapFields, zap.Duration("deadline_in", time.Until(deadline)))
		}
	}
	z.logAtLevel(level, msg, zapFields...)
}

func (z *ZapAdapter) LogWithFields(level LogLevel, msg string, fields ...LogField) {
	z.logAtLevel(level, msg, z.convertFields(fields)...)
}

// WithFields creates a child logger carrying the given fields
func (z *ZapAdapter) WithFields(fields ...LogField) StructuredLogger {
	newLogger := z.logger.With(z.convertFields(fields)...)
	return &ZapAdapter{
		logger: newLogger,
		sugar:  newLogger.Sugar(),
	}
}

func (z *ZapAdapter) WithError(err error) StructuredLogger {
	return z.WithFields(Error(err))
}

func (z *ZapAdapter) WithApp(appID string) StructuredLogger {
	return z.WithFields(App(appID))
}

// Sync flushes buffered entries
func (z *ZapAdapter) Sync() error {
	return z.logger.Sync()
}

// Close flushes and releases an owned log file, if any
func (z *ZapAdapter) Close() error {
	_ = z.logger.Sync()
	if z.closer != nil {
		return z.closer.Close()
	}
	return nil
}

func (z *ZapAdapter) convertFields(fields []LogField) []zap.Field {
	zapFields := make([]zap.Field, len(fields))
	for i, field := range fields {
		zapFields[i] = convertField(field)
	}
	return zapFields
}

func convertField(field LogField) zap.Field {
	switch field.Type {
	case StringField:
		if v, ok := field.Value.(string); ok {
			return zap.String(field.Key, v)
		}
	case IntField:
		if v, ok := field.Value.(int); ok {
			return zap.Int(field.Key, v)
		}
	case Int64Field:
		if v, ok := field.Value.(int64); ok {
			return zap.Int64(field.Key, v)
		}
	case BoolField:
		if v, ok := field.Value.(bool); ok {
			return zap.Bool(field.Key, v)
		}
	case DurationField:
		if v, ok := field.Value.(time.Duration); ok {
			return zap.Duration(field.Key, v)
		}
	case TimeField:
		if v, ok := field.Value.(time.Time); ok {
			return zap.Time(field.Key, v)
		}
	case ErrorField:
		if err, ok := field.Value.(error); ok {
			return zap.NamedError(field.Key, err)
		}
		return zap.String(field.Key, "invalid error field")
	}
	return zap.Any(field.Key, field.Value)
}

func (z *ZapAdapter) logAtLevel(level LogLevel, msg string, fields ...zap.Field) {
	switch level {
	case DebugLevel:
		z.logger.Debug(msg, fields...)
	case WarnLevel:
		z.logger.Warn(msg, fields...)
	case ErrorLevel:
		z.logger.Error(msg, fields...)
	default:
		z.logger.Info(msg, fields...)
	}
}

func createZapLogger(config ZapConfig) (*zap.Logger, io.Closer, error) {
	// zap v1.20 has no zapcore.ParseLevel
	level, err := getLevelFromString(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	switch config.Format {
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var closer io.Closer
	var writeSyncer zapcore.WriteSyncer
	switch {
	case config.Writer != nil:
		writeSyncer = zapcore.AddSync(config.Writer)
	case config.Output == "stdout":
		writeSyncer = zapcore.Lock(os.Stdout)
	case config.Output == "stderr" || config.Output == "":
		writeSyncer = zapcore.Lock(os.Stderr)
	default:
		f, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log output %s: %w", config.Output, err)
		}
		writeSyncer = zapcore.Lock(f)
		closer = f
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)

	opts := []zap.Option{}
	if config.Caller {
		opts = append(opts, zap.AddCaller())
	}
	if config.Stacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return zap.New(core, opts...), closer, nil
}

func getLevelFromString(levelStr string) (zapcore.Level, error) {
	switch levelStr {
	case "debug":
		return zap.DebugLevel, nil
	case "info":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return -1, fmt.Errorf("invalid log level: %s", levelStr)
	}
}
