package logcollection

import (
	"context"
	"time"
)

// StructuredLogger provides clean logging interface with complete backend hiding
type StructuredLogger interface {
	// Simple logging, compatible with logging.Logger
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	LogWithContext(ctx context.Context, level LogLevel, msg string, fields ...LogField)
	LogWithFields(level LogLevel, msg string, fields ...LogField)

	WithFields(fields ...LogField) StructuredLogger
	WithError(err error) StructuredLogger
	WithApp(appID string) StructuredLogger

	Sync() error
}

// LineSink receives every line captured from a child stream.
// It is called from the reader goroutine and must not block.
type LineSink func(stream StreamType, line string)

// LogLevel represents logging levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLogLevel maps a level name to a LogLevel; unknown names yield InfoLevel and false
func ParseLogLevel(name string) (LogLevel, bool) {
	switch name {
	case "debug":
		return DebugLevel, true
	case "info", "":
		return InfoLevel, true
	case "warn", "warning":
		return WarnLevel, true
	case "error":
		return ErrorLevel, true
	default:
		return InfoLevel, false
	}
}

// StreamType identifies the source stream
type StreamType string

const (
	StdoutStream StreamType = "stdout"
	StderrStream StreamType = "stderr"
)

// LogMetadata contains contextual information about a captured line
type LogMetadata struct {
	Timestamp time.Time
	AppID     string
	Stream    StreamType
	LineNum   int64
}

// CollectorStatus reports what a StreamCollector has read so far
type CollectorStatus struct {
	AppID          string     `json:"app_id"`
	Stream         StreamType `json:"stream"`
	Active         bool       `json:"active"`
	LinesProcessed int64      `json:"lines_processed"`
	BytesProcessed int64      `json:"bytes_processed"`
	LastActivity   time.Time  `json:"last_activity"`
	Errors         []string   `json:"errors,omitempty"`
}
