package apphost

import (
	"github.com/core-tools/hsu-apphost/pkg/logging"
)

// OutputSink receives human readable progress lines. WriteLine must not block.
type OutputSink interface {
	WriteLine(line string)
}

// TestLogger is the part of testing.TB a TestSink needs
type TestLogger interface {
	Logf(format string, args ...interface{})
}

// TestSink writes progress lines to a test log
type TestSink struct {
	T TestLogger
}

func (s TestSink) WriteLine(line string) {
	s.T.Logf("%s", line)
}

// LoggerSink writes progress lines as info messages
type LoggerSink struct {
	Logger logging.Logger
}

func (s LoggerSink) WriteLine(line string) {
	s.Logger.Infof("%s", line)
}

// SinkFunc adapts a function to OutputSink
type SinkFunc func(line string)

func (f SinkFunc) WriteLine(line string) {
	f(line)
}

// NopSink discards everything
type NopSink struct{}

func (NopSink) WriteLine(string) {}
