package readiness

import (
	"context"
	"strings"
	"time"

	"github.com/core-tools/hsu-apphost/pkg/errors"
	"github.com/core-tools/hsu-apphost/pkg/logcollection"
)

// DefaultPrefix is the startup line ASP.NET Core prints per bound address
const DefaultPrefix = "Now listening on: "

const (
	ReasonTimeout       = "timeout"
	ReasonProcessExited = "process_exited"
	ReasonStreamClosed  = "stream_closed"
)

// Line is a matched readiness line
type Line string

// LineSource is an ordered stream of lines that can be read by several cursors
type LineSource interface {
	NewCursor() *logcollection.Cursor
	String() string
}

// Matches reports whether line, with surrounding whitespace removed, starts
// with prefix. The comparison is byte-exact.
func Matches(line, prefix string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), prefix)
}

// ExtractURL returns the trimmed text following prefix
func ExtractURL(line Line, prefix string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(line)), prefix))
}

// exitSettleDelay bounds how long a closed stream waits for the exit signal,
// which lags the end of stdout while stderr and the wait status are collected
const exitSettleDelay = 500 * time.Millisecond

// Detect scans source from its first line for a line matching prefix.
// It fails with a readiness timeout when exited fires, the source ends, or
// timeout elapses before a match; lines already buffered when the process
// exited are still considered. The timeout holds even while lines keep
// arriving. A cancelled ctx yields a cancelled error.
// Detect consumes only its own cursor.
func Detect(ctx context.Context, source LineSource, prefix string, exited <-chan struct{}, timeout time.Duration) (Line, error) {
	cursor := source.NewCursor()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// stop blocking reads as soon as the process is gone
	exitCtx, exitCancel := context.WithCancel(waitCtx)
	defer exitCancel()
	if exited != nil {
		go func() {
			select {
			case <-exited:
				exitCancel()
			case <-exitCtx.Done():
			}
		}()
	}

	for {
		var line string
		var ok bool
		var err error

		select {
		case <-exitCtx.Done():
			err = exitCtx.Err()
		default:
			line, ok, err = cursor.Next(exitCtx)
		}

		if ok {
			if Matches(line, prefix) {
				return Line(line), nil
			}
			continue
		}
		if err == nil {
			return "", notReady(source, prefix, timeout, streamEndReason(waitCtx, exited))
		}

		switch {
		case ctx.Err() != nil:
			return "", errors.NewCancelledError("readiness wait cancelled", ctx.Err())
		case waitCtx.Err() != nil:
			return "", notReady(source, prefix, timeout, ReasonTimeout)
		}

		// process exited: whatever was already captured still counts
		for waitCtx.Err() == nil {
			line, ok, _ := cursor.TryNext()
			if !ok {
				return "", notReady(source, prefix, timeout, ReasonProcessExited)
			}
			if Matches(line, prefix) {
				return Line(line), nil
			}
		}
		return "", notReady(source, prefix, timeout, ReasonTimeout)
	}
}

// streamEndReason tells a process exit from a stream closed by a live process
func streamEndReason(ctx context.Context, exited <-chan struct{}) string {
	if exited == nil {
		return ReasonStreamClosed
	}
	timer := time.NewTimer(exitSettleDelay)
	defer timer.Stop()

	select {
	case <-exited:
		return ReasonProcessExited
	case <-timer.C:
	case <-ctx.Done():
	}
	return ReasonStreamClosed
}

func notReady(source LineSource, prefix string, timeout time.Duration, reason string) error {
	message := "no line starting with \"" + prefix + "\" within " + timeout.String()
	if reason != ReasonTimeout {
		message = "process output ended before a line starting with \"" + prefix + "\""
	}
	return errors.NewReadinessTimeoutError(message, nil).
		WithContext("reason", reason).
		WithContext("prefix", prefix).
		WithContext("timeout", timeout.String()).
		WithOutput(source.String(), "")
}
