package logcollection

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// MaxLineSize bounds a single captured line; longer lines are truncated to it
const MaxLineSize = 1024 * 1024

// StreamCollector drains one child stream into a LineBuffer
type StreamCollector struct {
	appID  string
	stream StreamType
	buffer *LineBuffer
	logger StructuredLogger
	sink   LineSink

	mu             sync.Mutex
	active         bool
	linesProcessed int64
	bytesProcessed int64
	lastActivity   time.Time
	errors         []string

	done chan struct{}
}

// NewStreamCollector creates a collector. logger and sink are optional;
// when logger is set every line is also forwarded as a structured entry.
func NewStreamCollector(appID string, stream StreamType, buffer *LineBuffer, logger StructuredLogger, sink LineSink) *StreamCollector {
	if buffer == nil {
		buffer = NewLineBuffer()
	}
	if logger != nil {
		logger = logger.WithFields(App(appID), Stream(stream))
	}
	return &StreamCollector{
		appID:  appID,
		stream: stream,
		buffer: buffer,
		logger: logger,
		sink:   sink,
		done:   make(chan struct{}),
	}
}

func (c *StreamCollector) Buffer() *LineBuffer {
	return c.buffer
}

// Done is closed once the reader returned and the buffer is closed
func (c *StreamCollector) Done() <-chan struct{} {
	return c.done
}

// Start begins reading in a new goroutine
func (c *StreamCollector) Start(r io.Reader) {
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()
	go c.run(r)
}

// Collect reads synchronously until r is exhausted
func (c *StreamCollector) Collect(r io.Reader) {
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()
	c.run(r)
}

func (c *StreamCollector) run(r io.Reader) {
	defer close(c.done)
	defer c.buffer.Close()

	reader := bufio.NewReaderSize(r, 64*1024)
	lineNum := int64(0)
	var pending []byte
	truncated := false

	emit := func() {
		lineNum++
		line := bytes.TrimSuffix(pending, []byte("\r"))
		if len(line) > MaxLineSize {
			line = line[:MaxLineSize]
			truncated = true
		}
		if truncated {
			c.recordError(fmt.Sprintf("line %d exceeds %d bytes, truncated", lineNum, MaxLineSize))
		}
		c.processLine(string(line), LogMetadata{
			Timestamp: time.Now(),
			AppID:     c.appID,
			Stream:    c.stream,
			LineNum:   lineNum,
		})
		pending = pending[:0]
		truncated = false
	}

	for {
		chunk, err := reader.ReadSlice('\n')
		chunk = bytes.TrimSuffix(chunk, []byte("\n"))
		// one extra byte leaves room for a trailing carriage return
		if room := MaxLineSize + 1 - len(pending); len(chunk) > room {
			chunk = chunk[:room]
			truncated = true
		}
		pending = append(pending, chunk...)

		switch {
		case err == nil:
			emit()
			continue
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		}

		if len(pending) > 0 || truncated {
			emit()
		}
		if !errors.Is(err, io.EOF) && !isClosedPipe(err) {
			c.recordError(fmt.Sprintf("stream reading error: %v", err))
			if c.logger != nil {
				c.logger.WithError(err).Warnf("Error reading from stream")
			}
		}
		break
	}

	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
}

func (c *StreamCollector) processLine(line string, metadata LogMetadata) {
	c.mu.Lock()
	c.linesProcessed++
	c.bytesProcessed += int64(len(line))
	c.lastActivity = metadata.Timestamp
	c.mu.Unlock()

	c.buffer.Append(line)

	if c.sink != nil {
		c.sink(metadata.Stream, line)
	}
	if c.logger != nil {
		c.logger.LogWithFields(InfoLevel, line, LineNum(metadata.LineNum))
	}
}

func (c *StreamCollector) recordError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, msg)
}

// Status returns a snapshot of the collector counters
func (c *StreamCollector) Status() CollectorStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	errs := make([]string, len(c.errors))
	copy(errs, c.errors)
	return CollectorStatus{
		AppID:          c.appID,
		Stream:         c.stream,
		Active:         c.active,
		LinesProcessed: c.linesProcessed,
		BytesProcessed: c.bytesProcessed,
		LastActivity:   c.lastActivity,
		Errors:         errs,
	}
}

func isClosedPipe(err error) bool {
	return errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed)
}
