package logcollection

import (
	"context"
	"strings"
	"sync"
)

// LineBuffer is an append-only, ordered record of the lines of one stream.
// A single writer appends; any number of Cursors read it concurrently, each
// seeing every line exactly once and in order.
type LineBuffer struct {
	mu      sync.Mutex
	lines   []string
	closed  bool
	changed chan struct{}
}

func NewLineBuffer() *LineBuffer {
	return &LineBuffer{
		changed: make(chan struct{}),
	}
}

// Append adds a line and wakes blocked cursors. Appends after Close are dropped.
func (b *LineBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.lines = append(b.lines, line)
	b.broadcastLocked()
}

// Close marks the end of the stream; cursors finish once they drain it
func (b *LineBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.broadcastLocked()
}

func (b *LineBuffer) broadcastLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

func (b *LineBuffer) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *LineBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Lines returns a snapshot copy of every line captured so far
func (b *LineBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// String returns the captured text, one line per row
func (b *LineBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) == 0 {
		return ""
	}
	return strings.Join(b.lines, "\n") + "\n"
}

// NewCursor returns a reader positioned at the first line
func (b *LineBuffer) NewCursor() *Cursor {
	return &Cursor{buf: b}
}

// Cursor is a single-pass, forward-only view over a LineBuffer
type Cursor struct {
	buf *LineBuffer
	pos int
}

// TryNext returns the next line if one is already buffered.
// done is true when no more lines will ever arrive.
func (c *Cursor) TryNext() (line string, ok bool, done bool) {
	c.buf.mu.Lock()
	defer c.buf.mu.Unlock()
	if c.pos < len(c.buf.lines) {
		line = c.buf.lines[c.pos]
		c.pos++
		return line, true, false
	}
	return "", false, c.buf.closed
}

// Next blocks until a line is available, the stream ends (ok false, nil error),
// or ctx is done.
func (c *Cursor) Next(ctx context.Context) (string, bool, error) {
	for {
		c.buf.mu.Lock()
		if c.pos < len(c.buf.lines) {
			line := c.buf.lines[c.pos]
			c.pos++
			c.buf.mu.Unlock()
			return line, true, nil
		}
		if c.buf.closed {
			c.buf.mu.Unlock()
			return "", false, nil
		}
		changed := c.buf.changed
		c.buf.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

// Position is the number of lines this cursor has consumed
func (c *Cursor) Position() int {
	return c.pos
}
