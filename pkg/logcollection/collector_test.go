package logcollection

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestStreamCollector_CapturesLinesAndCallsSink(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	sink := func(stream StreamType, line string) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(stream)+":"+line)
	}

	c := NewStreamCollector("app-1", StdoutStream, nil, nil, sink)
	c.Collect(strings.NewReader("first\nsecond\r\nthird"))

	<-c.Done()
	assert.True(t, c.Buffer().IsClosed())
	assert.Equal(t, []string{"first", "second", "third"}, c.Buffer().Lines())
	assert.Equal(t, []string{"stdout:first", "stdout:second", "stdout:third"}, seen)

	status := c.Status()
	assert.Equal(t, int64(3), status.LinesProcessed)
	assert.False(t, status.Active)
	assert.Empty(t, status.Errors)
}

func TestStreamCollector_OversizedLineIsTruncated(t *testing.T) {
	input := "before\n" + strings.Repeat("x", MaxLineSize+100_000) + "\nafter\nNow listening on: http://0.0.0.0:6001\n"

	c := NewStreamCollector("app-1", StderrStream, nil, nil, nil)
	c.Start(strings.NewReader(input))
	<-c.Done()

	lines := c.Buffer().Lines()
	require.Len(t, lines, 4)
	assert.Equal(t, "before", lines[0])
	assert.Len(t, lines[1], MaxLineSize)
	assert.Equal(t, "after", lines[2])
	assert.Equal(t, "Now listening on: http://0.0.0.0:6001", lines[3])

	status := c.Status()
	require.Len(t, status.Errors, 1)
	assert.Contains(t, status.Errors[0], "line 2 exceeds")
	assert.Equal(t, int64(4), status.LinesProcessed)
}

func TestStreamCollector_LineAtLimitIsKept(t *testing.T) {
	exact := strings.Repeat("y", MaxLineSize)

	c := NewStreamCollector("app-1", StdoutStream, nil, nil, nil)
	c.Collect(strings.NewReader(exact + "\r\nnext"))

	assert.Equal(t, []string{exact, "next"}, c.Buffer().Lines())
	assert.Empty(t, c.Status().Errors)
}

func TestStreamCollector_ForwardsToStructuredLogger(t *testing.T) {
	out := &syncBuffer{}
	logger, err := NewZapAdapter(ZapConfig{Level: "debug", Format: "json", Writer: out})
	require.NoError(t, err)

	c := NewStreamCollector("app-7", StderrStream, nil, logger, nil)
	c.Collect(strings.NewReader("boom\n"))
	require.NoError(t, logger.Sync())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out.String())), &entry))
	assert.Equal(t, "boom", entry["msg"])
	assert.Equal(t, "app-7", entry["app_id"])
	assert.Equal(t, "stderr", entry["stream"])
	assert.Equal(t, float64(1), entry["line_num"])
}
