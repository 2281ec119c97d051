package logging

import (
	"strings"
	"time"
)

// OutputBuffer keeps the most recent backend output lines regardless of the
// configured log level. It satisfies process.OutputHandler.
type OutputBuffer struct {
	ring   *RingBuffer
	module string
	parse  func(line string) (level, msg string)
}

// NewOutputBuffer creates a buffer holding up to size lines. parse may be
// nil, in which case every line is stored at info level.
func NewOutputBuffer(module string, size int, parse func(line string) (level, msg string)) *OutputBuffer {
	return &OutputBuffer{ring: NewRingBuffer(size), module: module, parse: parse}
}

// HandleLine stores one line of output from source (stdout or stderr).
func (b *OutputBuffer) HandleLine(source, line string) {
	level, msg := "info", line
	if b.parse != nil {
		level, msg = b.parse(line)
	}
	b.ring.Write(LogEntry{
		Timestamp:  time.Now(),
		Level:      strings.ToLower(level),
		Module:     b.module,
		Message:    msg,
		Attributes: map[string]any{"source": source},
	})
}

// Tail returns up to limit of the newest lines, oldest first. A non-empty
// source keeps only lines from that stream.
func (b *OutputBuffer) Tail(limit int, source string) []LogEntry {
	if source == "" {
		return b.ring.Tail(limit, nil)
	}
	return b.ring.Tail(limit, func(e LogEntry) bool {
		return e.Attributes["source"] == source
	})
}
