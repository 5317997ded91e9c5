// Package testenv holds helpers shared by the package tests.
package testenv

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/buger/jsonparser"
	"github.com/rs/zerolog"
)

// LogWriter is a zerolog writer that prints the message index (starting from
// 0), level and message followed by the fields in the order they were added,
// without the timestamp. This keeps test log output deterministic.
type LogWriter struct {
	mu                  sync.Mutex
	out                 io.Writer
	index               int
	ignoreErrorPrefixes []string
	ignoreDebug         bool
}

// LogWriterOption is a function that configures a LogWriter
type LogWriterOption func(*LogWriter)

// WithOutput redirects the output, stdout by default.
func WithOutput(w io.Writer) LogWriterOption {
	return func(lw *LogWriter) {
		lw.out = w
	}
}

// WithIgnoreErrorPrefixes sets prefixes for error messages that should be ignored
func WithIgnoreErrorPrefixes(prefixes ...string) LogWriterOption {
	return func(lw *LogWriter) {
		lw.ignoreErrorPrefixes = append(lw.ignoreErrorPrefixes, prefixes...)
	}
}

// WithIgnoreDebug drops debug messages
func WithIgnoreDebug() LogWriterOption {
	return func(lw *LogWriter) {
		lw.ignoreDebug = true
	}
}

func NewLogWriter(opts ...LogWriterOption) *LogWriter {
	lw := &LogWriter{out: os.Stdout}
	for _, opt := range opts {
		opt(lw)
	}
	return lw
}

// NewLogger returns a zerolog.Logger writing through a new LogWriter.
func NewLogger(opts ...LogWriterOption) zerolog.Logger {
	return zerolog.New(NewLogWriter(opts...))
}

func (lw *LogWriter) Write(p []byte) (int, error) {
	level, _ := jsonparser.GetString(p, zerolog.LevelFieldName)
	msg, _ := jsonparser.GetString(p, zerolog.MessageFieldName)

	if level == zerolog.LevelDebugValue && lw.ignoreDebug {
		return len(p), nil
	}
	if level == zerolog.LevelErrorValue {
		for _, prefix := range lw.ignoreErrorPrefixes {
			if strings.HasPrefix(msg, prefix) {
				return len(p), nil
			}
		}
	}

	var fields []string
	err := jsonparser.ObjectEach(p, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		switch string(key) {
		case zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.TimestampFieldName:
			return nil
		}
		fields = append(fields, fmt.Sprintf("%s=%s", key, value))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to parse log event: %w", err)
	}

	lw.mu.Lock()
	defer lw.mu.Unlock()

	line := fmt.Sprintf("[%d] %s: %s", lw.index, strings.ToUpper(level), msg)
	if len(fields) > 0 {
		line += " " + strings.Join(fields, ", ")
	}
	lw.index++
	if _, err := fmt.Fprintln(lw.out, line); err != nil {
		return 0, err
	}
	return len(p), nil
}
