// Package logger provides logging implementations for pastebridge
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/memtensor/pastebridge/pkg/interfaces"
)

// ZeroLogger adapts zerolog to the interfaces.Logger contract
type ZeroLogger struct {
	zl    zerolog.Logger
	Level string
	File  string
	exit  func(int)
}

// Debug logs debug level messages
func (l *ZeroLogger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(l.zl.Debug(), msg, fields...)
}

// Info logs info level messages
func (l *ZeroLogger) Info(msg string, fields ...map[string]interface{}) {
	l.log(l.zl.Info(), msg, fields...)
}

// Warn logs warning level messages
func (l *ZeroLogger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(l.zl.Warn(), msg, fields...)
}

// Error logs error level messages
func (l *ZeroLogger) Error(msg string, err error, fields ...map[string]interface{}) {
	evt := l.zl.Error()
	if err != nil {
		evt = evt.Err(err)
	}
	l.log(evt, msg, fields...)
}

// Fatal logs fatal level messages and exits
func (l *ZeroLogger) Fatal(msg string, err error, fields ...map[string]interface{}) {
	// WithLevel keeps zerolog from calling os.Exit before exit is consulted
	evt := l.zl.WithLevel(zerolog.FatalLevel)
	if err != nil {
		evt = evt.Err(err)
	}
	l.log(evt, msg, fields...)
	l.exit(1)
}

// WithFields returns a logger with additional fields
func (l *ZeroLogger) WithFields(fields map[string]interface{}) interfaces.Logger {
	return &ZeroLogger{
		zl:    l.zl.With().Fields(fields).Logger(),
		Level: l.Level,
		File:  l.File,
		exit:  l.exit,
	}
}

func (l *ZeroLogger) log(evt *zerolog.Event, msg string, fields ...map[string]interface{}) {
	if evt == nil {
		return
	}
	for _, fieldMap := range fields {
		evt = evt.Fields(fieldMap)
	}
	evt.Msg(msg)
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewWriterLogger creates a JSON logger writing to w
func NewWriterLogger(level string, w io.Writer) *ZeroLogger {
	zl := zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
	return &ZeroLogger{zl: zl, Level: level, exit: os.Exit}
}

// NewConsoleLogger creates a human-readable logger on stderr
func NewConsoleLogger(level string) interfaces.Logger {
	return NewWriterLogger(level, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// NewTestLogger creates a logger for testing
func NewTestLogger() interfaces.Logger {
	return NewWriterLogger("debug", io.Discard)
}

// NewLogger creates a JSON logger on stdout, or appending to file when set.
// The returned closer releases the file handle.
func NewLogger(level, file string) (interfaces.Logger, io.Closer, error) {
	if file == "" {
		return NewWriterLogger(level, os.Stdout), io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	l := NewWriterLogger(level, f)
	l.File = file
	return l, f, nil
}
