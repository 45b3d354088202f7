// Package logging is the leveled logger shared by every component. It wraps
// log/slog behind a small package-level API so call sites read like
// log.Debugf / log.WithField(...).Warn(...).
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

var (
	defaultLogger *slog.Logger
	logLevel                = new(slog.LevelVar)
	logOutput     io.Writer = os.Stdout
	outputMu      sync.RWMutex
	addSource     = true
	nowFunc       = time.Now
)

// Fields is a set of structured attributes attached to a single entry.
type Fields map[string]any

const (
	DebugLevel = slog.LevelDebug
	InfoLevel  = slog.LevelInfo
	WarnLevel  = slog.LevelWarn
	ErrorLevel = slog.LevelError
)

func init() {
	logLevel.Set(slog.LevelInfo)
	defaultLogger = slog.New(NewCustomHandler(os.Stdout, logLevel, true))
}

func reconfigure(w io.Writer, source bool) {
	outputMu.Lock()
	defer outputMu.Unlock()
	logOutput = w
	addSource = source
	defaultLogger = slog.New(NewCustomHandler(w, logLevel, source))
}

func current() *slog.Logger {
	outputMu.RLock()
	defer outputMu.RUnlock()
	return defaultLogger
}

// SetOutput redirects all subsequent log lines to w.
func SetOutput(w io.Writer) {
	outputMu.RLock()
	source := addSource
	outputMu.RUnlock()
	reconfigure(w, source)
}

// SetReportCaller toggles the file:line column.
func SetReportCaller(enabled bool) {
	outputMu.RLock()
	w := logOutput
	outputMu.RUnlock()
	reconfigure(w, enabled)
}

func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

func GetLevel() slog.Level {
	return logLevel.Level()
}

// ParseLevel converts a level name from configuration. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Debug(msg string)                  { logAt(slog.LevelDebug, msg, nil) }
func Debugf(format string, args ...any) { logAt(slog.LevelDebug, fmt.Sprintf(format, args...), nil) }
func Info(msg string)                   { logAt(slog.LevelInfo, msg, nil) }
func Infof(format string, args ...any)  { logAt(slog.LevelInfo, fmt.Sprintf(format, args...), nil) }
func Warn(msg string)                   { logAt(slog.LevelWarn, msg, nil) }
func Warnf(format string, args ...any)  { logAt(slog.LevelWarn, fmt.Sprintf(format, args...), nil) }
func Error(msg string)                  { logAt(slog.LevelError, msg, nil) }
func Errorf(format string, args ...any) { logAt(slog.LevelError, fmt.Sprintf(format, args...), nil) }

// Fatalf logs at error level, closes the log file and exits with status 1.
func Fatalf(format string, args ...any) {
	logAt(slog.LevelError, fmt.Sprintf(format, args...), nil)
	Close()
	os.Exit(1)
}

func logAt(level slog.Level, msg string, attrs []slog.Attr) {
	logger := current()
	if !logger.Enabled(context.Background(), level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(nowFunc(), level, msg, pcs[0])
	if len(attrs) > 0 {
		r.AddAttrs(attrs...)
	}
	_ = logger.Handler().Handle(context.Background(), r)
}

// Entry accumulates attributes for a single log line.
type Entry struct {
	attrs []slog.Attr
}

func WithError(err error) *Entry {
	return &Entry{attrs: []slog.Attr{slog.Any("error", err)}}
}

func WithField(key string, value any) *Entry {
	return &Entry{attrs: []slog.Attr{slog.Any(key, value)}}
}

func WithFields(fields Fields) *Entry {
	e := &Entry{attrs: make([]slog.Attr, 0, len(fields))}
	return e.WithFields(fields)
}

func (e *Entry) WithField(key string, value any) *Entry {
	e.attrs = append(e.attrs, slog.Any(key, value))
	return e
}

func (e *Entry) WithFields(fields Fields) *Entry {
	for k, v := range fields {
		e.attrs = append(e.attrs, slog.Any(k, v))
	}
	return e
}

func (e *Entry) WithError(err error) *Entry {
	e.attrs = append(e.attrs, slog.Any("error", err))
	return e
}

func (e *Entry) Debug(msg string)                  { logAt(slog.LevelDebug, msg, e.attrs) }
func (e *Entry) Debugf(format string, args ...any) { logAt(slog.LevelDebug, fmt.Sprintf(format, args...), e.attrs) }
func (e *Entry) Info(msg string)                   { logAt(slog.LevelInfo, msg, e.attrs) }
func (e *Entry) Infof(format string, args ...any)  { logAt(slog.LevelInfo, fmt.Sprintf(format, args...), e.attrs) }
func (e *Entry) Warn(msg string)                   { logAt(slog.LevelWarn, msg, e.attrs) }
func (e *Entry) Warnf(format string, args ...any)  { logAt(slog.LevelWarn, fmt.Sprintf(format, args...), e.attrs) }
func (e *Entry) Error(msg string)                  { logAt(slog.LevelError, msg, e.attrs) }
func (e *Entry) Errorf(format string, args ...any) { logAt(slog.LevelError, fmt.Sprintf(format, args...), e.attrs) }

// Writer adapts the logger to an io.Writer at the given level, one entry per write.
func Writer(level slog.Level) io.Writer {
	return &slogWriter{level: level}
}

type slogWriter struct {
	level slog.Level
}

func (w *slogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\r\n")
	if msg == "" {
		return len(p), nil
	}
	logAt(w.level, msg, nil)
	return len(p), nil
}
