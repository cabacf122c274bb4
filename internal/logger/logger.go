// Package logger provides structured, level-gated logging for the redactor.
//
// Each entry is written as a single line with fixed-width columns:
//
//	2006-01-02 15:04:05.000 | MODULE       | ACTION                 | LEVEL | message
//
// Levels (lowest to highest): debug, info, warn, error.
// Entries below the configured minimum level are silently dropped.
// When the output is a terminal the level column is coloured.
//
// Callers must never pass original PII values as log content; log lengths,
// counts and labels instead.
//
// Usage:
//
//	log := logger.New("ENGINE", cfg.LogLevel)
//	log.With("doc", id).Infof("redact", "entities=%d len=%d", n, len(text))
//	log.Warn("detector_init", "presidio unreachable, running degraded")
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mattn/go-isatty"
)

// Level represents a log severity.
type Level int32

// Log severity constants, ordered lowest to highest.
const (
	LevelDebug Level = iota // fine-grained diagnostic output
	LevelInfo               // normal operational messages
	LevelWarn               // unexpected but recoverable conditions
	LevelError              // failures requiring attention
)

var levelLabels = [...]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO ",
	LevelWarn:  "WARN ",
	LevelError: "ERROR",
}

var levelColors = [...]string{
	LevelDebug: "\x1b[90m",
	LevelInfo:  "\x1b[36m",
	LevelWarn:  "\x1b[33m",
	LevelError: "\x1b[31m",
}

// Logger writes structured log lines for a single module.
// Child loggers created by With share the level and output of their parent.
type Logger struct {
	module string
	fields string
	core   *core
}

type core struct {
	level atomic.Int32
	out   atomic.Pointer[log.Logger]
	color atomic.Bool
}

// New creates a Logger for the given module, gated at the given level string.
// Unrecognized level strings default to "info".
func New(module, levelStr string) *Logger {
	l := &Logger{
		module: strings.ToUpper(module),
		core:   &core{},
	}
	l.core.level.Store(int32(parseLevel(levelStr)))
	l.SetOutput(os.Stderr)
	return l
}

// SetLevel changes the minimum log level at runtime.
func (l *Logger) SetLevel(levelStr string) {
	l.core.level.Store(int32(parseLevel(levelStr)))
}

// Level returns the current minimum level.
func (l *Logger) Level() Level {
	return Level(l.core.level.Load())
}

// SetOutput redirects log lines to w. Colour is enabled only when w is a terminal.
func (l *Logger) SetOutput(w io.Writer) {
	// No prefix or flags — we supply the full line ourselves.
	l.core.out.Store(log.New(w, "", 0))
	color := false
	if f, ok := w.(*os.File); ok {
		fd := f.Fd()
		color = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	l.core.color.Store(color)
}

// With returns a child logger that prefixes every message with key=value.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		module: l.module,
		fields: l.fields + key + "=" + value + " ",
		core:   l.core,
	}
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(action, msg string) { l.write(LevelDebug, action, msg) }

// Info logs at INFO level.
func (l *Logger) Info(action, msg string) { l.write(LevelInfo, action, msg) }

// Warn logs at WARN level.
func (l *Logger) Warn(action, msg string) { l.write(LevelWarn, action, msg) }

// Error logs at ERROR level.
func (l *Logger) Error(action, msg string) { l.write(LevelError, action, msg) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(action, format string, args ...any) {
	if l.Level() > LevelDebug {
		return
	}
	l.Debug(action, fmt.Sprintf(format, args...))
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(action, format string, args ...any) {
	l.Info(action, fmt.Sprintf(format, args...))
}

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(action, format string, args ...any) {
	l.Warn(action, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(action, format string, args ...any) {
	l.Error(action, fmt.Sprintf(format, args...))
}

// Fatal logs at ERROR level and then calls os.Exit(1).
func (l *Logger) Fatal(action, msg string) {
	l.Error(action, msg)
	os.Exit(1)
}

// Fatalf logs a formatted message at ERROR level and then calls os.Exit(1).
func (l *Logger) Fatalf(action, format string, args ...any) {
	l.Fatal(action, fmt.Sprintf(format, args...))
}

// write emits one log line if level >= the configured minimum.
func (l *Logger) write(level Level, action, msg string) {
	if level < l.Level() {
		return
	}
	label := levelLabels[level]
	if l.core.color.Load() {
		label = levelColors[level] + label + "\x1b[0m"
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.core.out.Load().Printf("%s | %-12s | %-22s | %s | %s%s", ts, l.module, action, label, l.fields, msg)
}

// parseLevel converts a string to a Level, defaulting to LevelInfo.
func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}
