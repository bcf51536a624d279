// Package logging provides the daemon's structured, leveled logger.
package logging

import (
	"io"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Config controls how a Logger is constructed.
type Config struct {
	Output    io.Writer
	Level     Level
	TimeStamp bool
}

// Level mirrors charmlog's level set so callers never need to import
// the underlying library directly.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// DefaultConfig returns the daemon's default logging configuration:
// info level, timestamps on, writing to stderr.
func DefaultConfig() Config {
	return Config{
		Output:    os.Stderr,
		Level:     LevelInfo,
		TimeStamp: true,
	}
}

// Logger wraps a charmbracelet/log.Logger with the component-scoping
// convention used across the daemon's subsystems.
type Logger struct {
	inner *charmlog.Logger
}

// New creates a Logger from the given Config.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := charmlog.Options{
		ReportTimestamp: cfg.TimeStamp,
		TimeFormat:      time.RFC3339,
	}
	l := charmlog.NewWithOptions(out, opts)
	l.SetLevel(toCharmLevel(cfg.Level))
	return &Logger{inner: l}
}

func toCharmLevel(l Level) charmlog.Level {
	switch l {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelWarn:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// WithComponent returns a child Logger that tags every line with the
// given component name, matching the rest of the daemon's subsystem
// naming (reconciler, dispatcher, sampler, api, ...).
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{inner: l.inner.With("component", name)}
}

// With attaches arbitrary key/value pairs to every subsequent line.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{inner: l.inner.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.inner.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.inner.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.inner.Error(msg, kv...) }

var defaultLogger = New(DefaultConfig())

// SetDefault replaces the package-level default logger.
func SetDefault(l *Logger) { defaultLogger = l }

// Default returns the package-level default logger.
func Default() *Logger { return defaultLogger }

func Debug(msg string, kv ...any) { defaultLogger.Debug(msg, kv...) }
func Info(msg string, kv ...any)  { defaultLogger.Info(msg, kv...) }
func Warn(msg string, kv ...any)  { defaultLogger.Warn(msg, kv...) }
func Error(msg string, kv ...any) { defaultLogger.Error(msg, kv...) }
