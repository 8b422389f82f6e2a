// Package logger provides structured logging for the wallet layer.
// It wraps zerolog behind a small key/value interface so packages depend on
// the interface, not the backend.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is the logging interface used across the wallet layer.
// Args are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a child logger with the given key/value pairs attached
	// to every entry.
	With(args ...any) Logger
}

// Config holds logger configuration.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// Pretty enables human-readable console output instead of JSON.
	Pretty bool
	// Component is attached to every entry as the "component" field.
	Component string
}

type zeroLogger struct {
	zl zerolog.Logger
}

// New creates a logger writing to w.
func New(w io.Writer, cfg Config) Logger {
	if w == nil {
		w = os.Stderr
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w}
	}

	zl := zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	if cfg.Component != "" {
		zl = zl.With().Str("component", cfg.Component).Logger()
	}
	return &zeroLogger{zl: zl}
}

// Default returns a logger writing JSON to stderr at info level.
func Default(component string) Logger {
	return New(os.Stderr, Config{Component: component})
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() Logger {
	return &zeroLogger{zl: zerolog.Nop()}
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *zeroLogger) Debug(msg string, args ...any) { l.emit(l.zl.Debug(), msg, args) }
func (l *zeroLogger) Info(msg string, args ...any)  { l.emit(l.zl.Info(), msg, args) }
func (l *zeroLogger) Warn(msg string, args ...any)  { l.emit(l.zl.Warn(), msg, args) }
func (l *zeroLogger) Error(msg string, args ...any) { l.emit(l.zl.Error(), msg, args) }

func (l *zeroLogger) With(args ...any) Logger {
	ctx := l.zl.With()
	for k, v := range pairs(args) {
		ctx = ctx.Interface(k, v)
	}
	return &zeroLogger{zl: ctx.Logger()}
}

func (l *zeroLogger) emit(ev *zerolog.Event, msg string, args []any) {
	for k, v := range pairs(args) {
		switch val := v.(type) {
		case error:
			ev = ev.AnErr(k, val)
		case string:
			ev = ev.Str(k, val)
		default:
			ev = ev.Interface(k, val)
		}
	}
	ev.Msg(msg)
}

// pairs converts alternating key/value args into a map. A trailing key
// without a value is recorded under "!BADKEY".
func pairs(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	m := make(map[string]any, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = "!BADKEY"
		}
		if i+1 < len(args) {
			m[key] = args[i+1]
		} else {
			m[key] = "(missing)"
		}
	}
	return m
}
