// Package log provides component-tagged structured logging on top of
// log/slog.
//
// Components hold a LazyLogger and resolve the process default on every
// call, so the daemon can reconfigure output after packages have been
// initialized.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level aliases, re-exported for callers that do not import slog.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// SetDefault replaces the process default logger.
func SetDefault(l *slog.Logger) {
	slog.SetDefault(l)
}

// New returns a text logger writing to w at level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSON returns a JSON logger writing to w at level.
func NewJSON(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Setup installs a default logger on stderr. format is "text" or "json";
// level is one of debug, info, warn, error.
func Setup(level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	var l *slog.Logger
	if strings.EqualFold(format, "json") {
		l = NewJSON(os.Stderr, lvl)
	} else {
		l = New(os.Stderr, lvl)
	}
	SetDefault(l)
	return l
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// LazyLogger tags records with a component name.
//
// Without a base logger every call uses the current slog.Default().
type LazyLogger struct {
	component string
	base      *slog.Logger
}

// Logger returns a LazyLogger for component bound to the process default.
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

// FromSlog returns a LazyLogger for component bound to l. A nil l behaves
// like Logger.
func FromSlog(l *slog.Logger, component string) *LazyLogger {
	return &LazyLogger{component: component, base: l}
}

func (l *LazyLogger) logger() *slog.Logger {
	base := l.base
	if base == nil {
		base = slog.Default()
	}
	return base.With("component", l.component)
}

// Enabled reports whether level is logged.
func (l *LazyLogger) Enabled(level slog.Level) bool {
	base := l.base
	if base == nil {
		base = slog.Default()
	}
	return base.Enabled(context.Background(), level)
}

// Debug logs at debug level.
func (l *LazyLogger) Debug(msg string, args ...any) {
	l.logger().Debug(msg, args...)
}

// Info logs at info level.
func (l *LazyLogger) Info(msg string, args ...any) {
	l.logger().Info(msg, args...)
}

// Warn logs at warn level.
func (l *LazyLogger) Warn(msg string, args ...any) {
	l.logger().Warn(msg, args...)
}

// Error logs at error level.
func (l *LazyLogger) Error(msg string, args ...any) {
	l.logger().Error(msg, args...)
}

// With returns a logger carrying the component and args.
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return l.logger().With(args...)
}
