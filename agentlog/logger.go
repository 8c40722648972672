// Package agentlog provides the process-wide structured logger. It is the
// one permitted process-wide singleton (see the agentlog entry in DESIGN.md);
// every other component takes a *Logger explicitly rather than reaching
// for a package-level default.
package agentlog

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps an slog.Logger, giving every caller a stable type to embed
// regardless of which slog handler backs it.
type Logger struct {
	*slog.Logger
}

// New builds a Logger at the given level ("debug", "info", "warn",
// "error"; unrecognized values fall back to "info"), emitting JSON lines
// to stdout.
func New(level string) *Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return &Logger{Logger: slog.New(handler)}
}

// ParseLevel maps a config string to an slog.Level, defaulting to Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a Logger scoped with the given key-value pairs attached to
// every subsequent record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
