package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates the planner's slog.Logger writing to stderr, which
// keeps stdout free for plan summaries and dumps.
//
// format is "text" or "json".
func NewLogger(level slog.Level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(level slog.Level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// ParseLevel converts a level name to slog.Level. Unrecognized names give
// slog.LevelInfo.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Verbosity lowers base by one level per -v, down to debug.
func Verbosity(base slog.Level, verbose int) slog.Level {
	level := base - slog.Level(4*verbose)
	if level < slog.LevelDebug {
		return slog.LevelDebug
	}
	return level
}
