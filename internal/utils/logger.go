package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a configured level name onto slog. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// NewLogger returns a logger writing to stderr, keeping stdout free for
// command output.
func NewLogger(level string, json bool) *slog.Logger {
	return NewLoggerTo(os.Stderr, level, json)
}

// NewLoggerTo returns a text or JSON logger writing to w.
func NewLoggerTo(w io.Writer, level string, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
