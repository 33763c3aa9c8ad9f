package utils

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger from the logging config surface. Text
// output suits interactive single runs; json suits the interval-mode
// deployment behind a log collector.
func NewLogger(level string, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// parseLevel maps a config string onto a slog level, defaulting to info on
// anything unrecognised rather than failing startup over a typo.
func parseLevel(level string) slog.Level {
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
