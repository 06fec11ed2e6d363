// Package logging builds the slog loggers used by the panel server and agent.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the process-wide logger type.
type Logger = *slog.Logger

const (
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// ParseLevel maps debug, info, warn|warning and error to a slog level.
// Anything else is info.
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

// New returns a logger writing to w (stdout when nil). Format "pretty" selects
// the colorized key=value handler; colors are off when NO_COLOR is set.
// Any other format is JSON.
func New(level, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(level),
		AddSource: true,
	}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatPretty:
		_, noColor := os.LookupEnv("NO_COLOR")
		h = NewPrettyHandler(w, opts, !noColor)
	default:
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h)
}
