package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var level = new(slog.LevelVar)

// New builds a slog logger for the given environment.
// In production it uses JSON output for log aggregation,
// otherwise the human-readable text handler.
func New(environment, logLevel string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	level.Set(ParseLevel(logLevel))

	var handler slog.Handler
	if strings.EqualFold(environment, "production") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// Init configures the global slog logger.
func Init(environment, logLevel string) *slog.Logger {
	logger := New(environment, logLevel, os.Stdout)
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the level of every logger built by New.
// The dev entry point uses it to switch on debug diagnostics.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// WithRequest returns a logger with request context fields attached.
func WithRequest(logger *slog.Logger, requestID, userID string) *slog.Logger {
	return logger.With(
		"request_id", requestID,
		"user_id", userID,
	)
}

// Discard is a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
