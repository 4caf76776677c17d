// Package logging provides structured logging setup for the directory
// service and CLI.
package logging

import (
	"io"
	"log/slog"
)

// Setup builds a logger for the given format and installs it as the slog
// default. "json" is for production; anything else gives human-readable
// text. Dev mode lowers the level to debug.
func Setup(w io.Writer, format string, level slog.Level, devMode bool) *slog.Logger {
	if devMode && level > slog.LevelDebug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
