// Package logging builds the root slog logger from configuration. Output can
// be redirected to a file so the watch dashboard keeps the terminal to
// itself.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/seqlab/seqmon/internal/config"
)

// Setup creates the root logger and installs it as the slog default. The
// returned closer flushes and closes the log file, if one was opened.
func Setup(cfg config.LoggingConfig) (*slog.Logger, func() error, error) {
	var w io.Writer = os.Stderr
	closer := func() error { return nil }

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closer = f.Close
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	}))
	slog.SetDefault(logger)

	return logger, closer, nil
}

// ParseLevel maps a config level string to a slog level. Unknown strings fall
// back to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
