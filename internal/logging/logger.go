package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Options struct {
	Level  string
	Writer io.Writer
}

// NewLogger builds the process-wide JSON logger. Subsystems derive their own
// logger with ForComponent so every line carries a component attribute.
func NewLogger(opts Options) *slog.Logger {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})
	return slog.New(handler)
}

func ForComponent(logger *slog.Logger, component string) *slog.Logger {
	component = strings.TrimSpace(component)
	if logger == nil {
		logger = slog.Default()
	}
	if component == "" {
		return logger
	}
	return logger.With("component", component)
}

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
