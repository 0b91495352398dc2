package observability

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is the engine's structured logger, a thin wrapper over slog with
// JSON output and a service attribute on every record.
type Logger struct {
	*slog.Logger
}

// NewLogger builds a JSON logger tagged with the service name. The level
// comes from LOG_LEVEL (debug, info, warn, error), defaulting to info.
func NewLogger(serviceName string) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: levelFromEnv(),
	})
	return &Logger{slog.New(handler).With("service", serviceName)}
}

// Component returns a child logger tagged with a component attribute.
func (l *Logger) Component(name string) *Logger {
	return &Logger{l.Logger.With("component", name)}
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
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
