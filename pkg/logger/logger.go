package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog.Logger at the given level. Every record is
// tagged with the emitting service name so the api, migrate and CLI
// binaries can share one log stream.
func New(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", service)
}
