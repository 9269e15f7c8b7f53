package logger

import (
	"log/slog"
	"os"
)

// New returns a structured JSON logger writing to stdout, suitable for
// ingestion by whatever the deployment's log collector expects.
func New(level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}
