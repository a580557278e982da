// Package logging builds the shared slog logger for the ingestion binaries.
// Every record goes through the redacting handler before it is emitted, so
// document contents and credentials stay out of the JSON stream.
package logging

import (
	"log/slog"
	"os"
)

// Init returns a JSON logger tagged with the worker identity and installs it
// as the slog default, so library code that logs through slog picks up the
// same redaction and worker_id field as the binaries do.
func Init(workerID string) *slog.Logger {
	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(newRedactingHandler(base)).With("worker_id", workerID)
	slog.SetDefault(logger)
	return logger
}
