package logger

import (
	"log/slog"
	"os"
)

// New builds the process-wide JSON logger. Debug level in dev, info
// everywhere else.
func New(env string) *slog.Logger {
	level := slog.LevelInfo
	if env == "dev" {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}
