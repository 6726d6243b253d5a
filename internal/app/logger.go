package app

import (
	"log/slog"
	"os"
)

// NewLogger returns the configured slog.Logger. Every line carries the
// service name so the api and worker binaries stay distinguishable in a
// shared sink.
func NewLogger(cfg *Config) *slog.Logger {
	var handler slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})
	}
	return slog.New(handler).With(slog.String("service", "attico"))
}
