// Package logger builds the process-wide zerolog.Logger.
package logger

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/hoppy/ingest/internal/config"
)

// New returns a configured zerolog.Logger. Development gets a
// human-readable console writer; everything else gets the default JSON
// writer. The level is LOG_LEVEL (info when it does not parse); only
// development with an empty LOG_LEVEL is raised to debug.
func New(cfg *config.Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if cfg.IsDevelopment() && cfg.LogLevel == "" {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if cfg.IsDevelopment() {
		out := zerolog.ConsoleWriter{Out: os.Stderr}
		return zerolog.New(out).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
