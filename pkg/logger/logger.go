// Package logger builds the structured zerolog.Logger used throughout the
// cognitive loop and its HTTP server, so every component logs through the
// same timestamp/caller/level configuration instead of constructing its own.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // enable pretty console output
}

// New creates a new structured logger.
func New(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// SetGlobalLogger sets the package-level logger used by zerolog/log helpers.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}

// Scoped returns base with a "component" field attached, the convention
// every package in this repo uses to tag its own log lines (e.g.
// `logger.Scoped(base, "market.gateway")`) instead of each constructor
// repeating `log.With().Str("component", ...).Logger()` inline.
func Scoped(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}
