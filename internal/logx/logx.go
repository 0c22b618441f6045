// Package logx wires this module's ambient logging through zerolog, matching
// the console-writer/level-from-verbosity setup used elsewhere in the
// ecosystem rather than hand-rolling a logger.
package logx

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. verbosity maps "debug", "info",
// "warn"/"warning", and "error" to the matching zerolog level; anything else
// falls back to info.
func Init(verbosity string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})

	switch strings.ToLower(verbosity) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Logger is the zerolog.Logger type, re-exported so callers don't need a
// direct zerolog import just to hold a reference.
type Logger = zerolog.Logger

// Component returns a child logger tagged with a "component" field, used to
// scope log lines to the subsystem that emitted them (reactor, browser,
// responder, engine, ...).
func Component(name string) Logger {
	return log.With().Str("component", name).Logger()
}
