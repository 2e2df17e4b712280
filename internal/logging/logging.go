// Package logging constructs the single zerolog.Logger threaded through the
// rest of the engine via constructor injection, per SPEC_FULL.md's AMBIENT
// STACK section.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process-wide logger. level must parse as a zerolog level
// name ("debug", "info", "warn", "error"); an unrecognized value falls back
// to info. When pretty is true, output is the human-readable console writer
// (for local `serve` runs); otherwise it is plain JSON lines suited to a
// log collector.
func New(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
