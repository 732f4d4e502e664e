package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the application logger. Console output goes to stderr so it
// never mixes with the interactive session console on stdout.
func New(app string, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(level).With().Timestamp().Str("app", app).Logger()
}

// Discard returns a logger that drops everything. Used by tests and as the
// default when callers pass no logger.
func Discard() zerolog.Logger {
	return zerolog.New(io.Discard)
}
