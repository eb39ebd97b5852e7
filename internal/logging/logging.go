package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimestampFieldName = "timestamp"
}

// New returns a JSON logger tagged with the service name.
func New(service string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Logger()
}

// WithLevel applies a textual level such as "debug" or "warn". Unknown or
// empty values leave the logger at info.
func WithLevel(logger zerolog.Logger, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// Nop discards everything; handy for tests and optional dependencies.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
