// Package logging builds the leveled zerolog logger shared by the supervisor,
// the workers and the conversion pipeline.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Options configures a logger
type Options struct {
	Level   string // debug, info, warn, error
	Format  string // json or console
	Service string
	Role    string // supervisor, worker or stdio
	Output  io.Writer
}

// New creates a logger tagged with the service name, process role and pid
func New(opts Options) zerolog.Logger {
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	if opts.Format == FormatConsole {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	ctx := zerolog.New(output).
		Level(ParseLevel(opts.Level)).
		With().
		Timestamp().
		Int("pid", os.Getpid())

	if opts.Service != "" {
		ctx = ctx.Str("service", opts.Service)
	}
	if opts.Role != "" {
		ctx = ctx.Str("role", opts.Role)
	}

	return ctx.Logger()
}

// ParseLevel maps a configuration level name to a zerolog level, falling
// back to info for unknown names
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
