// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options configures Setup.
type Options struct {
	Service string
	Level   string // trace|debug|info|warn|error; default info
	Format  string // json|console; default json
	Output  io.Writer
}

// Setup builds the logger, installs it as log.Logger and returns it.
func Setup(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	ctx := zerolog.New(out).With().Timestamp()
	if opts.Service != "" {
		ctx = ctx.Str("service", opts.Service)
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger
}

// OrGlobal returns l, or the global logger when l is nil.
func OrGlobal(l *zerolog.Logger) *zerolog.Logger {
	if l != nil {
		return l
	}
	return &log.Logger
}
