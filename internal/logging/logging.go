// Package logging provides application-wide logging configuration.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	debugEnabled   bool
	verboseEnabled bool
)

// Options controls the global logger.
type Options struct {
	Debug   bool
	Verbose bool
	Out     io.Writer
}

// Init initializes the global logger.
func Init(opts Options) {
	debugEnabled = opts.Debug
	verboseEnabled = opts.Verbose || opts.Debug
	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	})
}

// DebugEnabled reports whether debug logging is enabled.
func DebugEnabled() bool {
	return debugEnabled
}

// VerboseEnabled reports whether transcript excerpts should be echoed.
func VerboseEnabled() bool {
	return verboseEnabled
}
