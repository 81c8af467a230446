// Package logging builds the zerolog logger shared by every process
// entrypoint: human-readable console output in every mode, level gated by
// VERBOSE, matching the [INFO]/[WARN]/[ERROR]/[DEBUG] taxonomy the detector
// and analyser have always used.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a console-writer zerolog.Logger. verbose enables debug level;
// otherwise info level is used.
func New(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(writer).With().Timestamp().Logger()
}
