// Package log provides structured logging for LBM, built on zerolog, as
// an explicit constructor dependency rather than a package-level
// singleton: a Node owns exactly one Set and passes it to every
// subsystem it constructs.
package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Set is a root logger plus the per-component loggers derived from it.
// A Node constructs exactly one Set and threads it into every
// subsystem's constructor.
type Set struct {
	root zerolog.Logger
}

// New builds a Set at the given level, writing colored (or JSON) console
// output and, when file is non-empty, JSON to that file as well (always
// JSON there, regardless of jsonOutput, so the file stays machine
// parseable).
func New(level string, jsonOutput bool, file string) (Set, error) {
	lvl := parseLevel(level)

	if file == "" {
		if jsonOutput {
			return Set{root: zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()}, nil
		}
		return Set{root: consoleLogger(os.Stdout, lvl)}, nil
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return Set{}, fmt.Errorf("open log file %s: %w", file, err)
	}
	var consoleWriter io.Writer = os.Stdout
	if !jsonOutput {
		consoleWriter = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}
	multi := zerolog.MultiLevelWriter(consoleWriter, f)
	return Set{root: zerolog.New(multi).Level(lvl).With().Timestamp().Logger()}, nil
}

// Nop returns a Set that discards everything, for tests.
func Nop() Set {
	return Set{root: zerolog.Nop()}
}

func consoleLogger(w io.Writer, lvl zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	return zerolog.New(output).Level(lvl).With().Timestamp().Logger()
}

// Component returns a logger tagged with the given component name.
func (s Set) Component(name string) zerolog.Logger {
	return s.root.With().Str("component", name).Logger()
}

// Root returns the underlying root logger, for call sites with no
// natural component name.
func (s Set) Root() zerolog.Logger {
	return s.root
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Benchmark times an operation and logs its duration at debug level.
func Benchmark(logger zerolog.Logger, name string) func() {
	start := time.Now()
	return func() {
		logger.Debug().Str("operation", name).Dur("duration", time.Since(start)).Msg("benchmark")
	}
}
