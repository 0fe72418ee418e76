/*
Package logx wraps zerolog for the gateway.

It owns the process-wide logger: output format (console for development,
JSON otherwise), the minimum level, and a small set of helpers so call sites
can log with key/value pairs without touching zerolog directly. Long-lived
components take a child logger from Component so every line they emit carries
a "component" field.
*/
package logx

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls how InitGlobalLogger builds the global logger.
type Options struct {
	// Development switches to the human-readable console writer.
	Development bool

	// Level is a zerolog level name ("debug", "info", ...). Empty means
	// debug in development and info otherwise.
	Level string

	// Output overrides the destination. Defaults to stdout (stderr for console output).
	Output io.Writer
}

// InitGlobalLogger replaces the global zerolog logger according to opts.
// Timestamps are unix seconds and every entry carries caller information.
func InitGlobalLogger(opts Options) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	out := opts.Output
	if out == nil {
		out = os.Stdout
		if opts.Development {
			out = os.Stderr
		}
	}

	if opts.Development {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	logger = logger.Level(parseLevel(opts.Level, opts.Development))

	log.Logger = logger.With().Caller().Logger()
}

func parseLevel(name string, development bool) zerolog.Level {
	if name != "" {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(name)); err == nil && lvl != zerolog.NoLevel {
			return lvl
		}
	}
	if development {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// Logger returns a pointer to the global zerolog.Logger instance.
func Logger() *zerolog.Logger {
	return &log.Logger
}

// Component returns a child of the global logger tagged with component=name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// checkFields drops an odd-length field list instead of letting zerolog
// pair a key with the wrong value.
func checkFields(level string, fields []any) []any {
	if len(fields)%2 != 0 {
		Logger().Warn().
			Int("fields_count", len(fields)).
			Str("log_level", level).
			Msgf("logx %s call received an odd number of fields: %v. Fields ignored.", level, fields)
		return nil
	}
	return fields
}

// Debug logs msg at debug level with optional key/value fields.
func Debug(msg string, fields ...any) {
	fields = checkFields("debug", fields)

	Logger().Debug().
		Fields(fields).
		CallerSkipFrame(1).
		Msg(msg)
}

// Info logs msg at info level with optional key/value fields.
func Info(msg string, fields ...any) {
	fields = checkFields("info", fields)

	Logger().Info().
		Fields(fields).
		CallerSkipFrame(1).
		Msg(msg)
}

// Warn logs msg at warn level with optional key/value fields.
func Warn(msg string, fields ...any) {
	fields = checkFields("warn", fields)

	Logger().Warn().
		Fields(fields).
		CallerSkipFrame(1).
		Msg(msg)
}

// Error logs err and msg at error level with optional key/value fields.
func Error(err error, msg string, fields ...any) {
	fields = checkFields("error", fields)

	Logger().Error().
		Err(err).
		Fields(fields).
		CallerSkipFrame(1).
		Msg(msg)
}

// Fatal logs at fatal level and exits the process with status 1.
func Fatal(err error, msg string, fields ...any) {
	fields = checkFields("fatal", fields)

	Logger().Fatal().
		Err(err).
		Fields(fields).
		CallerSkipFrame(1).
		Msg(msg)
}
