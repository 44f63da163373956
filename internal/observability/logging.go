package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a stdout JSON logger tagged with the engine component
// that owns it. The level comes from ARENA_LOG_LEVEL and defaults to info;
// an unrecognized value also falls back to info rather than erroring.
func NewLogger(component string) zerolog.Logger {
	level := parseLogLevel(os.Getenv("ARENA_LOG_LEVEL"))

	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// NewLoggerWithLevel is NewLogger with the level fixed by the caller,
// ignoring the environment. Tests use it to silence components.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func parseLogLevel(s string) zerolog.Level {
	switch s {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
