// Package log provides structured logging for the asset hub daemon using zerolog.
//
// The global logger is initialized once via Init and then specialized per
// component, connection, or listener with the With* helpers so that every
// log line carries enough context to correlate a query or a push
// notification with the vat that produced it.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level is a logging verbosity level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger tagged with a component name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithConn creates a child logger tagged with a connection (vat) id.
func WithConn(connID string) zerolog.Logger {
	return Logger.With().Str("component", "rpc").Str("conn", connID).Logger()
}

// WithListener creates a child logger tagged with a listener registration id.
func WithListener(connID string, listenerID uint64) zerolog.Logger {
	return Logger.With().
		Str("component", "broadcast").
		Str("conn", connID).
		Uint64("listener", listenerID).
		Logger()
}

func init() {
	// Sane default so packages that log before main calls Init (tests, for
	// instance) don't panic on a zero-value logger.
	Init(Config{Level: InfoLevel, JSONOutput: false})
}
