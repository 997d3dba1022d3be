// Package logging configures zerolog for the extractor. Every line carries a
// service field; components derive child loggers with With or NewLogger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is a configured log level name.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelDisabled Level = "disabled"
)

// DefaultService is the service field written on every line.
const DefaultService = "fudo-extract"

// Config holds logger configuration.
type Config struct {
	Level Level

	// Pretty switches from JSON lines to zerolog's console writer.
	Pretty bool

	// Output defaults to os.Stderr. Stdout is reserved for command output.
	Output io.Writer

	// Service defaults to DefaultService.
	Service string
}

// DefaultConfig returns JSON logging at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Output:  os.Stderr,
		Service: DefaultService,
	}
}

// Setup configures the global zerolog level and log.Logger and returns the
// root logger.
func Setup(cfg Config) zerolog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	zerolog.DurationFieldUnit = time.Millisecond

	out := cfg.Output
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(out).With().
		Timestamp().
		Str("service", cfg.Service).
		Logger()
	log.Logger = logger

	return logger
}

// ParseLevel maps a level name to zerolog. Unknown or empty names map to info.
func ParseLevel(level Level) zerolog.Level {
	lvl, err := parse(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// ValidLevel reports whether name is a level Setup understands. Empty is valid.
func ValidLevel(name string) error {
	_, err := parse(Level(name))
	return err
}

func parse(level Level) (zerolog.Level, error) {
	switch name := strings.ToLower(strings.TrimSpace(string(level))); name {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	case "off", string(LevelDisabled):
		return zerolog.Disabled, nil
	default:
		lvl, err := zerolog.ParseLevel(name)
		if err != nil || lvl == zerolog.NoLevel {
			return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
		}
		return lvl, nil
	}
}

// NewLogger derives a component logger from the global logger.
func NewLogger(component string) zerolog.Logger {
	return With(log.Logger, component)
}

// With derives a component logger from an already configured logger.
func With(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// Level guidelines
//
// Debug: per-request detail
//   - page requests, retry backoff, storage reads and writes
//
// Info: run milestones
//   - window computed, partition written, marker advanced, run finished
//
// Warn: the run continues
//   - empty page inside a window
//   - malformed or negative marker (restart from page 0)
//   - a partition failed to persist
//   - no data in the requested pages
//
// Error: a dataset run ends or a write is lost
//   - authentication, page requests after retries, storage other than not-found
//
// Fields: service, component, run_id, dataset, endpoint, page, start_page,
// end_page, date, key, records, rows, error_class.
