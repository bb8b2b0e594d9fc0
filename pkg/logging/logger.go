// Package logging configures zerolog for the registry-stats components.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Component names carried in the "component" field.
const (
	ComponentTransport  = "transport"
	ComponentThrottle   = "throttle"
	ComponentCache      = "cache"
	ComponentBulk       = "bulk"
	ComponentAggregator = "aggregator"
	ComponentServer     = "server"
	ComponentRefresh    = "refresh"
	ComponentDiscovery  = "discovery"
	ComponentCLI        = "cli"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// OrDefault returns *logger when set, else NewLogger(component).
// Components accept an optional injected logger through it.
func OrDefault(logger *zerolog.Logger, component string) zerolog.Logger {
	if logger != nil {
		return *logger
	}
	return NewLogger(component)
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache hit/miss with key
//   - Throttle waits
//   - Request flow and bulk partitioning
//
// Info: Normal operation events
//   - Server startup/shutdown
//   - Refresh runs
//   - Discovery totals
//
// Warn: Conditions that don't prevent operation
//   - Retry attempts
//   - 429 responses
//   - Per-source failures dropped from aggregate results
//   - Cache backend errors (fallback to a fetch)
//
// Error: Conditions requiring attention
//   - Exhausted retries
//   - Server failures
//   - Configuration errors
//
// Context Fields:
//   - source: registry name (npm, pypi, ...)
//   - subject: package, extension or image identifier
//   - status: HTTP status code, 0 for network failures
//   - error_class: client, server, rate_limit, network
//   - attempt: 1-based attempt number
//   - backoff: retry delay
//   - key: cache key
