// Package logging provides structured logging configuration using zerolog.
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
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
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

// WorkerLogger creates a logger carrying a worker identity.
func WorkerLogger(workerID int) zerolog.Logger {
	return log.With().Str("component", "worker").Int("worker_id", workerID).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss, key, TTL)
//   - Individual retry attempts and backoff durations
//   - Batch hand-off between dispatcher and workers
//
// Info: Normal operation events
//   - Pipeline start/stop, worker start/stop
//   - Batch dispatched / batch completed
//   - Graceful shutdown progress
//
// Warn: Warning conditions that don't prevent operation
//   - Fetch failed after retries (identifier skipped)
//   - Error budget exceeded (batch remainder discarded)
//   - Cache errors (fallback to direct fetch)
//
// Error: Error conditions requiring attention
//   - Output sink write failures
//   - Unreadable input sources or invalid configuration
//
// Context Fields:
//   - worker_id: Worker index within the pool
//   - identifier: Registry identifier being fetched
//   - batch_size: Number of identifiers in a batch
//   - fault: Fault classification (service, timeout, permanent)
//   - attempt: Retry attempt number
//   - errors: Consecutive failure count against the error budget
