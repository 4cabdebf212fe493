// Package logger provides a structured, module-aware logging system built on Go's standard log/slog.
//
// # Quick Start
//
//	centralLogger, err := logger.NewCentralLogger(&logger.LoggingConfig{
//	    DefaultLevel: "info",
//	    Console:      &logger.ConsoleOutput{Enabled: true, Level: "info"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer centralLogger.Close()
//	logger.SetGlobal(centralLogger)
//
//	ingestLogger := centralLogger.Module("ingest")
//	ingestLogger.Info("scan completed",
//	    logger.ScanID(scanID),
//	    logger.Float64("risk_percentage", 82))
//
// # Module Scoping
//
// Module loggers nest, so datastore.Module("sqlite") logs with module="datastore.sqlite".
// Each module may carry its own level through LoggingConfig.ModuleLevels.
//
// # Outputs
//
// Console output is human-readable text (or JSON when Format is "json"). The optional
// file output is always JSON and rotates through lumberjack.
//
// # Request Scope
//
// The API stamps each request context with a correlation ID and ingest adds the
// scan ID once one is allocated. WithContext lifts both onto a logger, so the
// datastore's statement logs for an upload carry the same IDs as the error
// body returned to the client.
package logger

import (
	"context"
	"time"
	"unique"
)

// LogLevel represents log severity levels
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ValidLevel reports whether level names a known log level.
func ValidLevel(level string) bool {
	switch LogLevel(level) {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// Field represents a structured log field.
// Keys are interned so repeated keys share one allocation.
type Field struct {
	Key   string
	Value any
}

func internKey(key string) string {
	return unique.Make(key).Value()
}

var errorKey = internKey("error")

// Logger is the centralized logging interface for dependency injection
type Logger interface {
	// Module returns a logger scoped to a specific module
	Module(name string) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a logger that adds fields to every record
	With(fields ...Field) Logger
	// WithContext returns a logger carrying the correlation and scan IDs in ctx
	WithContext(ctx context.Context) Logger

	// Log with explicit level
	Log(level LogLevel, msg string, fields ...Field)

	// Flush ensures all buffered logs are written
	Flush() error
}

// String creates a string field for structured logging.
func String(key, value string) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int creates an integer field for structured logging.
func Int(key string, value int) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int64 creates a 64-bit integer field for structured logging.
func Int64(key string, value int64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Uint64 creates an unsigned 64-bit integer field, used for byte counts.
func Uint64(key string, value uint64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Float64 creates a 64-bit float field for structured logging.
func Float64(key string, value float64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Bool creates a boolean field for structured logging.
func Bool(key string, value bool) Field {
	return Field{Key: internKey(key), Value: value}
}

// Error creates an error field. The key is always "error"; a nil error yields a nil value.
//
//	if err := repo.Complete(ctx, scanID, results); err != nil {
//	    log.Error("failed to store results", logger.Error(err), logger.ScanID(scanID))
//	}
func Error(err error) Field {
	if err == nil {
		return Field{Key: errorKey, Value: nil}
	}
	return Field{Key: errorKey, Value: err.Error()}
}

// Duration creates a duration field rendered as a human-readable string ("1.5s", "200ms").
func Duration(key string, value time.Duration) Field {
	return Field{Key: internKey(key), Value: value}
}

// Time creates a time field for structured logging.
func Time(key string, value time.Time) Field {
	return Field{Key: internKey(key), Value: value}
}

// Any creates a field with any value. Prefer the typed constructors for simple values.
func Any(key string, value any) Field {
	return Field{Key: internKey(key), Value: value}
}
