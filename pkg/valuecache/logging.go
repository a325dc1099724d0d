package valuecache

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel defines the severity level for logging
type LogLevel int

const (
	// LogLevelDebug enables all log messages including job state transitions
	LogLevelDebug LogLevel = iota

	// LogLevelInfo enables informational messages and above
	LogLevelInfo

	// LogLevelWarn enables warning messages and above
	LogLevelWarn

	// LogLevelError enables only error messages
	LogLevelError

	// LogLevelNone disables all logging
	LogLevelNone
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// Logger defines the interface for manager logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// F is a convenience function to create a logging field
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// DefaultLogger implements Logger using Go's standard log package
type DefaultLogger struct {
	level  LogLevel
	logger *log.Logger
	fields []Field
}

// NewDefaultLogger creates a new logger with the specified level
func NewDefaultLogger(level LogLevel) *DefaultLogger {
	return &DefaultLogger{
		level:  level,
		logger: log.New(os.Stdout, "[VALUECACHE] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// Debug logs a debug message
func (dl *DefaultLogger) Debug(msg string, fields ...Field) {
	if dl.level <= LogLevelDebug {
		dl.log("DEBUG", msg, fields...)
	}
}

// Info logs an info message
func (dl *DefaultLogger) Info(msg string, fields ...Field) {
	if dl.level <= LogLevelInfo {
		dl.log("INFO", msg, fields...)
	}
}

// Warn logs a warning message
func (dl *DefaultLogger) Warn(msg string, fields ...Field) {
	if dl.level <= LogLevelWarn {
		dl.log("WARN", msg, fields...)
	}
}

// Error logs an error message
func (dl *DefaultLogger) Error(msg string, fields ...Field) {
	if dl.level <= LogLevelError {
		dl.log("ERROR", msg, fields...)
	}
}

// With creates a new logger with additional fields
func (dl *DefaultLogger) With(fields ...Field) Logger {
	return &DefaultLogger{
		level:  dl.level,
		logger: dl.logger,
		fields: joinFields(dl.fields, fields),
	}
}

func (dl *DefaultLogger) log(level, msg string, fields ...Field) {
	all := joinFields(dl.fields, fields)
	if len(all) == 0 {
		dl.logger.Printf("[%s] %s", level, msg)
		return
	}

	parts := make([]string, 0, len(all))
	for _, field := range all {
		parts = append(parts, fmt.Sprintf("%s=%v", field.Key, field.Value))
	}
	dl.logger.Printf("[%s] %s | %s", level, msg, strings.Join(parts, " "))
}

func joinFields(a, b []Field) []Field {
	joined := make([]Field, len(a)+len(b))
	copy(joined, a)
	copy(joined[len(a):], b)
	return joined
}

// NoOpLogger is a logger that does nothing
type NoOpLogger struct{}

// NewNoOpLogger creates a logger that discards all messages
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (nol *NoOpLogger) Debug(string, ...Field) {}
func (nol *NoOpLogger) Info(string, ...Field)  {}
func (nol *NoOpLogger) Warn(string, ...Field)  {}
func (nol *NoOpLogger) Error(string, ...Field) {}
func (nol *NoOpLogger) With(...Field) Logger   { return nol }

// SlogLogger adapts a *slog.Logger to Logger
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps logger. A nil logger uses slog.Default().
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

func (sl *SlogLogger) Debug(msg string, fields ...Field) {
	sl.logger.Debug(msg, slogArgs(fields)...)
}

func (sl *SlogLogger) Info(msg string, fields ...Field) {
	sl.logger.Info(msg, slogArgs(fields)...)
}

func (sl *SlogLogger) Warn(msg string, fields ...Field) {
	sl.logger.Warn(msg, slogArgs(fields)...)
}

func (sl *SlogLogger) Error(msg string, fields ...Field) {
	sl.logger.Error(msg, slogArgs(fields)...)
}

func (sl *SlogLogger) With(fields ...Field) Logger {
	return &SlogLogger{logger: sl.logger.With(slogArgs(fields)...)}
}

func slogArgs(fields []Field) []any {
	args := make([]any, 0, len(fields))
	for _, field := range fields {
		args = append(args, slog.Any(field.Key, field.Value))
	}
	return args
}

// LoggingConfig defines which manager events are logged
type LoggingConfig struct {
	Logger Logger

	// LogLoads enables logging of completed attribute loads
	LogLoads bool

	// LogCatchUps enables logging of change watermark advances
	LogCatchUps bool

	// LogAborts enables logging of cancelled or hurried jobs
	LogAborts bool

	// LogLoadErrors enables logging of failed loads
	LogLoadErrors bool

	// SlowLoadThreshold promotes loads slower than this to warnings.
	// Zero disables the promotion.
	SlowLoadThreshold time.Duration
}

// NewDefaultLoggingConfig creates a logging configuration with every event enabled
func NewDefaultLoggingConfig(level LogLevel) *LoggingConfig {
	return &LoggingConfig{
		Logger:            NewDefaultLogger(level),
		LogLoads:          true,
		LogCatchUps:       true,
		LogAborts:         true,
		LogLoadErrors:     true,
		SlowLoadThreshold: 500 * time.Millisecond,
	}
}

// CreateLoggingHooks creates hooks that log manager events
func CreateLoggingHooks(config *LoggingConfig) *Hooks {
	hooks := &Hooks{}
	if config == nil || config.Logger == nil {
		return hooks
	}
	logger := config.Logger

	if config.LogLoads {
		hooks.AddOnLoad(func(_ context.Context, e LoadEvent) {
			fields := []Field{
				F("attribute", e.Attribute),
				F("requested", e.Requested),
				F("loaded", e.Loaded),
				F("duration", e.Duration),
			}
			if config.SlowLoadThreshold > 0 && e.Duration > config.SlowLoadThreshold {
				logger.Warn("Slow attribute load", fields...)
				return
			}
			logger.Debug("Attribute loaded", fields...)
		})
	}

	if config.LogCatchUps {
		hooks.AddOnCatchUp(func(_ context.Context, from, to int64, changed int) {
			logger.Debug("Change watermark advanced", F("from", from), F("to", to), F("changed", changed))
		})
	}

	if config.LogAborts {
		hooks.AddOnAbort(func(_ context.Context, reason AbortReason) {
			logger.Info("Load job aborted", F("reason", reason.String()))
		})
	}

	if config.LogLoadErrors {
		hooks.AddOnLoadError(func(_ context.Context, attribute string, err error) {
			logger.Error("Attribute load failed", F("attribute", attribute), F("error", err))
		})
	}

	return hooks
}
