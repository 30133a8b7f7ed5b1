// Package logging provides structured logging with trace ID support.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID.
	TraceIDKey ContextKey = "trace_id"
	// AccountIDKey is the context key for the account an operation is scoped to.
	AccountIDKey ContextKey = "account_id"
	// ServiceKey is the context key for the component name.
	ServiceKey ContextKey = "service"
)

// Logger wraps logrus.Logger with host-specific structured fields.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a new Logger instance.
func New(service, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, service: service}
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT environment
// variables. Defaults to "info" and "json" when unset.
func NewFromEnv(service string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

// SetOutput overrides the logger's output sink (used by tests and the
// error-log tailer).
func (l *Logger) SetOutput(w io.Writer) {
	l.Logger.SetOutput(w)
}

// WithContext creates a logger entry decorated with trace/account fields
// found in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if accountID := ctx.Value(AccountIDKey); accountID != nil {
		entry = entry.WithField("account_id", accountID)
	}
	return entry
}

// WithAccount creates a logger entry scoped to an account id.
func (l *Logger) WithAccount(accountID string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"service":    l.service,
		"account_id": accountID,
	})
}

// WithFields creates a logger entry with custom fields merged with the
// component name.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

// WithError creates a logger entry carrying an error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"service": l.service,
		"error":   err.Error(),
	})
}

// Context helpers.

// NewTraceID generates a fresh trace id.
func NewTraceID() string { return uuid.New().String() }

// WithTraceID attaches a trace id to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID reads the trace id from ctx, if any.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithAccountID attaches an account id to ctx.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, AccountIDKey, accountID)
}

// GetAccountID reads the account id from ctx, if any.
func GetAccountID(ctx context.Context) string {
	if v, ok := ctx.Value(AccountIDKey).(string); ok {
		return v
	}
	return ""
}

// Domain-specific structured helpers, in the teacher's LogX(ctx, ...) shape.

// LogInstanceEvent logs a supervisor lifecycle transition for an account's
// runtime.
func (l *Logger) LogInstanceEvent(ctx context.Context, accountID, event string, fields map[string]interface{}) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"account_id": accountID,
		"event":      event,
	})
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Info("instance event")
}

// LogSwitchEvent logs a view-switching transition.
func (l *Logger) LogSwitchEvent(ctx context.Context, from, to string, duration time.Duration, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"from":        from,
		"to":          to,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("view switch failed")
		return
	}
	entry.Info("view switch completed")
}

// LogRequest logs one IPC HTTP request, matching the teacher's
// middleware-facing LogRequest shape.
func (l *Logger) LogRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      statusCode,
		"duration_ms": duration.Milliseconds(),
	}).Info("ipc request")
}

// LogRegistryMutation logs a configuration-store mutation.
func (l *Logger) LogRegistryMutation(ctx context.Context, op, accountID string, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"operation":  op,
		"account_id": accountID,
	})
	if err != nil {
		entry.WithError(err).Warn("registry mutation failed")
		return
	}
	entry.Info("registry mutation applied")
}

// FormatDuration renders a duration to milliseconds with two decimal places,
// matching the teacher's log-friendly helper.
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
}
