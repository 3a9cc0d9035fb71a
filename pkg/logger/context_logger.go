package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	TraceIDKey   contextKey = "trace_id"
	ViewTagKey   contextKey = "view_tag"
	RequestIDKey contextKey = "request_id"
	HostIDKey    contextKey = "host_id"
)

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *zap.Logger
}

// NewContextLogger creates a new context logger
func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{
		logger: logger,
	}
}

// WithView returns a context carrying the view tag for later log lines.
func WithView(ctx context.Context, tag int) context.Context {
	return context.WithValue(ctx, ViewTagKey, tag)
}

// WithRequest returns a context carrying a start request id.
func WithRequest(ctx context.Context, requestID int) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithHost returns a context carrying the bridge host id.
func WithHost(ctx context.Context, hostID string) context.Context {
	return context.WithValue(ctx, HostIDKey, hostID)
}

// WithContext adds context fields to logger
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		fields = append(fields, zap.String("trace_id", traceID))
	} else if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}
	if hostID, ok := ctx.Value(HostIDKey).(string); ok {
		fields = append(fields, zap.String("host_id", hostID))
	}
	if tag, ok := ctx.Value(ViewTagKey).(int); ok {
		fields = append(fields, zap.Int("view_tag", tag))
	}
	if requestID, ok := ctx.Value(RequestIDKey).(int); ok {
		fields = append(fields, zap.Int("request_id", requestID))
	}

	if len(fields) == 0 {
		return cl.logger
	}

	return cl.logger.With(fields...)
}

// LogCommand logs a host command with context
func (cl *ContextLogger) LogCommand(ctx context.Context, command string, duration int64, err error) {
	l := cl.WithContext(ctx)
	if err != nil {
		l.Warn("host_command",
			zap.String("command", command),
			zap.Int64("duration_us", duration),
			zap.Error(err),
		)
		return
	}
	l.Debug("host_command",
		zap.String("command", command),
		zap.Int64("duration_us", duration),
	)
}

// LogWarn logs warning message with context
func (cl *ContextLogger) LogWarn(ctx context.Context, message string, fields ...zapcore.Field) {
	cl.WithContext(ctx).Warn(message, fields...)
}
