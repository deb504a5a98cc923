package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	requestIDKey
	userIDKey
	traceIDKey
	spanIDKey
)

// WithLogger stores the provided logger on the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the request-scoped logger or falls back to slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}

// tag stores value under key and adds it to the context logger as attr.
func tag(ctx context.Context, key ctxKey, attr, value string) context.Context {
	if ctx == nil || value == "" {
		return ctx
	}
	ctx = context.WithValue(ctx, key, value)
	if attr == "" {
		return ctx
	}
	return WithLogger(ctx, FromContext(ctx).With(slog.String(attr, value)))
}

func stringFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}

// WithRequestID stores the request id and tags the logger with request_id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return tag(ctx, requestIDKey, "request_id", requestID)
}

// RequestIDFromContext retrieves a previously stored request identifier.
func RequestIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, requestIDKey)
}

// WithUserID stores the authenticated user id and tags the logger with user_id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return tag(ctx, userIDKey, "user_id", userID)
}

// UserIDFromContext returns the authenticated user id, or "" when absent.
func UserIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, userIDKey)
}

// WithTraceID stores a trace identifier on the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return tag(ctx, traceIDKey, "", traceID)
}

// TraceIDFromContext retrieves the trace identifier from the context.
func TraceIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, traceIDKey)
}

func withSpanID(ctx context.Context, spanID string) context.Context {
	return tag(ctx, spanIDKey, "", spanID)
}

// SpanIDFromContext retrieves the span identifier from the context.
func SpanIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, spanIDKey)
}
