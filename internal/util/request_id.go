package util

import (
	"context"
	"log/slog"
	"strings"
)

type requestIDContextKey string

const (
	// RequestIDHeader carries the correlation id on outgoing API calls.
	RequestIDHeader          = "X-Request-Id"
	requestIDCtxKey          = requestIDContextKey("request_id")
	defaultRequestIDFallback = ""
)

// WithRequestID returns a context carrying id (a new one when id is blank)
// and a logger tagged with it, so every API call made under the context
// shares one correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		id = NewRequestID()
	}
	ctx = context.WithValue(ctx, requestIDCtxKey, id)
	logger := LoggerFromContext(ctx, nil).With("request_id", id)
	return ContextWithLogger(ctx, logger)
}

// RequestIDFromContext returns request id from context.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return defaultRequestIDFallback
	}
	id, _ := ctx.Value(requestIDCtxKey).(string)
	return id
}

// EnsureRequestID returns ctx unchanged when it already carries a request id,
// otherwise a derived context with a fresh one.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id := RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	ctx = WithRequestID(ctx, "")
	return ctx, RequestIDFromContext(ctx)
}

// Logger is shorthand for a request-scoped logger with extra attributes.
func Logger(ctx context.Context, fallback *slog.Logger, args ...any) *slog.Logger {
	logger := LoggerFromContext(ctx, fallback)
	if len(args) == 0 {
		return logger
	}
	return logger.With(args...)
}
