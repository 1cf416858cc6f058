// Package audit writes security events as structured log entries.
package audit

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type ctxKey string

const (
	requestIDKey ctxKey = "audit_request_id"
	accountIDKey ctxKey = "audit_account_id"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithAccountID attaches the acting account to the context.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return ctx
	}
	return context.WithValue(ctx, accountIDKey, accountID)
}

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// Logger emits audit entries. The zero value and a nil *Logger discard.
type Logger struct {
	l *zap.Logger
}

// New wraps l. A nil l yields a no-op logger.
func New(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &Logger{l: l.With(zap.String("type", "audit"))}
}

// Event writes an audit entry enriched with request and account context.
// Empty event names are dropped.
func (a *Logger) Event(ctx context.Context, event string, fields ...zap.Field) {
	if a == nil || a.l == nil {
		return
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return
	}
	out := make([]zap.Field, 0, len(fields)+3)
	out = append(out, zap.String("event", event))
	if rid := stringValue(ctx, requestIDKey); rid != "" {
		out = append(out, zap.String("request_id", rid))
	}
	if aid := stringValue(ctx, accountIDKey); aid != "" {
		out = append(out, zap.String("account_id", aid))
	}
	out = append(out, fields...)
	a.l.Info("audit", out...)
}
