package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"authgate.dev/internal/auth"
	"authgate.dev/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	zf := make([]zap.Field, 0, len(fields)+3)
	zf = append(zf, zap.String("type", "audit"), zap.String("event", event))
	if rid := RequestIDFromContext(ctx); rid != "" {
		zf = append(zf, zap.String("request_id", rid))
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		zf = append(zf, zap.String("user_id", userID))
	}
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	obs.Logger().Info("audit", zf...)
	return nil
}
