package audit

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"benchguard.io/internal/obs"
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

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent mirrors a stored ledger entry onto the structured log stream.
func LogEvent(ctx context.Context, e Entry) {
	fields := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", e.Action),
		zap.String("entry_id", e.ID),
		zap.String("resource", e.Resource),
		zap.String("actor_role", e.ActorRole),
		zap.String("details", e.Details),
		zap.Time("occurred_at", e.OccurredAt),
	}
	if e.ActorID != "" {
		fields = append(fields, zap.String("actor_id", e.ActorID))
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	obs.Logger().Info("audit", fields...)
}
