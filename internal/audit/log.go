package audit

import (
	"context"
	"errors"
	"strings"

	"invoicedesk.app/internal/auth"
	"invoicedesk.app/internal/logger"
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

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit line enriched with request and caller context.
// Billing mutations (finalize, payment, void, settings) are audited so the
// bookkeeper can reconstruct who changed what.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	l := logger.WithComponent("audit")
	ev := l.Info().Str("type", "audit").Str("event", event)
	if rid := RequestIDFromContext(ctx); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		ev = ev.Str("uid", p.UID).Strs("roles", p.Roles)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	ev.Interface("fields", fields).Msg(event)
	return nil
}
