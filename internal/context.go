package internal

import (
	"context"
	"time"
)

type ctxKey string

const (
	ContextUserKey        ctxKey = "userID"
	ContextPermissionsKey ctxKey = "permissions"
)

// SystemWebhookActor is recorded as the actor for changes driven by gateway webhooks.
const SystemWebhookActor = "system-webhook-handler"

// SystemSchedulerActor is recorded for automated reconciliation runs.
const SystemSchedulerActor = "system-reconciliation-scheduler"

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if userID, ok := ctx.Value(ContextUserKey).(string); ok {
		return userID
	}
	return ""
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ContextUserKey, userID)
}

func PermissionsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if perms, ok := ctx.Value(ContextPermissionsKey).([]string); ok {
		return perms
	}
	return nil
}

func ContextWithPermissions(ctx context.Context, perms []string) context.Context {
	return context.WithValue(ctx, ContextPermissionsKey, perms)
}

// ActorFromContext returns the authenticated user id, falling back to the given system actor.
func ActorFromContext(ctx context.Context, fallback string) string {
	if userID := UserIDFromContext(ctx); userID != "" {
		return userID
	}
	return fallback
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
