package session

import (
	"context"
	"strings"
)

type ctxKey string

const (
	userIDKey    ctxKey = "session_user_id"
	sessionIDKey ctxKey = "session_id"
)

// ContextWithSession stores the authenticated identity in the context.
func ContextWithSession(ctx context.Context, userID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, strings.TrimSpace(userID))
	return context.WithValue(ctx, sessionIDKey, strings.TrimSpace(sessionID))
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// IDFromContext extracts the session ID from context.
func IDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionIDKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}
