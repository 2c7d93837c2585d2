// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithUser/UserFromContext for propagating the user ID via context

package auth

import (
	"context"
)

// userContextKey is the key type for storing the authenticated user ID.
type userContextKey struct{}

// WithUser returns a new context with the authenticated user ID attached.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey{}, userID)
}

// UserFromContext retrieves the authenticated user ID, returning "" if not present.
func UserFromContext(ctx context.Context) string {
	val := ctx.Value(userContextKey{})
	if val == nil {
		return ""
	}
	userID, ok := val.(string)
	if !ok {
		return ""
	}
	return userID
}
