package models

import (
	"context"
)

type callerContextKey struct{}

// WithCaller attaches the authenticated user to a context.
func WithCaller(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, callerContextKey{}, user)
}

// CallerFromContext retrieves the authenticated user from context, or nil if absent.
func CallerFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(callerContextKey{}).(*User)
	return user
}
