package database

import (
	"context"
)

type contextKey string

// OwnerScopeKey is the context key for storing the owner-scoped database connection.
const OwnerScopeKey contextKey = "ownerScope"

// GetOwnerScope retrieves the owner-scoped database connection from context.
// Returns nil and false if not present.
func GetOwnerScope(ctx context.Context) (*OwnerScope, bool) {
	scope, ok := ctx.Value(OwnerScopeKey).(*OwnerScope)
	return scope, ok
}

// SetOwnerScope stores the owner-scoped database connection in context.
func SetOwnerScope(ctx context.Context, scope *OwnerScope) context.Context {
	return context.WithValue(ctx, OwnerScopeKey, scope)
}
