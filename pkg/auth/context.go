package auth

import (
	"context"
	"fmt"

	"github.com/yunyaopan/pcd-workflowplus/pkg/apperrors"
)

// GetUserIDFromContext extracts the user ID from JWT claims in the context.
// Returns empty string if not authenticated or claims are missing.
func GetUserIDFromContext(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return ""
	}
	return claims.Subject
}

// RequireUserIDFromContext extracts the user ID from context and returns an
// error wrapping apperrors.ErrUnauthorized if not found.
func RequireUserIDFromContext(ctx context.Context) (string, error) {
	userID := GetUserIDFromContext(ctx)
	if userID == "" {
		return "", fmt.Errorf("user ID not found in context: %w", apperrors.ErrUnauthorized)
	}
	return userID, nil
}
