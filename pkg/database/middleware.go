package database

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/yunyaopan/pcd-workflowplus/pkg/auth"
)

// WithOwnerContext creates middleware that sets up an owner-scoped DB connection.
// It runs AFTER auth middleware and uses the subject from the JWT claims.
// The connection is automatically cleaned up after the handler returns.
func WithOwnerContext(db *DB, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			userID := auth.GetUserIDFromContext(r.Context())
			if userID == "" {
				logger.Error("Missing user in claims")
				writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}

			scope, err := db.WithOwner(r.Context(), userID)
			if err != nil {
				logger.Error("Failed to acquire owner connection",
					zap.String("user_id", userID),
					zap.Error(err))
				writeError(w, http.StatusInternalServerError, "database_error", "Database connection error")
				return
			}
			defer scope.Close()

			next(w, r.WithContext(SetOwnerScope(r.Context(), scope)))
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  errorCode,
	})
}
