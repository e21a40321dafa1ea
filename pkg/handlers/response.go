package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/yunyaopan/pcd-workflowplus/pkg/apperrors"
	"github.com/yunyaopan/pcd-workflowplus/pkg/llm"
	"github.com/yunyaopan/pcd-workflowplus/pkg/prompts"
	"github.com/yunyaopan/pcd-workflowplus/pkg/services"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  errorCode,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// errorStatus maps a service error to an HTTP status, an error code and the
// message shown to the caller.
func errorStatus(err error) (int, string, string) {
	var (
		validation   *apperrors.ValidationError
		precondition *services.PreconditionError
		llmErr       *llm.Error
	)
	switch {
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", "Authentication required"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found", "Not found"
	case errors.Is(err, apperrors.ErrSessionBusy):
		return http.StatusConflict, "session_busy", err.Error()
	case errors.Is(err, prompts.ErrMissingSpecification):
		return http.StatusBadRequest, "missing_specification", err.Error()
	case errors.As(err, &precondition):
		return http.StatusBadRequest, "precondition_failed", precondition.Reason
	case errors.As(err, &validation):
		return http.StatusBadRequest, "validation_error", validation.Message
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest, "validation_error", err.Error()
	case errors.As(err, &llmErr):
		switch llmErr.Type {
		case llm.ErrorTypeMissingCredential, llm.ErrorTypeUnavailable:
			return http.StatusServiceUnavailable, string(llmErr.Type), llmErr.UserMessage()
		default:
			return http.StatusBadGateway, string(llmErr.Type), llmErr.UserMessage()
		}
	default:
		return http.StatusInternalServerError, "internal_error", "Internal server error"
	}
}

// writeServiceError writes the response for err. Server-side failures are logged.
func writeServiceError(w http.ResponseWriter, err error, logger *zap.Logger, msg string) {
	status, code, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, zap.Int("status", status), zap.Error(err))
	} else {
		logger.Debug(msg, zap.Int("status", status), zap.Error(err))
	}
	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, logger *zap.Logger) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return false
	}
	return true
}
