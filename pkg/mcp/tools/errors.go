package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/yunyaopan/pcd-workflowplus/pkg/apperrors"
	"github.com/yunyaopan/pcd-workflowplus/pkg/llm"
	"github.com/yunyaopan/pcd-workflowplus/pkg/prompts"
	"github.com/yunyaopan/pcd-workflowplus/pkg/services"
)

// ErrorResponse represents a structured error in tool results.
// Actionable errors are returned as a successful tool call carrying this
// payload so the client sees the details.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for errors the caller can fix (bad arguments, missing spec,
// unknown transformation). System failures are returned as Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// errorResult turns a service error into a tool result. Errors that are not
// the caller's to fix are passed through.
func errorResult(err error) (*mcp.CallToolResult, error) {
	var (
		pre    *services.PreconditionError
		llmErr *llm.Error
	)
	switch {
	case errors.Is(err, prompts.ErrMissingSpecification):
		return NewErrorResult("missing_specification", err.Error()), nil
	case errors.As(err, &pre):
		return NewErrorResult("precondition_failed", pre.Reason), nil
	case errors.Is(err, apperrors.ErrValidation):
		return NewErrorResult("validation_error", err.Error()), nil
	case errors.Is(err, apperrors.ErrNotFound):
		return NewErrorResult("not_found", "transformation not found"), nil
	case errors.Is(err, apperrors.ErrUnauthorized):
		return NewErrorResult("unauthorized", "authentication required"), nil
	case errors.As(err, &llmErr):
		return NewErrorResultWithDetails(string(llmErr.Type), llmErr.UserMessage(), map[string]any{
			"retryable": llmErr.Retryable,
		}), nil
	}
	return nil, err
}
