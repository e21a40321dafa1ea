// Package llm turns code-generation prompts into completions from a hosted model provider.
package llm

import (
	"context"
)

// CodeGenerator sends a single-turn prompt to a model and returns the completion text.
// Use this interface for dependency injection to enable mocking in tests.
type CodeGenerator interface {
	// GenerateCode returns the first choice's content verbatim. An empty model
	// selects DefaultModel.
	GenerateCode(ctx context.Context, prompt string, model string) (string, error)

	// TestConnection runs a short round trip. It never fails; every failure is
	// reported through the result.
	TestConnection(ctx context.Context) *ConnectionResult

	// DefaultModel returns the model used when none is requested.
	DefaultModel() string
}

// ModelLister is implemented by generators that can enumerate upstream models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ConnectionResult is the outcome of a connectivity check.
type ConnectionResult struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Model     string    `json:"model,omitempty"`
	ErrorType ErrorType `json:"error_type,omitempty"`
	LatencyMs int64     `json:"latency_ms,omitempty"`
}

var (
	_ CodeGenerator = (*Client)(nil)
	_ CodeGenerator = (*AnthropicClient)(nil)
	_ ModelLister   = (*Client)(nil)
)
