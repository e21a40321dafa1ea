package llm

import (
	"errors"
	"fmt"
	"time"
)

const (
	connectionTestPrompt    = `Hello! Please respond with "OpenRouter integration test successful"`
	connectionTestMaxTokens = 50
)

// connectionResult converts the outcome of a test round trip into a ConnectionResult.
// model is the model reported by the provider, falling back to the requested one.
func connectionResult(model string, start time.Time, err error) *ConnectionResult {
	result := &ConnectionResult{
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err == nil {
		result.Success = true
		result.Model = model
		result.Message = fmt.Sprintf("Connection successful! Model: %s", model)
		return result
	}

	var llmErr *Error
	if !errors.As(err, &llmErr) {
		llmErr = ClassifyError(err)
	}
	result.ErrorType = llmErr.Type
	result.Message = llmErr.UserMessage()
	return result
}
