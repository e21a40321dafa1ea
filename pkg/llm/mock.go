package llm

import (
	"context"
	"sync"
)

// MockCodeGenerator is a configurable CodeGenerator for tests.
// Set the function fields to control behavior.
type MockCodeGenerator struct {
	// GenerateCodeFunc is called when GenerateCode is invoked.
	// If nil, returns Response and Err.
	GenerateCodeFunc func(ctx context.Context, prompt string, model string) (string, error)

	// TestConnectionFunc is called when TestConnection is invoked.
	// If nil, reports success with Model.
	TestConnectionFunc func(ctx context.Context) *ConnectionResult

	Response string
	Err      error

	// Model is returned by DefaultModel. Defaults to "mock-model".
	Model string

	mu      sync.Mutex
	prompts []string
	models  []string
}

// NewMockCodeGenerator creates a mock returning response for every prompt.
func NewMockCodeGenerator(response string) *MockCodeGenerator {
	return &MockCodeGenerator{
		Response: response,
		Model:    "mock-model",
	}
}

// GenerateCode implements CodeGenerator.
func (m *MockCodeGenerator) GenerateCode(ctx context.Context, prompt string, model string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.models = append(m.models, model)
	m.mu.Unlock()

	if m.GenerateCodeFunc != nil {
		return m.GenerateCodeFunc(ctx, prompt, model)
	}
	return m.Response, m.Err
}

// TestConnection implements CodeGenerator.
func (m *MockCodeGenerator) TestConnection(ctx context.Context) *ConnectionResult {
	if m.TestConnectionFunc != nil {
		return m.TestConnectionFunc(ctx)
	}
	return &ConnectionResult{Success: true, Message: "Connection successful! Model: " + m.DefaultModel(), Model: m.DefaultModel()}
}

// DefaultModel implements CodeGenerator.
func (m *MockCodeGenerator) DefaultModel() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// Prompts returns every prompt received so far.
func (m *MockCodeGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Models returns the model argument of every call so far.
func (m *MockCodeGenerator) Models() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.models...)
}

var _ CodeGenerator = (*MockCodeGenerator)(nil)
