package llm

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
)

// NewCodeGenerator creates the CodeGenerator for the configured provider.
// OpenRouter and any other OpenAI-compatible endpoint share the same client.
func NewCodeGenerator(cfg *Config, logger *zap.Logger) (CodeGenerator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenRouter, ProviderOpenAI:
		return NewClient(cfg, logger)
	case ProviderAnthropic:
		return NewAnthropicClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown code generation provider %q", cfg.Provider)
	}
}
