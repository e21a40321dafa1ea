package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/yunyaopan/pcd-workflowplus/pkg/retry"
)

// DefaultAnthropicModel is used when the anthropic provider is selected without a model.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicClient generates code through the Anthropic Messages API.
type AnthropicClient struct {
	client      *anthropic.Client
	model       string
	apiKey      string
	maxTokens   int
	temperature float32
	retryCfg    *retry.Config
	breaker     *CircuitBreaker
	logger      *zap.Logger
}

// NewAnthropicClient creates an Anthropic-backed CodeGenerator.
func NewAnthropicClient(cfg *Config, logger *zap.Logger) *AnthropicClient {
	if cfg.Model == "" {
		copied := *cfg
		copied.Model = DefaultAnthropicModel
		cfg = &copied
	}
	c := cfg.withDefaults()

	opts := []anthropic.ClientOption{
		anthropic.WithHTTPClient(&http.Client{Timeout: c.Timeout}),
	}
	if c.Endpoint != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(c.Endpoint, "/")))
	}

	return &AnthropicClient{
		client:      anthropic.NewClient(c.APIKey, opts...),
		model:       c.Model,
		apiKey:      c.APIKey,
		maxTokens:   c.MaxTokens,
		temperature: float32(*c.Temperature),
		retryCfg:    c.Retry,
		breaker:     NewCircuitBreaker("anthropic", c.Breaker),
		logger:      logger.Named("llm"),
	}
}

// GenerateCode sends prompt as a single user message.
func (c *AnthropicClient) GenerateCode(ctx context.Context, prompt string, model string) (string, error) {
	if c.apiKey == "" {
		return "", errMissingCredential("Anthropic")
	}
	if model == "" {
		model = c.model
	}
	if err := c.breaker.Allow(); err != nil {
		return "", err
	}

	start := time.Now()
	content, err := retry.DoWithResult(ctx, c.retryCfg, func() (string, error) {
		content, _, err := c.complete(ctx, prompt, model, c.maxTokens)
		return content, err
	})
	if err != nil {
		llmErr := ClassifyError(err)
		c.breaker.Record(llmErr)
		c.logger.Error("Code generation failed",
			zap.String("provider", "anthropic"),
			zap.String("model", model),
			zap.String("error_type", string(llmErr.Type)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", llmErr
	}
	c.breaker.Record(nil)

	c.logger.Info("Code generation completed",
		zap.String("provider", "anthropic"),
		zap.String("model", model),
		zap.Int("completion_len", len(content)),
		zap.Duration("elapsed", time.Since(start)))
	return content, nil
}

// TestConnection sends a fixed short prompt with the default model.
func (c *AnthropicClient) TestConnection(ctx context.Context) *ConnectionResult {
	start := time.Now()
	if c.apiKey == "" {
		return connectionResult(c.model, start, errMissingCredential("Anthropic"))
	}
	_, respModel, err := c.complete(ctx, connectionTestPrompt, c.model, connectionTestMaxTokens)
	if respModel == "" {
		respModel = c.model
	}
	return connectionResult(respModel, start, err)
}

// DefaultModel returns the configured model.
func (c *AnthropicClient) DefaultModel() string {
	return c.model
}

func (c *AnthropicClient) complete(ctx context.Context, prompt, model string, maxTokens int) (string, string, error) {
	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	}
	req.SetTemperature(c.temperature)

	resp, err := c.client.CreateMessages(ctx, req)
	if err != nil {
		llmErr := ClassifyError(err)
		llmErr.Model = model
		return "", "", llmErr
	}

	if len(resp.Content) == 0 {
		return "", string(resp.Model), errEmptyCompletion("No response from provider", model)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			sb.WriteString(*block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", string(resp.Model), errEmptyCompletion("Empty response from provider", model)
	}
	return sb.String(), string(resp.Model), nil
}
