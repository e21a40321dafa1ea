package llm

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/yunyaopan/pcd-workflowplus/pkg/retry"
)

const (
	DefaultEndpoint    = "https://openrouter.ai/api/v1"
	DefaultModel       = "deepseek/deepseek-chat-v3.1:free"
	DefaultMaxTokens   = 4000
	DefaultTemperature = 0.1
	DefaultReferer     = "http://localhost:3000"
	DefaultTitle       = "Workflow Plus Logic Generator"
)

// Config holds configuration for creating a code generation client.
type Config struct {
	Provider    string // "openrouter" (any OpenAI-compatible endpoint) or "anthropic"
	Endpoint    string // Base URL, e.g. "https://openrouter.ai/api/v1"
	APIKey      string // Required at call time, not at construction
	Model       string
	MaxTokens   int
	Temperature *float64 // nil means DefaultTemperature
	Referer     string // sent as HTTP-Referer
	Title       string // sent as X-Title
	Timeout     time.Duration
	Retry       *retry.Config
	Breaker     CircuitBreakerConfig
}

func (cfg *Config) withDefaults() Config {
	out := *cfg
	if out.Model == "" {
		out.Model = DefaultModel
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = DefaultMaxTokens
	}
	if out.Temperature == nil {
		t := DefaultTemperature
		out.Temperature = &t
	}
	if out.Referer == "" {
		out.Referer = DefaultReferer
	}
	if out.Title == "" {
		out.Title = DefaultTitle
	}
	if out.Timeout <= 0 {
		out.Timeout = 2 * time.Minute
	}
	if out.Breaker.Threshold <= 0 {
		out.Breaker = DefaultCircuitBreakerConfig()
	}
	return out
}

// Client talks to an OpenAI-compatible chat completions endpoint such as OpenRouter.
type Client struct {
	client      *openai.Client
	endpoint    string
	model       string
	apiKey      string
	maxTokens   int
	temperature float32
	retryCfg    *retry.Config
	breaker     *CircuitBreaker
	logger      *zap.Logger
}

// NewClient creates a new OpenAI-compatible client. A missing API key is not an
// error here; it is reported by every call instead.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	c := cfg.withDefaults()
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
		return nil, fmt.Errorf("endpoint must be an http(s) URL: %q", c.Endpoint)
	}

	clientConfig := openai.DefaultConfig(c.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(c.Endpoint, "/")
	clientConfig.HTTPClient = &http.Client{
		Timeout: c.Timeout,
		Transport: &headerTransport{
			base: http.DefaultTransport,
			headers: map[string]string{
				"HTTP-Referer": c.Referer,
				"X-Title":      c.Title,
			},
		},
	}

	return &Client{
		client:      openai.NewClientWithConfig(clientConfig),
		endpoint:    clientConfig.BaseURL,
		model:       c.Model,
		apiKey:      c.APIKey,
		maxTokens:   c.MaxTokens,
		temperature: requestTemperature(*c.Temperature),
		retryCfg:    c.Retry,
		breaker:     NewCircuitBreaker("openrouter", c.Breaker),
		logger:      logger.Named("llm"),
	}, nil
}

// GenerateCode sends prompt as a single user message and returns the content
// of the first choice exactly as received.
func (c *Client) GenerateCode(ctx context.Context, prompt string, model string) (string, error) {
	if c.apiKey == "" {
		return "", errMissingCredential("OpenRouter")
	}
	if model == "" {
		model = c.model
	}
	if err := c.breaker.Allow(); err != nil {
		return "", err
	}

	c.logger.Debug("Code generation request",
		zap.String("model", model),
		zap.Int("prompt_len", len(prompt)))

	start := time.Now()
	content, err := retry.DoWithResult(ctx, c.retryCfg, func() (string, error) {
		content, _, err := c.complete(ctx, prompt, model, c.maxTokens)
		return content, err
	})
	if err != nil {
		llmErr := ClassifyError(err)
		c.breaker.Record(llmErr)
		c.logger.Error("Code generation failed",
			zap.String("model", model),
			zap.String("error_type", string(llmErr.Type)),
			zap.Int("status", llmErr.StatusCode),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", llmErr
	}
	c.breaker.Record(nil)

	c.logger.Info("Code generation completed",
		zap.String("model", model),
		zap.Int("completion_len", len(content)),
		zap.Duration("elapsed", time.Since(start)))

	return content, nil
}

// TestConnection sends a fixed short prompt with the default model.
func (c *Client) TestConnection(ctx context.Context) *ConnectionResult {
	start := time.Now()
	if c.apiKey == "" {
		return connectionResult(c.model, start, errMissingCredential("OpenRouter"))
	}
	_, respModel, err := c.complete(ctx, connectionTestPrompt, c.model, connectionTestMaxTokens)
	if respModel == "" {
		respModel = c.model
	}
	return connectionResult(respModel, start, err)
}

// ListModels returns the ids of models the endpoint advertises.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, ClassifyError(err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// DefaultModel returns the configured model.
func (c *Client) DefaultModel() string {
	return c.model
}

// Endpoint returns the configured base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// requestTemperature converts t for go-openai, which drops a zero
// temperature from the request body. The smallest positive float32 keeps an
// explicit zero on the wire.
func requestTemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

// complete performs one chat completion and returns the content and the model
// reported by the provider.
func (c *Client) complete(ctx context.Context, prompt, model string, maxTokens int) (string, string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
		Stream:      false,
	})
	if err != nil {
		llmErr := ClassifyError(err)
		llmErr.Model = model
		return "", "", llmErr
	}

	if len(resp.Choices) == 0 {
		return "", resp.Model, errEmptyCompletion("No response from provider", model)
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", resp.Model, errEmptyCompletion("Empty response from provider", model)
	}
	return content, resp.Model, nil
}

// headerTransport adds fixed attribution headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}
