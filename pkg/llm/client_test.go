package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yunyaopan/pcd-workflowplus/pkg/retry"
)

type capturedRequest struct {
	Path    string
	Auth    string
	Referer string
	Title   string
	Body    map[string]any
}

func newCompletionServer(t *testing.T, status int, body string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			captured.Path = r.URL.Path
			captured.Auth = r.Header.Get("Authorization")
			captured.Referer = r.Header.Get("HTTP-Referer")
			captured.Title = r.Header.Get("X-Title")
			_ = json.NewDecoder(r.Body).Decode(&captured.Body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, endpoint, apiKey string) *Client {
	t.Helper()
	c, err := NewClient(&Config{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Retry:    &retry.Config{MaxRetries: 0},
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

const completionBody = `{
	"id": "gen-1",
	"object": "chat.completion",
	"model": "deepseek/deepseek-chat-v3.1:free",
	"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "  function transformData() { return []; }\n"}}]
}`

func TestClient_GenerateCode_SendsRequestAndReturnsContentVerbatim(t *testing.T) {
	var captured capturedRequest
	server := newCompletionServer(t, http.StatusOK, completionBody, &captured)
	c := newTestClient(t, server.URL, "sk-test")

	content, err := c.GenerateCode(context.Background(), "build it", "")
	require.NoError(t, err)

	assert.Equal(t, "  function transformData() { return []; }\n", content)
	assert.Equal(t, "/chat/completions", captured.Path)
	assert.Equal(t, "Bearer sk-test", captured.Auth)
	assert.Equal(t, DefaultReferer, captured.Referer)
	assert.Equal(t, DefaultTitle, captured.Title)

	assert.Equal(t, DefaultModel, captured.Body["model"])
	assert.EqualValues(t, DefaultMaxTokens, captured.Body["max_tokens"])
	assert.InDelta(t, 0.1, captured.Body["temperature"], 0.0001)
	messages, ok := captured.Body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	msg := messages[0].(map[string]any)
	assert.Equal(t, "user", msg["role"])
	assert.Equal(t, "build it", msg["content"])
}

func TestClient_GenerateCode_ExplicitZeroTemperature(t *testing.T) {
	var captured capturedRequest
	server := newCompletionServer(t, http.StatusOK, completionBody, &captured)
	zero := 0.0
	c, err := NewClient(&Config{
		Endpoint:    server.URL,
		APIKey:      "sk-test",
		Temperature: &zero,
		Retry:       &retry.Config{MaxRetries: 0},
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.GenerateCode(context.Background(), "p", "")
	require.NoError(t, err)
	require.Contains(t, captured.Body, "temperature")
	assert.InDelta(t, 0, captured.Body["temperature"], 0.0001)
}

func TestClient_GenerateCode_UsesRequestedModel(t *testing.T) {
	var captured capturedRequest
	server := newCompletionServer(t, http.StatusOK, completionBody, &captured)
	c := newTestClient(t, server.URL, "sk-test")

	_, err := c.GenerateCode(context.Background(), "p", "other/model")
	require.NoError(t, err)
	assert.Equal(t, "other/model", captured.Body["model"])
}

func TestClient_GenerateCode_MissingCredentialSkipsRequest(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()
	c := newTestClient(t, server.URL, "")

	_, err := c.GenerateCode(context.Background(), "p", "")
	require.Error(t, err)
	assert.Equal(t, ErrorTypeMissingCredential, GetErrorType(err))
	assert.Zero(t, calls.Load())
}

func TestClient_GenerateCode_UpstreamError(t *testing.T) {
	server := newCompletionServer(t, http.StatusUnauthorized,
		`{"error": {"message": "No auth credentials found", "code": 401}}`, nil)
	c := newTestClient(t, server.URL, "sk-bad")

	_, err := c.GenerateCode(context.Background(), "p", "")
	require.Error(t, err)

	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrorTypeUpstream, llmErr.Type)
	assert.Equal(t, ReasonAuth, llmErr.Reason)
	assert.Equal(t, http.StatusUnauthorized, llmErr.StatusCode)
	assert.Equal(t, "No auth credentials found", llmErr.Message)
	assert.False(t, llmErr.Retryable)
	assert.Contains(t, llmErr.UserMessage(), "401 Unauthorized")
}

func TestClient_GenerateCode_EmptyCompletion(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no choices", `{"id": "x", "model": "m", "choices": []}`},
		{"empty content", `{"id": "x", "model": "m", "choices": [{"index": 0, "message": {"role": "assistant", "content": ""}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newCompletionServer(t, http.StatusOK, tt.body, nil)
			c := newTestClient(t, server.URL, "sk-test")

			_, err := c.GenerateCode(context.Background(), "p", "")
			require.Error(t, err)
			assert.Equal(t, ErrorTypeEmptyCompletion, GetErrorType(err))
		})
	}
}

func TestClient_GenerateCode_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error": {"message": "overloaded"}}`))
			return
		}
		_, _ = w.Write([]byte(completionBody))
	}))
	defer server.Close()

	c, err := NewClient(&Config{
		Endpoint: server.URL,
		APIKey:   "sk-test",
		Retry:    &retry.Config{MaxRetries: 2, InitialDelay: 1, MaxDelay: 1, Multiplier: 1},
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.GenerateCode(context.Background(), "p", "")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, CircuitClosed, c.breaker.State())
}

func TestClient_TestConnection(t *testing.T) {
	var captured capturedRequest
	server := newCompletionServer(t, http.StatusOK, completionBody, &captured)
	c := newTestClient(t, server.URL, "sk-test")

	result := c.TestConnection(context.Background())
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, "deepseek/deepseek-chat-v3.1:free", result.Model)
	assert.Contains(t, result.Message, "deepseek/deepseek-chat-v3.1:free")
	assert.EqualValues(t, 50, captured.Body["max_tokens"])

	msg := captured.Body["messages"].([]any)[0].(map[string]any)
	assert.Contains(t, msg["content"], "OpenRouter integration test successful")
}

func TestClient_TestConnection_NeverFails(t *testing.T) {
	server := newCompletionServer(t, http.StatusTooManyRequests, `{"error": {"message": "slow down"}}`, nil)

	result := newTestClient(t, server.URL, "sk-test").TestConnection(context.Background())
	assert.False(t, result.Success)
	assert.Equal(t, ErrorTypeUpstream, result.ErrorType)
	assert.Contains(t, result.Message, "429")
	assert.Contains(t, result.Message, "slow down")

	result = newTestClient(t, server.URL, "").TestConnection(context.Background())
	assert.False(t, result.Success)
	assert.Equal(t, ErrorTypeMissingCredential, result.ErrorType)

	result = newTestClient(t, "http://127.0.0.1:1", "sk-test").TestConnection(context.Background())
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "Connection failed")
}

func TestClient_ListModels(t *testing.T) {
	server := newCompletionServer(t, http.StatusOK,
		`{"object": "list", "data": [{"id": "a/one", "object": "model"}, {"id": "b/two", "object": "model"}]}`, nil)

	ids, err := newTestClient(t, server.URL, "sk-test").ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a/one", "b/two"}, ids)
}

func TestNewClient_RejectsNonHTTPEndpoint(t *testing.T) {
	_, err := NewClient(&Config{Endpoint: "ftp://example.com"}, zap.NewNop())
	assert.Error(t, err)
}
