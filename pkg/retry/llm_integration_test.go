package retry_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/yunyaopan/pcd-workflowplus/pkg/llm"
	"github.com/yunyaopan/pcd-workflowplus/pkg/retry"
)

func TestIsRetryable_WithLLMError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"upstream 503", llm.NewUpstreamError(http.StatusServiceUnavailable, "overloaded", nil), true},
		{"upstream 429", llm.NewUpstreamError(http.StatusTooManyRequests, "rate limited", nil), true},
		{"upstream 401", llm.NewUpstreamError(http.StatusUnauthorized, "bad key", nil), false},
		{"upstream 404 mentioning 503", llm.NewUpstreamError(http.StatusNotFound, "see status 503 docs", nil), false},
		{"missing credential", llm.NewError(llm.ErrorTypeMissingCredential, "OpenRouter API key is required", false, nil), false},
		{"wrapped retryable", fmt.Errorf("generate code: %w", llm.NewUpstreamError(http.StatusBadGateway, "", nil)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retry.IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable(%v) = %v, expected %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestDo_WithLLMError(t *testing.T) {
	cfg := &retry.Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}

	t.Run("retries upstream server errors", func(t *testing.T) {
		calls := 0
		err := retry.Do(context.Background(), cfg, func() error {
			calls++
			if calls < 3 {
				return llm.NewUpstreamError(http.StatusServiceUnavailable, "overloaded", nil)
			}
			return nil
		})
		if err != nil {
			t.Errorf("expected success after retries, got %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("fails immediately on auth errors", func(t *testing.T) {
		calls := 0
		authErr := llm.NewUpstreamError(http.StatusUnauthorized, "bad key", nil)
		err := retry.Do(context.Background(), cfg, func() error {
			calls++
			return authErr
		})
		if !errors.Is(err, authErr) {
			t.Errorf("expected %v, got %v", authErr, err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})
}
