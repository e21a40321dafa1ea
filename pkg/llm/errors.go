package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"
)

// ErrorType classifies a code generation failure.
type ErrorType string

const (
	ErrorTypeNone              ErrorType = ""
	ErrorTypeMissingCredential ErrorType = "missing_credential"
	ErrorTypeUpstream          ErrorType = "upstream"
	ErrorTypeEmptyCompletion   ErrorType = "empty_completion"
	ErrorTypeUnavailable       ErrorType = "unavailable"
	ErrorTypeUnknown           ErrorType = "unknown"
)

// Reason refines an upstream failure for logging and retry decisions.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonAuth        Reason = "auth"
	ReasonEndpoint    Reason = "endpoint"
	ReasonModel       Reason = "model"
	ReasonRateLimited Reason = "rate_limited"
	ReasonServer      Reason = "server"
	ReasonTimeout     Reason = "timeout"
	ReasonRequest     Reason = "request"
)

// Error is a structured code generation error.
type Error struct {
	Type       ErrorType
	Reason     Reason
	Message    string // provider message or human-readable description
	StatusCode int    // upstream HTTP status, 0 when no response was received
	Retryable  bool
	Model      string
	Cause      error
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Type))
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	msg := strings.Join(parts, " ")
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil && e.StatusCode == 0 {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements retry.RetryableError.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// UserMessage renders the error the way it is shown to someone using the editor.
func (e *Error) UserMessage() string {
	switch e.Type {
	case ErrorTypeMissingCredential:
		return "API key is missing. Please configure the code generation API key."
	case ErrorTypeEmptyCompletion:
		return e.Message
	case ErrorTypeUpstream:
		if e.StatusCode > 0 {
			return strings.TrimSpace(fmt.Sprintf("API error: %d %s. %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message))
		}
		return "Connection failed: " + e.Message
	default:
		return e.Error()
	}
}

// NewError creates a structured error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// errMissingCredential is returned before any request when no API key is configured.
func errMissingCredential(provider string) *Error {
	return NewError(ErrorTypeMissingCredential, provider+" API key is required", false, nil)
}

func errEmptyCompletion(message string, model string) *Error {
	e := NewError(ErrorTypeEmptyCompletion, message, false, nil)
	e.Model = model
	return e
}

// NewUpstreamError builds an upstream error for a non-success HTTP response.
func NewUpstreamError(statusCode int, providerMessage string, cause error) *Error {
	reason := reasonForStatus(statusCode)
	return &Error{
		Type:       ErrorTypeUpstream,
		Reason:     reason,
		Message:    providerMessage,
		StatusCode: statusCode,
		Retryable:  reason == ReasonRateLimited || reason == ReasonServer,
		Cause:      cause,
	}
}

func reasonForStatus(status int) Reason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusPaymentRequired:
		return ReasonAuth
	case status == http.StatusNotFound:
		return ReasonEndpoint
	case status == http.StatusTooManyRequests:
		return ReasonRateLimited
	case status >= 500:
		return ReasonServer
	case status >= 400:
		return ReasonRequest
	}
	return ReasonNone
}

// ClassifyError converts a provider SDK or transport error into *Error.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		e := NewUpstreamError(apiErr.HTTPStatusCode, apiErr.Message, err)
		if e.StatusCode == http.StatusBadRequest && mentionsModel(apiErr.Message) {
			e.Reason = ReasonModel
		}
		return e
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := reqErr.HTTPStatus
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return NewUpstreamError(reqErr.HTTPStatusCode, msg, err)
	}

	var antErr *anthropic.RequestError
	if errors.As(err, &antErr) {
		msg := ""
		if antErr.Err != nil {
			msg = antErr.Err.Error()
		}
		return NewUpstreamError(antErr.StatusCode, msg, err)
	}

	var antAPIErr *anthropic.APIError
	if errors.As(err, &antAPIErr) {
		e := NewUpstreamError(http.StatusBadGateway, antAPIErr.Message, err)
		switch {
		case antAPIErr.IsAuthenticationErr(), antAPIErr.IsPermissionErr():
			e.StatusCode, e.Reason, e.Retryable = http.StatusUnauthorized, ReasonAuth, false
		case antAPIErr.IsRateLimitErr():
			e.StatusCode, e.Reason, e.Retryable = http.StatusTooManyRequests, ReasonRateLimited, true
		case antAPIErr.IsNotFoundErr():
			e.StatusCode, e.Reason, e.Retryable = http.StatusNotFound, ReasonModel, false
		case antAPIErr.IsInvalidRequestErr():
			e.StatusCode, e.Reason, e.Retryable = http.StatusBadRequest, ReasonRequest, false
		}
		return e
	}

	// No HTTP response: network failure, timeout or cancellation.
	e := &Error{Type: ErrorTypeUpstream, Message: err.Error(), Cause: err}
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		e.Reason = ReasonTimeout
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		e.Reason, e.Retryable = ReasonTimeout, true
	default:
		lower := strings.ToLower(err.Error())
		if strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") {
			e.Reason, e.Retryable = ReasonEndpoint, true
		}
	}
	return e
}

func mentionsModel(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "model") &&
		(strings.Contains(lower, "not found") || strings.Contains(lower, "not a valid") || strings.Contains(lower, "does not exist"))
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}
