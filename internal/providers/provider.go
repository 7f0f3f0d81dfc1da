package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// LLMClient is the interface every text-generation backend implements.
type LLMClient interface {
	// Chat sends a chat completion request. On failure it returns a non-nil
	// result describing the attempt together with the error.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// Name returns the client identifier (e.g., "openrouter").
	Name() string
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ResponseFormat specifies structured output format.
type ResponseFormat struct {
	Type       string          `json:"type"` // "json_schema"
	Name       string          `json:"name,omitempty"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

// ChatRequest is a request to an LLM.
type ChatRequest struct {
	// Required
	Messages []Message `json:"messages"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	// Generation parameters
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// Structured output
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	// PromptKey names the task this request performs. Never sent upstream.
	PromptKey string `json:"-"`

	// Request tracking
	RequestID string `json:"-"`
}

// ChatResult is the complete response from an LLM call.
type ChatResult struct {
	// Response content
	Content    string          `json:"content"`
	ParsedJSON json.RawMessage `json:"parsed_json,omitempty"` // Parsed if ResponseFormat was set

	// Token counts
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// Timing
	ExecutionTime time.Duration `json:"execution_time"`

	// Provider info
	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`

	// Request tracking
	RequestID string `json:"request_id"`

	// Success/error
	Success      bool   `json:"success"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Error types reported by clients.
const (
	ErrorTypeRateLimited   = "rate_limited"
	ErrorTypeTimeout       = "timeout"
	ErrorTypeUnavailable   = "unavailable"
	ErrorTypeHTTP          = "http_error"
	ErrorTypeEmptyResponse = "empty_response"
	ErrorTypeBadRequest    = "bad_request"
)

// ErrEmptyResponse is returned when a backend answers with no content.
var ErrEmptyResponse = errors.New("empty response")

// ProviderError carries a backend failure together with its classification.
type ProviderError struct {
	Provider   string
	Type       string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Type, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Type, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether retrying the same request may succeed.
func (e *ProviderError) Transient() bool {
	switch e.Type {
	case ErrorTypeRateLimited, ErrorTypeTimeout, ErrorTypeUnavailable:
		return true
	}
	return false
}

// classifyStatus maps an HTTP status code onto an error type.
func classifyStatus(code int) string {
	switch {
	case code == 429:
		return ErrorTypeRateLimited
	case code == 408 || code == 504:
		return ErrorTypeTimeout
	case code >= 500:
		return ErrorTypeUnavailable
	case code >= 400:
		return ErrorTypeBadRequest
	default:
		return ErrorTypeHTTP
	}
}

// failedResult fills the error fields of result from err.
func failedResult(result *ChatResult, err error, start time.Time) *ChatResult {
	result.Success = false
	result.ExecutionTime = time.Since(start)
	result.ErrorMessage = err.Error()
	var perr *ProviderError
	if errors.As(err, &perr) {
		result.ErrorType = perr.Type
	} else {
		result.ErrorType = ErrorTypeHTTP
	}
	return result
}

// splitMessages separates system instructions from conversation turns.
func splitMessages(msgs []Message) (system string, turns []Message) {
	for _, m := range msgs {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		turns = append(turns, m)
	}
	return system, turns
}
