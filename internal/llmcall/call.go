// Package llmcall provides LLM call recording and querying for traceability.
// Every collaborator call is recorded with its prompt key, response, and metrics.
package llmcall

import (
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/guideshelf/internal/providers"
)

// Call represents a recorded LLM API call.
type Call struct {
	// Unique identifier
	ID string `json:"id"`

	// Timing
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int       `json:"latency_ms"`

	// Context references
	BookID  string `json:"book_id,omitempty"`
	JobID   string `json:"job_id,omitempty"`
	PageNum int    `json:"page_num,omitempty"`

	// Prompt traceability
	PromptKey string `json:"prompt_key"`

	// Model info
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// Token usage
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	// Attempts made, including retries.
	Attempts int `json:"attempts"`

	// Response
	Response string `json:"response"`

	// Status
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RecordOptions provides context for recording an LLM call.
type RecordOptions struct {
	// Context references (all optional)
	BookID  string
	JobID   string
	PageNum int

	// Prompt identification (required for traceability)
	PromptKey string

	Attempts int
	// Err overrides the result's error message, e.g. for schema rejections.
	Err error
}

// FromChatResult creates a Call from a ChatResult.
// A nil result still yields a record when opts.Err is set.
func FromChatResult(result *providers.ChatResult, opts RecordOptions) *Call {
	if result == nil && opts.Err == nil {
		return nil
	}

	call := &Call{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		BookID:    opts.BookID,
		JobID:     opts.JobID,
		PageNum:   opts.PageNum,
		PromptKey: opts.PromptKey,
		Attempts:  opts.Attempts,
	}
	if call.Attempts == 0 {
		call.Attempts = 1
	}

	if result != nil {
		call.LatencyMs = int(result.ExecutionTime.Milliseconds())
		call.Provider = result.Provider
		call.Model = result.ModelUsed
		call.InputTokens = result.PromptTokens
		call.OutputTokens = result.CompletionTokens
		call.Response = result.Content
		call.Success = result.Success
		if !result.Success {
			call.Error = result.ErrorMessage
		}
	}

	if opts.Err != nil {
		call.Success = false
		call.Error = opts.Err.Error()
	}

	return call
}
