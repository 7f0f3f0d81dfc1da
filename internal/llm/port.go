// Package llm is the text-generation port every pipeline component talks to.
//
// A Generator takes a prompt and a JSON schema and fills a Go value from the
// validated response. Timeouts, bounded exponential retry of transient
// failures, schema validation and call recording all happen here so callers
// only see success, a classified failure, or ErrInvalidResponseSchema.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/jackzampolin/guideshelf/internal/llmcall"
	"github.com/jackzampolin/guideshelf/internal/providers"
)

// Request is one structured generation call.
type Request struct {
	// PromptKey identifies the task (e.g. "boundary").
	PromptKey string
	System    string
	User      string
	// Schema is the JSON schema the response must satisfy.
	Schema      json.RawMessage
	Temperature float64
	MaxTokens   int
}

// Generator is the text-generation port.
type Generator interface {
	// Generate runs req and decodes the validated response into out.
	Generate(ctx context.Context, req Request, out any) error
}

// ClientSource resolves the client to use for a call, allowing the registry
// to be hot-reloaded between calls.
type ClientSource func() (providers.LLMClient, error)

// StaticClient returns a ClientSource that always yields c.
func StaticClient(c providers.LLMClient) ClientSource {
	return func() (providers.LLMClient, error) {
		if c == nil {
			return nil, ErrNoClient
		}
		return c, nil
	}
}

// Config configures a Port.
type Config struct {
	Client      ClientSource
	MaxAttempts int           // default 3
	BaseDelay   time.Duration // default 1s; doubles per retry
	MaxDelay    time.Duration // default 30s
	CallTimeout time.Duration // default 120s
	Recorder    *llmcall.Recorder
	Logger      *slog.Logger
}

// Port implements Generator over a providers.LLMClient.
type Port struct {
	client      ClientSource
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	callTimeout time.Duration
	recorder    *llmcall.Recorder
	logger      *slog.Logger
}

// NewPort creates a Port with defaults applied.
func NewPort(cfg Config) *Port {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Client == nil {
		cfg.Client = StaticClient(nil)
	}
	return &Port{
		client:      cfg.Client,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		callTimeout: cfg.CallTimeout,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger,
	}
}

// Generate implements Generator.
func (p *Port) Generate(ctx context.Context, req Request, out any) error {
	client, err := p.client()
	if err != nil {
		return err
	}

	chatReq := &providers.ChatRequest{
		Messages:    buildMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		PromptKey:   req.PromptKey,
		RequestID:   uuid.New().String(),
	}
	if len(req.Schema) > 0 {
		chatReq.ResponseFormat = &providers.ResponseFormat{
			Type:       "json_schema",
			Name:       req.PromptKey,
			JSONSchema: req.Schema,
		}
	}

	meta := MetaFrom(ctx)
	var (
		attempts   uint
		lastResult *providers.ChatResult
	)

	err = retry.Do(
		func() error {
			attempts++
			callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
			defer cancel()

			result, err := client.Chat(callCtx, chatReq)
			lastResult = result
			if err != nil {
				return classify(err, callCtx, ctx)
			}
			return decode(req.Schema, result, out)
		},
		retry.Context(ctx),
		retry.Attempts(uint(p.maxAttempts)),
		retry.Delay(p.baseDelay),
		retry.MaxDelay(p.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Debug("retrying LLM call",
				"prompt_key", req.PromptKey,
				"attempt", n+1,
				"book_id", meta.BookID,
				"page_num", meta.PageNum,
				"error", err)
		}),
	)

	p.recorder.Record(ctx, lastResult, llmcall.RecordOptions{
		BookID:    meta.BookID,
		JobID:     meta.JobID,
		PageNum:   meta.PageNum,
		PromptKey: req.PromptKey,
		Attempts:  int(attempts),
		Err:       err,
	})

	if err != nil {
		return fmt.Errorf("%s: %w", req.PromptKey, err)
	}
	return nil
}

func buildMessages(req Request) []providers.Message {
	var msgs []providers.Message
	if req.System != "" {
		msgs = append(msgs, providers.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, providers.Message{Role: "user", Content: req.User})
	return msgs
}

// decode validates the response against schema and unmarshals it into out.
func decode(schema json.RawMessage, result *providers.ChatResult, out any) error {
	if result == nil || !result.Success {
		return &Error{Kind: ErrInvalidResponseSchema, Err: errors.New("no successful result")}
	}

	parsed := result.ParsedJSON
	if len(parsed) == 0 {
		var err error
		parsed, err = providers.ParseStructuredJSON(result.Content)
		if err != nil {
			return &Error{Kind: ErrInvalidResponseSchema, Err: err}
		}
	}
	if err := providers.ValidateStructuredJSON(schema, parsed); err != nil {
		return &Error{Kind: ErrInvalidResponseSchema, Err: err}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(parsed, out); err != nil {
		return &Error{Kind: ErrInvalidResponseSchema, Err: err}
	}
	return nil
}
