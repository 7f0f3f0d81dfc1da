package providers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	OpenAIName        = "openai"
	OpenRouterName    = "openrouter"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenAIConfig configures an OpenAI-compatible chat client. OpenRouter uses
// the same client with its own base URL.
type OpenAIConfig struct {
	Name         string // "openai" or "openrouter"
	APIKey       string
	BaseURL      string
	DefaultModel string
	RateLimit    float64 // Requests per minute
	Timeout      time.Duration
	HTTPClient   *http.Client // Optional (tests)
}

// OpenAIClient implements LLMClient with the official OpenAI SDK.
type OpenAIClient struct {
	name         string
	apiKey       string
	baseURL      string
	defaultModel string
	rateLimit    float64
	limiter      *RateLimiter
	client       openai.Client
}

// NewOpenAIClient creates a chat client. Retries are disabled in the SDK;
// callers own the retry policy.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Name == "" {
		cfg.Name = OpenAIName
	}
	if cfg.BaseURL == "" && cfg.Name == OpenRouterName {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		name:         cfg.Name,
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		rateLimit:    cfg.RateLimit,
		limiter:      NewRateLimiter(int(cfg.RateLimit)),
		client:       openai.NewClient(opts...),
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string {
	return c.name
}

// Limiter returns the client's rate limiter.
func (c *OpenAIClient) Limiter() *RateLimiter { return c.limiter }

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	result := &ChatResult{
		RequestID: requestID,
		Provider:  c.name,
		ModelUsed: model,
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return failedResult(result, err, start), err
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	if req.ResponseFormat != nil && len(req.ResponseFormat.JSONSchema) > 0 {
		rf, err := c.responseFormat(model, req.ResponseFormat)
		if err != nil {
			return failedResult(result, err, start), err
		}
		if rf != nil {
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONSchema: rf}
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		perr := c.classify(err)
		if perr.Type == ErrorTypeRateLimited {
			c.limiter.Throttle(perr.RetryAfter)
		}
		return failedResult(result, perr, start), perr
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		perr := &ProviderError{Provider: c.name, Type: ErrorTypeEmptyResponse, Err: ErrEmptyResponse}
		return failedResult(result, perr, start), perr
	}

	result.Success = true
	result.Content = resp.Choices[0].Message.Content
	result.PromptTokens = int(resp.Usage.PromptTokens)
	result.CompletionTokens = int(resp.Usage.CompletionTokens)
	result.TotalTokens = int(resp.Usage.TotalTokens)
	if resp.Model != "" {
		result.ModelUsed = resp.Model
	}
	result.ExecutionTime = time.Since(start)

	if req.ResponseFormat != nil {
		if parsed, err := ParseStructuredJSON(result.Content); err == nil {
			result.ParsedJSON = parsed
		}
	}
	return result, nil
}

// responseFormat builds the SDK json_schema response format. Anthropic
// models routed through OpenRouter get prompt-only structure and local
// validation instead.
func (c *OpenAIClient) responseFormat(model string, rf *ResponseFormat) (*shared.ResponseFormatJSONSchemaParam, error) {
	if c.name == OpenRouterName && isAnthropicModel(model) {
		return nil, nil
	}

	schema, err := ParseSchema(rf.JSONSchema)
	if err != nil {
		return nil, err
	}
	schema = schema.ForModel(model)

	name := rf.Name
	if name == "" {
		name = schema.Name
	}
	if name == "" {
		name = "response"
	}
	return &shared.ResponseFormatJSONSchemaParam{
		JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
			Name:   name,
			Schema: schema.Schema,
			Strict: openai.Bool(false),
		},
	}, nil
}

func (c *OpenAIClient) classify(err error) *ProviderError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		perr := &ProviderError{
			Provider:   c.name,
			Type:       classifyStatus(apiErr.StatusCode),
			StatusCode: apiErr.StatusCode,
			Err:        err,
		}
		if apiErr.Response != nil {
			perr.RetryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return perr
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &ProviderError{Provider: c.name, Type: ErrorTypeTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &ProviderError{Provider: c.name, Type: ErrorTypeHTTP, Err: err}
	}
	// Connection resets and refusals.
	return &ProviderError{Provider: c.name, Type: ErrorTypeUnavailable, Err: err}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v + "s"); err == nil {
		return d
	}
	return 0
}
