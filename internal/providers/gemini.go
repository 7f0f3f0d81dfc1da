package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

const GeminiName = "gemini"

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
	RateLimit    float64 // Requests per minute
}

// GeminiClient implements LLMClient with the Google GenAI SDK.
type GeminiClient struct {
	apiKey       string
	defaultModel string
	rateLimit    float64
	limiter      *RateLimiter
	client       *genai.Client
}

// NewGeminiClient creates a Gemini API client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing gemini API key")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{
		apiKey:       cfg.APIKey,
		defaultModel: cfg.DefaultModel,
		rateLimit:    cfg.RateLimit,
		limiter:      NewRateLimiter(int(cfg.RateLimit)),
		client:       client,
	}, nil
}

// Name returns the client identifier.
func (c *GeminiClient) Name() string {
	return GeminiName
}

// Limiter returns the client's rate limiter.
func (c *GeminiClient) Limiter() *RateLimiter { return c.limiter }

// Chat sends a generate-content request built from the chat messages.
func (c *GeminiClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
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
		Provider:  GeminiName,
		ModelUsed: model,
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return failedResult(result, err, start), err
	}

	system, turns := splitMessages(req.Messages)
	contents := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		role := genai.Role(genai.RoleUser)
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	gcfg := &genai.GenerateContentConfig{}
	if system != "" {
		gcfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature > 0 {
		gcfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		gcfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.ResponseFormat != nil && len(req.ResponseFormat.JSONSchema) > 0 {
		schema, err := ParseSchema(req.ResponseFormat.JSONSchema)
		if err != nil {
			return failedResult(result, err, start), err
		}
		gcfg.ResponseMIMEType = "application/json"
		gcfg.ResponseJsonSchema = schema.Schema
	}

	res, err := c.client.Models.GenerateContent(ctx, model, contents, gcfg)
	if err != nil {
		perr := c.classify(err)
		if perr.Type == ErrorTypeRateLimited {
			c.limiter.Throttle(0)
		}
		return failedResult(result, perr, start), perr
	}

	text := res.Text()
	if strings.TrimSpace(text) == "" {
		perr := &ProviderError{Provider: GeminiName, Type: ErrorTypeEmptyResponse, Err: ErrEmptyResponse}
		return failedResult(result, perr, start), perr
	}

	result.Success = true
	result.Content = text
	if res.UsageMetadata != nil {
		result.PromptTokens = int(res.UsageMetadata.PromptTokenCount)
		result.CompletionTokens = int(res.UsageMetadata.CandidatesTokenCount)
		result.TotalTokens = int(res.UsageMetadata.TotalTokenCount)
	}
	result.ExecutionTime = time.Since(start)

	if req.ResponseFormat != nil {
		if parsed, err := ParseStructuredJSON(text); err == nil {
			result.ParsedJSON = parsed
		}
	}
	return result, nil
}

func (c *GeminiClient) classify(err error) *ProviderError {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: GeminiName, Type: classifyStatus(apiErr.Code), StatusCode: apiErr.Code, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &ProviderError{Provider: GeminiName, Type: classifyStatus(apiErrPtr.Code), StatusCode: apiErrPtr.Code, Err: err}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &ProviderError{Provider: GeminiName, Type: ErrorTypeTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &ProviderError{Provider: GeminiName, Type: ErrorTypeHTTP, Err: err}
	}
	return &ProviderError{Provider: GeminiName, Type: ErrorTypeUnavailable, Err: err}
}
