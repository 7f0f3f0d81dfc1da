package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockHandler produces the raw response content for one request.
type MockHandler func(req *ChatRequest) (string, error)

// MockClient is a scriptable LLMClient for tests and offline runs.
// Requests are routed to handlers by ChatRequest.PromptKey.
type MockClient struct {
	// Latency simulates round-trip time.
	Latency time.Duration
	// ResponseText answers any prompt key without a handler.
	ResponseText string

	mu       sync.Mutex
	handlers map[string]MockHandler
	calls    map[string]int

	requestCount atomic.Int64
}

// NewMockClient creates a new mock client.
func NewMockClient() *MockClient {
	return &MockClient{
		ResponseText: "mock response",
		handlers:     make(map[string]MockHandler),
		calls:        make(map[string]int),
	}
}

// On registers the handler for a prompt key.
func (c *MockClient) On(promptKey string, fn MockHandler) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[promptKey] = fn
	return c
}

// RespondJSON registers a fixed JSON answer for a prompt key.
func (c *MockClient) RespondJSON(promptKey string, v any) *MockClient {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("mock: marshal response for %s: %v", promptKey, err))
	}
	return c.On(promptKey, func(*ChatRequest) (string, error) {
		return string(data), nil
	})
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// RequestCount returns the total number of requests served.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// Calls returns how many requests were made for a prompt key.
func (c *MockClient) Calls(promptKey string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[promptKey]
}

// Chat answers from the handler registered for req.PromptKey.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	c.mu.Lock()
	c.calls[req.PromptKey]++
	handler := c.handlers[req.PromptKey]
	c.mu.Unlock()

	result := &ChatResult{
		RequestID: fmt.Sprintf("mock-%d", count),
		Provider:  MockClientName,
		ModelUsed: req.Model,
	}

	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return failedResult(result, ctx.Err(), start), ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return failedResult(result, err, start), err
	}

	content := c.ResponseText
	if handler != nil {
		var err error
		content, err = handler(req)
		if err != nil {
			return failedResult(result, err, start), err
		}
	}

	result.Success = true
	result.Content = content
	result.ExecutionTime = time.Since(start)

	// Rough token estimate
	for _, m := range req.Messages {
		result.PromptTokens += len(m.Content) / 4
	}
	result.CompletionTokens = len(content) / 4
	result.TotalTokens = result.PromptTokens + result.CompletionTokens

	if req.ResponseFormat != nil {
		if parsed, err := ParseStructuredJSON(content); err == nil {
			result.ParsedJSON = parsed
		}
	}
	return result, nil
}
