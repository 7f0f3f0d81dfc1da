package testutil

import (
	"time"

	"github.com/jackzampolin/guideshelf/internal/llm"
	"github.com/jackzampolin/guideshelf/internal/providers"
)

// NewPort wraps a mock client in a text-generation port with millisecond
// backoff so retry paths run fast.
func NewPort(mock *providers.MockClient) *llm.Port {
	return llm.NewPort(llm.Config{
		Client:      llm.StaticClient(mock),
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		CallTimeout: 5 * time.Second,
		Logger:      Logger(),
	})
}
