package llm

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/guideshelf/internal/db"
	"github.com/jackzampolin/guideshelf/internal/llmcall"
	"github.com/jackzampolin/guideshelf/internal/providers"
)

var testSchema = json.RawMessage(`{
	"type":"object",
	"properties":{"summary":{"type":"string","minLength":1}},
	"required":["summary"]
}`)

func newPort(t *testing.T, mock *providers.MockClient, rec *llmcall.Recorder) *Port {
	t.Helper()
	return NewPort(Config{
		Client:      StaticClient(mock),
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		CallTimeout: time.Second,
		Recorder:    rec,
	})
}

func TestPort_Generate(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes valid response", func(t *testing.T) {
		mock := providers.NewMockClient().RespondJSON("summarize_page", map[string]string{"summary": "ok"})
		var out struct{ Summary string }
		if err := newPort(t, mock, nil).Generate(ctx, Request{PromptKey: "summarize_page", User: "x", Schema: testSchema}, &out); err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if out.Summary != "ok" {
			t.Errorf("Summary = %q", out.Summary)
		}
	})

	t.Run("schema violation is not retried", func(t *testing.T) {
		mock := providers.NewMockClient().RespondJSON("summarize_page", map[string]string{"other": "x"})
		err := newPort(t, mock, nil).Generate(ctx, Request{PromptKey: "summarize_page", Schema: testSchema}, &struct{}{})
		if !errors.Is(err, ErrInvalidResponseSchema) {
			t.Fatalf("expected ErrInvalidResponseSchema, got %v", err)
		}
		if IsTransient(err) {
			t.Error("schema errors are permanent")
		}
		if mock.Calls("summarize_page") != 1 {
			t.Errorf("expected 1 call, got %d", mock.Calls("summarize_page"))
		}
	})

	t.Run("malformed json is rejected", func(t *testing.T) {
		mock := providers.NewMockClient().On("summarize_page", func(*providers.ChatRequest) (string, error) {
			return `here you go: {"summary": "x"`, nil
		})
		err := newPort(t, mock, nil).Generate(ctx, Request{PromptKey: "summarize_page", Schema: testSchema}, &struct{}{})
		if !errors.Is(err, ErrInvalidResponseSchema) {
			t.Fatalf("expected ErrInvalidResponseSchema, got %v", err)
		}
	})

	t.Run("transient errors retry then succeed", func(t *testing.T) {
		var n atomic.Int32
		mock := providers.NewMockClient().On("summarize_page", func(*providers.ChatRequest) (string, error) {
			if n.Add(1) < 3 {
				return "", &providers.ProviderError{Provider: "mock", Type: providers.ErrorTypeRateLimited, Err: errors.New("429")}
			}
			return `{"summary":"third time"}`, nil
		})
		var out struct{ Summary string }
		if err := newPort(t, mock, nil).Generate(ctx, Request{PromptKey: "summarize_page", Schema: testSchema}, &out); err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if out.Summary != "third time" || n.Load() != 3 {
			t.Errorf("unexpected outcome %q after %d calls", out.Summary, n.Load())
		}
	})

	t.Run("retries are bounded", func(t *testing.T) {
		mock := providers.NewMockClient().On("summarize_page", func(*providers.ChatRequest) (string, error) {
			return "", &providers.ProviderError{Provider: "mock", Type: providers.ErrorTypeUnavailable, Err: errors.New("connection reset")}
		})
		err := newPort(t, mock, nil).Generate(ctx, Request{PromptKey: "summarize_page", Schema: testSchema}, &struct{}{})
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
		if mock.Calls("summarize_page") != 3 {
			t.Errorf("expected 3 attempts, got %d", mock.Calls("summarize_page"))
		}
	})

	t.Run("call timeout", func(t *testing.T) {
		mock := providers.NewMockClient()
		mock.Latency = 200 * time.Millisecond
		p := NewPort(Config{Client: StaticClient(mock), MaxAttempts: 2, BaseDelay: time.Millisecond, CallTimeout: 10 * time.Millisecond})

		err := p.Generate(ctx, Request{PromptKey: "slow", Schema: testSchema}, &struct{}{})
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
		if mock.Calls("slow") != 2 {
			t.Errorf("expected 2 attempts, got %d", mock.Calls("slow"))
		}
	})

	t.Run("no client", func(t *testing.T) {
		p := NewPort(Config{})
		if err := p.Generate(ctx, Request{PromptKey: "x"}, nil); !errors.Is(err, ErrNoClient) {
			t.Fatalf("expected ErrNoClient, got %v", err)
		}
	})
}

func TestPort_RecordsCalls(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	defer conn.Close()
	store := llmcall.NewStore(conn)

	mock := providers.NewMockClient().
		RespondJSON("good", map[string]string{"summary": "ok"}).
		RespondJSON("bad", map[string]string{})
	p := newPort(t, mock, llmcall.NewRecorder(store, nil))

	ctx = WithMeta(ctx, CallMeta{BookID: "b1", JobID: "j1"})
	_ = p.Generate(WithPage(ctx, 4), Request{PromptKey: "good", Schema: testSchema}, &struct{}{})
	_ = p.Generate(WithPage(ctx, 5), Request{PromptKey: "bad", Schema: testSchema}, &struct{}{})

	calls, err := store.List(ctx, llmcall.QueryFilter{BookID: "b1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", len(calls))
	}
	byKey := map[string]llmcall.Call{}
	for _, c := range calls {
		byKey[c.PromptKey] = c
	}
	if !byKey["good"].Success || byKey["good"].PageNum != 4 || byKey["good"].JobID != "j1" {
		t.Errorf("unexpected good record %+v", byKey["good"])
	}
	if byKey["bad"].Success || byKey["bad"].Error == "" {
		t.Errorf("schema failure should be recorded as failed: %+v", byKey["bad"])
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &Error{Kind: ErrRateLimited}, true},
		{"timeout", &Error{Kind: ErrTimeout}, true},
		{"unavailable wrapped", errors.Join(errors.New("ctx"), &Error{Kind: ErrUnavailable}), true},
		{"schema", &Error{Kind: ErrInvalidResponseSchema}, false},
		{"plain", errors.New("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient = %v, want %v", got, tt.want)
			}
		})
	}
}
