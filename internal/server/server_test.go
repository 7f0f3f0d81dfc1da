package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/guideshelf/internal/api"
	"github.com/jackzampolin/guideshelf/internal/home"
	"github.com/jackzampolin/guideshelf/internal/prompts/extract"
	"github.com/jackzampolin/guideshelf/internal/prompts/finalize"
	"github.com/jackzampolin/guideshelf/internal/prompts/summaries"
	"github.com/jackzampolin/guideshelf/internal/providers"
	"github.com/jackzampolin/guideshelf/internal/testutil"
)

var currentPage = regexp.MustCompile(`Current page (\d+)`)

// scriptedLLM answers every collaborator prompt. Pages up to split land in
// motion/speed, later pages in forces/friction.
func scriptedLLM(split int) *providers.MockClient {
	mock := providers.NewMockClient()
	mock.On(extract.BoundaryKey, func(req *providers.ChatRequest) (string, error) {
		var user string
		for _, m := range req.Messages {
			if m.Role == "user" {
				user = m.Content
			}
		}
		m := currentPage.FindStringSubmatch(user)
		if m == nil {
			return "", errors.New("no page number in prompt")
		}
		page, _ := strconv.Atoi(m[1])
		topic, sub, isNew := "motion", "speed", page == 1
		if page > split {
			topic, sub, isNew = "forces", "friction", page == split+1
		}
		return fmt.Sprintf(`{"is_new_topic":%t,"topic_key":%q,"subtopic_key":%q,`+
			`"topic_title":"Topic %s","subtopic_title":"Subtopic %s",`+
			`"extracted_content":"content for %s","confidence":0.9}`,
			isNew, topic, sub, topic, sub, sub), nil
	})
	mock.RespondJSON(extract.SummarizePageKey, map[string]any{"summary": "page summary"})
	mock.RespondJSON(extract.MergeContentKey, map[string]any{"content": "merged guideline"})
	mock.RespondJSON(summaries.SubtopicKey, map[string]any{"summary": "subtopic summary"})
	mock.RespondJSON(summaries.TopicKey, map[string]any{"summary": "topic summary"})
	mock.RespondJSON(summaries.BookKey, map[string]any{"summary": "book so far", "chapter_boundary": false})
	mock.RespondJSON(summaries.CompactKey, map[string]any{"summary": "compacted"})
	mock.RespondJSON(finalize.RenameKey, map[string]any{"renames": []any{}})
	mock.RespondJSON(finalize.DuplicateScreenKey, map[string]any{"pairs": []any{}})
	mock.RespondJSON(finalize.DuplicateCheckKey, map[string]any{"duplicate": false, "confidence": 0.9, "reason": "different"})
	return mock
}

type testServer struct {
	srv    *Server
	url    string
	client *api.Client
	stop   func() error
}

// startServer runs a server in a temp home with the given LLM client and
// stops it on cleanup.
func startServer(t *testing.T, llm providers.LLMClient) *testServer {
	t.Helper()
	cfg := testutil.NewServerConfig(t)

	dir, err := home.New(cfg.HomeDir)
	require.NoError(t, err)

	srv, err := New(Config{
		Host:      cfg.Host,
		Port:      cfg.Port,
		Home:      dir,
		LLMClient: llm,
		Logger:    cfg.Logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	if err := testutil.WaitForServer(cfg.URL(), 30*time.Second); err != nil {
		cancel()
		t.Fatalf("server did not start: %v", err)
	}

	var stopped bool
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		return testutil.WaitForShutdown(done, 30*time.Second)
	}
	t.Cleanup(func() { _ = stop() })

	return &testServer{srv: srv, url: cfg.URL(), client: api.NewClient(cfg.URL()), stop: stop}
}

func statusCode(err error) int {
	var se *api.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

func TestNew_RequiresHome(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestServer_Lifecycle(t *testing.T) {
	ts := startServer(t, scriptedLLM(3))
	ctx := context.Background()

	t.Run("health", func(t *testing.T) {
		var resp struct {
			Status string `json:"status"`
		}
		require.NoError(t, ts.client.Get(ctx, "/health", &resp))
		assert.Equal(t, "ok", resp.Status)
	})

	t.Run("ready", func(t *testing.T) {
		var resp struct {
			Status   string `json:"status"`
			Database string `json:"database"`
		}
		require.NoError(t, ts.client.Get(ctx, "/ready", &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "ok", resp.Database)
	})

	t.Run("status", func(t *testing.T) {
		var resp map[string]any
		require.NoError(t, ts.client.Get(ctx, "/status", &resp))
		assert.Contains(t, resp, "running_jobs")
	})

	t.Run("services", func(t *testing.T) {
		assert.True(t, ts.srv.IsRunning())
		require.NotNil(t, ts.srv.Services())
		assert.NotNil(t, ts.srv.Services().Coordinator)
	})

	t.Run("second start rejected", func(t *testing.T) {
		err := ts.srv.Start(ctx)
		require.Error(t, err)
	})

	require.NoError(t, ts.stop())
	assert.False(t, ts.srv.IsRunning())
	assert.Nil(t, ts.srv.Services())

	_, err := http.Get(ts.url + "/health")
	assert.Error(t, err, "listener should be closed after shutdown")
}

func TestServer_ErrorMapping(t *testing.T) {
	ts := startServer(t, scriptedLLM(3))
	ctx := context.Background()

	var book struct {
		ID string `json:"id"`
	}
	require.NoError(t, ts.client.Post(ctx, "/api/books", map[string]any{"title": "Science 7"}, &book))

	tests := []struct {
		name   string
		call   func() error
		status int
	}{
		{
			name:   "unknown book",
			call:   func() error { return ts.client.Get(ctx, "/api/books/missing", nil) },
			status: http.StatusNotFound,
		},
		{
			name:   "unknown job",
			call:   func() error { return ts.client.Get(ctx, "/api/jobs/missing", nil) },
			status: http.StatusNotFound,
		},
		{
			name:   "empty title",
			call:   func() error { return ts.client.Post(ctx, "/api/books", map[string]any{}, nil) },
			status: http.StatusBadRequest,
		},
		{
			name:   "extract with nothing approved",
			call:   func() error { return ts.client.Post(ctx, "/api/books/"+book.ID+"/extract", nil, nil) },
			status: http.StatusBadRequest,
		},
		{
			name:   "finalize before extraction",
			call:   func() error { return ts.client.Post(ctx, "/api/books/"+book.ID+"/finalize", nil, nil) },
			status: http.StatusConflict,
		},
		{
			name:   "sync before finalization",
			call:   func() error { return ts.client.Post(ctx, "/api/books/"+book.ID+"/sync", nil, nil) },
			status: http.StatusConflict,
		},
		{
			name:   "bad job type",
			call:   func() error { return ts.client.Get(ctx, "/api/books/"+book.ID+"/jobs/ocr", nil) },
			status: http.StatusBadRequest,
		},
		{
			name:   "bad shard key",
			call:   func() error { return ts.client.Get(ctx, "/api/books/"+book.ID+"/shards/Motion/speed", nil) },
			status: http.StatusBadRequest,
		},
		{
			name:   "missing shard",
			call:   func() error { return ts.client.Get(ctx, "/api/books/"+book.ID+"/shards/motion/speed", nil) },
			status: http.StatusNotFound,
		},
		{
			name:   "unknown prompt",
			call:   func() error { return ts.client.Get(ctx, "/api/prompts/nope", nil) },
			status: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.status, statusCode(err), err.Error())
		})
	}
}
