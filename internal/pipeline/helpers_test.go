package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/guideshelf/internal/blob"
	"github.com/jackzampolin/guideshelf/internal/books"
	"github.com/jackzampolin/guideshelf/internal/boundary"
	"github.com/jackzampolin/guideshelf/internal/index"
	"github.com/jackzampolin/guideshelf/internal/prompts/extract"
	"github.com/jackzampolin/guideshelf/internal/prompts/summaries"
	"github.com/jackzampolin/guideshelf/internal/providers"
	"github.com/jackzampolin/guideshelf/internal/shards"
	"github.com/jackzampolin/guideshelf/internal/stability"
	"github.com/jackzampolin/guideshelf/internal/testutil"
)

var currentPage = regexp.MustCompile(`Current page (\d+)`)

// scripted maps a page number to a boundary decision.
type scripted func(page int) map[string]any

type harness struct {
	t      *testing.T
	ctx    context.Context
	blobs  *blob.MemStore
	books  *books.Repo
	book   *books.Book
	mock   *providers.MockClient
	shards *shards.Store
	index  *index.Manager
	sums   *SummaryStore
	proc   *Processor
}

func newHarness(t *testing.T, pages int, script scripted) *harness {
	t.Helper()
	ctx := context.Background()
	logger := testutil.Logger()

	repo := books.NewRepo(testutil.NewDB(t))
	book, err := repo.Create(ctx, books.NewBook{Title: "Science 7", Grade: "7", Subject: "science", Board: "CBSE"})
	require.NoError(t, err)
	for p := 1; p <= pages; p++ {
		require.NoError(t, repo.PutPage(ctx, book.ID, p, fmt.Sprintf("text of page %d", p)))
		require.NoError(t, repo.ApprovePage(ctx, book.ID, p))
	}

	mock := providers.NewMockClient()
	mock.On(extract.BoundaryKey, func(req *providers.ChatRequest) (string, error) {
		m := currentPage.FindStringSubmatch(userContent(req))
		if m == nil {
			return "", fmt.Errorf("no page number in prompt")
		}
		page, _ := strconv.Atoi(m[1])
		return mustJSON(script(page)), nil
	})
	mock.RespondJSON(extract.SummarizePageKey, map[string]any{"summary": "page summary"})
	mock.RespondJSON(extract.MergeContentKey, map[string]any{"content": "merged guideline"})
	mock.RespondJSON(summaries.SubtopicKey, map[string]any{"summary": "subtopic summary"})
	mock.RespondJSON(summaries.TopicKey, map[string]any{"summary": "topic summary"})
	mock.RespondJSON(summaries.BookKey, map[string]any{"summary": "book so far", "chapter_boundary": false})
	mock.RespondJSON(summaries.CompactKey, map[string]any{"summary": "compacted"})

	port := testutil.NewPort(mock)
	blobs := blob.NewMemStore()
	shardStore := shards.NewStore(blobs, logger)
	mgr := index.NewManager(blobs, shardStore, logger)
	sums := NewSummaryStore(blobs)

	proc := NewProcessor(Config{
		Pages:              repo,
		Shards:             shardStore,
		Index:              mgr,
		Summaries:          sums,
		Classifier:         boundary.New(boundary.Config{Generator: port, Logger: logger}),
		Writer:             NewWriter(port),
		Stability:          stability.New(5),
		IndexWriteAttempts: 3,
		IndexRetryDelay:    time.Millisecond,
		Logger:             logger,
	})

	return &harness{
		t:      t,
		ctx:    ctx,
		blobs:  blobs,
		books:  repo,
		book:   book,
		mock:   mock,
		shards: shardStore,
		index:  mgr,
		sums:   sums,
		proc:   proc,
	}
}

func (h *harness) run(from, to int) []Outcome {
	h.t.Helper()
	var outs []Outcome
	for p := from; p <= to; p++ {
		out, err := h.proc.Process(h.ctx, h.book, p)
		require.NoError(h.t, err, "page %d", p)
		outs = append(outs, out)
	}
	return outs
}

func userContent(req *providers.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

func decision(isNew bool, topic, sub string) map[string]any {
	return map[string]any{
		"is_new_topic":      isNew,
		"topic_key":         topic,
		"subtopic_key":      sub,
		"topic_title":       "Topic " + topic,
		"subtopic_title":    "Subtopic " + sub,
		"extracted_content": "content for " + sub,
		"confidence":        0.9,
	}
}

// speedUntil puts pages 1-last in motion/speed and the rest in
// forces/friction.
func speedUntil(last int) scripted {
	return func(page int) map[string]any {
		switch {
		case page == 1:
			return decision(true, "motion", "speed")
		case page <= last:
			return decision(false, "motion", "speed")
		case page == last+1:
			return decision(true, "forces", "friction")
		default:
			return decision(false, "forces", "friction")
		}
	}
}

// motionThenFriction puts pages 1-6 in motion/speed and 7 onward in
// forces/friction.
func motionThenFriction(page int) map[string]any {
	return speedUntil(6)(page)
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
