package server

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/guideshelf/internal/books"
	"github.com/jackzampolin/guideshelf/internal/index"
	"github.com/jackzampolin/guideshelf/internal/jobs"
	"github.com/jackzampolin/guideshelf/internal/metrics"
	"github.com/jackzampolin/guideshelf/internal/pipeline"
	"github.com/jackzampolin/guideshelf/internal/prompts/extract"
	"github.com/jackzampolin/guideshelf/internal/publish"
	"github.com/jackzampolin/guideshelf/internal/shards"
)

// waitJob polls a job until it reaches a terminal status.
func waitJob(t *testing.T, ts *testServer, id string) jobs.Record {
	t.Helper()
	var rec jobs.Record
	require.Eventually(t, func() bool {
		rec = jobs.Record{}
		if err := ts.client.Get(context.Background(), "/api/jobs/"+id, &rec); err != nil {
			return false
		}
		return rec.Status.Terminal()
	}, 30*time.Second, 50*time.Millisecond, "job %s did not finish", id)
	return rec
}

func startJob(t *testing.T, ts *testServer, path string, body any) jobs.Record {
	t.Helper()
	var rec jobs.Record
	require.NoError(t, ts.client.Post(context.Background(), path, body, &rec))
	require.NotEmpty(t, rec.ID)
	return waitJob(t, ts, rec.ID)
}

func TestServer_BookPipeline(t *testing.T) {
	const pages = 6
	ts := startServer(t, scriptedLLM(3))
	ctx := context.Background()

	var book books.Book
	require.NoError(t, ts.client.Post(ctx, "/api/books", map[string]any{
		"title":   "Science 7",
		"grade":   "7",
		"subject": "science",
		"board":   "CBSE",
	}, &book))
	bookPath := "/api/books/" + book.ID

	for p := 1; p <= pages; p++ {
		path := fmt.Sprintf("%s/pages/%d", bookPath, p)
		require.NoError(t, ts.client.Put(ctx, path, map[string]any{"text": fmt.Sprintf("text of page %d", p)}, nil))
		require.NoError(t, ts.client.Post(ctx, path+"/approve", nil, nil))
	}

	var page books.Page
	require.NoError(t, ts.client.Get(ctx, bookPath+"/pages/2", &page))
	assert.True(t, page.Approved)
	assert.Equal(t, "text of page 2", page.Text)

	t.Run("extraction", func(t *testing.T) {
		rec := startJob(t, ts, bookPath+"/extract", nil)
		require.Equal(t, jobs.StatusCompleted, rec.Status, rec.Error)
		assert.Equal(t, pages, rec.Checkpoint)
		assert.Equal(t, pages, rec.Processed)
		assert.Zero(t, rec.Failed)

		var idx index.BookIndex
		require.NoError(t, ts.client.Get(ctx, bookPath+"/index", &idx))
		require.Contains(t, idx.Topics, "motion")
		require.Contains(t, idx.Topics, "forces")
		assert.Contains(t, idx.Topics["motion"].Subtopics, "speed")
		assert.Contains(t, idx.Topics["forces"].Subtopics, "friction")

		var assigned struct {
			Assignments []index.Assignment `json:"assignments"`
		}
		require.NoError(t, ts.client.Get(ctx, bookPath+"/assignments", &assigned))
		assert.Len(t, assigned.Assignments, pages)

		var sh shards.Shard
		require.NoError(t, ts.client.Get(ctx, bookPath+"/shards/motion/speed", &sh))
		assert.Equal(t, "speed", sh.SubtopicKey)

		var rs pipeline.RollingSummary
		require.NoError(t, ts.client.Get(ctx, bookPath+"/summary", &rs))

		// Approved page text cannot change.
		err := ts.client.Put(ctx, bookPath+"/pages/1", map[string]any{"text": "changed"}, nil)
		require.Error(t, err)
		assert.Equal(t, 409, statusCode(err))
	})

	t.Run("finalization", func(t *testing.T) {
		rec := startJob(t, ts, bookPath+"/finalize", nil)
		require.Equal(t, jobs.StatusCompleted, rec.Status, rec.Error)
	})

	t.Run("sync", func(t *testing.T) {
		rec := startJob(t, ts, bookPath+"/sync", nil)
		require.Equal(t, jobs.StatusCompleted, rec.Status, rec.Error)

		var resp struct {
			Guidelines []publish.Guideline `json:"guidelines"`
		}
		require.NoError(t, ts.client.Get(ctx, bookPath+"/guidelines", &resp))
		require.Len(t, resp.Guidelines, 2)
		for _, g := range resp.Guidelines {
			assert.Equal(t, book.ID, g.BookID)
			assert.NotEmpty(t, g.Content)
		}
	})

	t.Run("stages", func(t *testing.T) {
		var resp struct {
			Stages []pipeline.PhaseReport `json:"stages"`
		}
		require.NoError(t, ts.client.Get(ctx, bookPath+"/stages", &resp))
		require.Len(t, resp.Stages, 3)
		for _, s := range resp.Stages {
			assert.True(t, s.Complete, "stage %s", s.Name)
		}
	})

	t.Run("jobs listing", func(t *testing.T) {
		var resp struct {
			Jobs []jobs.Record `json:"jobs"`
		}
		require.NoError(t, ts.client.Get(ctx, "/api/jobs?book_id="+book.ID, &resp))
		assert.Len(t, resp.Jobs, 3)

		var latest jobs.Record
		require.NoError(t, ts.client.Get(ctx, bookPath+"/jobs/extraction", &latest))
		assert.Equal(t, jobs.TypeExtraction, latest.Type)
	})

	t.Run("llm calls recorded", func(t *testing.T) {
		var resp struct {
			Total int `json:"total"`
		}
		require.NoError(t, ts.client.Get(ctx, "/api/llmcalls?limit=1000&book_id="+book.ID, &resp))
		assert.Positive(t, resp.Total)

		var counts struct {
			Counts map[string]int `json:"counts"`
		}
		require.NoError(t, ts.client.Get(ctx, "/api/llmcalls/counts/"+book.ID, &counts))
		assert.Positive(t, counts.Counts[extract.BoundaryKey])

		var sum metrics.Summary
		require.NoError(t, ts.client.Get(ctx, "/api/metrics?book_id="+book.ID, &sum))
		assert.Equal(t, resp.Total, sum.Total.Count)
		assert.Equal(t, counts.Counts[extract.BoundaryKey], sum.ByPromptKey[extract.BoundaryKey].Count)
	})
}
