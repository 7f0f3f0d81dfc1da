package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/guideshelf/internal/books"
	"github.com/jackzampolin/guideshelf/internal/index"
	"github.com/jackzampolin/guideshelf/internal/prompts/extract"
	"github.com/jackzampolin/guideshelf/internal/prompts/summaries"
	"github.com/jackzampolin/guideshelf/internal/shards"
)

var (
	speed    = shards.Key{TopicKey: "motion", SubtopicKey: "speed"}
	friction = shards.Key{TopicKey: "forces", SubtopicKey: "friction"}
)

func TestProcess_TwoSubtopics(t *testing.T) {
	h := newHarness(t, 8, motionThenFriction)
	outs := h.run(1, 8)

	for _, out := range outs {
		assert.Equal(t, StatusSuccess, out.Status, "page %d", out.PageNum)
	}
	assert.True(t, outs[0].NewTopic)
	assert.False(t, outs[1].NewTopic)
	assert.True(t, outs[6].NewTopic)

	list, err := h.shards.List(h.ctx, h.book.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	sp, err := h.shards.Get(h.ctx, h.book.ID, speed)
	require.NoError(t, err)
	assert.Equal(t, 6, sp.Version)
	assert.Equal(t, 1, sp.SourcePageStart)
	assert.Equal(t, 6, sp.SourcePageEnd)
	assert.Equal(t, "Topic motion", sp.TopicTitle)
	assert.Equal(t, "subtopic summary", sp.SubtopicSummary)
	assert.Equal(t, "topic summary", sp.TopicSummary)

	fr, err := h.shards.Get(h.ctx, h.book.ID, friction)
	require.NoError(t, err)
	assert.Equal(t, 2, fr.Version)
	assert.Equal(t, 7, fr.SourcePageStart)
	assert.Equal(t, 8, fr.SourcePageEnd)

	assignments, err := h.index.PageAssignments(h.ctx, h.book.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 8)
	for _, a := range assignments {
		want := speed
		if a.Page >= 7 {
			want = friction
		}
		assert.Equal(t, want, a.Key(), "page %d", a.Page)
		assert.InDelta(t, 0.9, a.Confidence, 1e-9)
	}

	idx, err := h.index.Load(h.ctx, h.book.ID)
	require.NoError(t, err)
	e, ok := idx.Subtopic(speed)
	require.True(t, ok)
	assert.Equal(t, "1-6", e.Pages.String())
	assert.Equal(t, index.StatusOpen, e.Status)
	assert.Equal(t, 6, e.Version)

	rs, err := h.sums.Rolling(h.ctx, h.book.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, rs.PageNum)
	assert.Equal(t, "book so far", rs.Summary)

	ps, err := h.sums.GetPage(h.ctx, h.book.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, "page summary", ps.Summary)
}

func TestProcess_ReprocessSkips(t *testing.T) {
	h := newHarness(t, 8, motionThenFriction)
	h.run(1, 8)
	calls := h.mock.Calls(extract.BoundaryKey)

	for _, out := range h.run(1, 8) {
		assert.Equal(t, StatusSkipped, out.Status, "page %d", out.PageNum)
	}
	assert.Equal(t, calls, h.mock.Calls(extract.BoundaryKey))

	sp, err := h.shards.Get(h.ctx, h.book.ID, speed)
	require.NoError(t, err)
	assert.Equal(t, 6, sp.Version)
}

func TestProcess_PageFailureContinues(t *testing.T) {
	h := newHarness(t, 6, func(page int) map[string]any {
		d := motionThenFriction(page)
		if page == 4 {
			d["extracted_content"] = ""
		}
		return d
	})
	outs := h.run(1, 6)

	failed := outs[3]
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, StageClassify, failed.Stage)
	assert.NotEmpty(t, failed.Reason)
	assert.Equal(t, StatusSuccess, outs[4].Status)

	sp, err := h.shards.Get(h.ctx, h.book.ID, speed)
	require.NoError(t, err)
	assert.Equal(t, 5, sp.Version)

	pi, err := h.index.LoadPages(h.ctx, h.book.ID)
	require.NoError(t, err)
	assert.NotContains(t, pi.Pages, 4)
	assert.Len(t, pi.Pages, 5)

	idx, err := h.index.Load(h.ctx, h.book.ID)
	require.NoError(t, err)
	e, _ := idx.Subtopic(speed)
	assert.Equal(t, "1-3,5-6", e.Pages.String())
}

func TestProcess_IndexWriteFailureIsCritical(t *testing.T) {
	h := newHarness(t, 8, motionThenFriction)
	h.run(1, 2)

	indexKey := index.IndexKey(h.book.ID)
	h.blobs.SetPutHook(func(key string) error {
		if key == indexKey {
			return errors.New("storage unavailable")
		}
		return nil
	})
	_, err := h.proc.Process(h.ctx, h.book, 3)
	require.Error(t, err)
	assert.True(t, IsCritical(err))
	var ce *CriticalError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StageIndexWrite, ce.Stage)
	assert.Equal(t, 3, ce.Page)

	// The shard write landed before the index failed.
	sp, err := h.shards.Get(h.ctx, h.book.ID, speed)
	require.NoError(t, err)
	assert.Equal(t, 3, sp.Version)

	h.blobs.SetPutHook(nil)
	report, err := h.index.Reconcile(h.ctx, h.book.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"motion/speed"}, report.Updated)

	out, err := h.proc.Process(h.ctx, h.book, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, out.Status)

	pi, err := h.index.LoadPages(h.ctx, h.book.ID)
	require.NoError(t, err)
	require.Contains(t, pi.Pages, 3)
	assert.False(t, pi.Pages[3].Provisional)
	assert.InDelta(t, 0.9, pi.Pages[3].Confidence, 1e-9)

	h.run(4, 8)
	sp, err = h.shards.Get(h.ctx, h.book.ID, speed)
	require.NoError(t, err)
	assert.Equal(t, 6, sp.Version)
	assignments, err := h.index.PageAssignments(h.ctx, h.book.ID)
	require.NoError(t, err)
	assert.Len(t, assignments, 8)
}

func TestProcess_ResumeAppliesStability(t *testing.T) {
	h := newHarness(t, 15, speedUntil(10))
	h.run(1, 14)

	indexKey := index.IndexKey(h.book.ID)
	writes := 0
	h.blobs.SetPutHook(func(key string) error {
		if key != indexKey {
			return nil
		}
		writes++
		if writes > 1 {
			return errors.New("storage unavailable")
		}
		return nil
	})
	_, err := h.proc.Process(h.ctx, h.book, 15)
	var ce *CriticalError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StageStability, ce.Stage)

	h.blobs.SetPutHook(nil)
	_, err = h.index.Reconcile(h.ctx, h.book.ID)
	require.NoError(t, err)

	out, err := h.proc.Process(h.ctx, h.book, 15)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Equal(t, []string{"motion/speed"}, out.Stabilized)

	idx, err := h.index.Load(h.ctx, h.book.ID)
	require.NoError(t, err)
	e, _ := idx.Subtopic(speed)
	assert.Equal(t, 10, e.SourcePageEnd)
	assert.Equal(t, index.StatusStable, e.Status)
}

func TestProcess_ResumeAfterAssignmentWrite(t *testing.T) {
	h := newHarness(t, 6, motionThenFriction)
	h.run(1, 4)

	pagesKey := index.PageIndexKey(h.book.ID)
	h.blobs.SetPutHook(func(key string) error {
		if key == pagesKey {
			return errors.New("storage unavailable")
		}
		return nil
	})
	_, err := h.proc.Process(h.ctx, h.book, 5)
	var ce *CriticalError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StageIndexWrite, ce.Stage)

	rs, err := h.sums.Rolling(h.ctx, h.book.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, rs.PageNum)

	h.blobs.SetPutHook(nil)
	_, err = h.index.Reconcile(h.ctx, h.book.ID)
	require.NoError(t, err)
	calls := h.mock.Calls(extract.BoundaryKey)

	out, err := h.proc.Process(h.ctx, h.book, 5)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Empty(t, out.Warnings)
	assert.Equal(t, calls, h.mock.Calls(extract.BoundaryKey))

	rs, err = h.sums.Rolling(h.ctx, h.book.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, rs.PageNum)

	pi, err := h.index.LoadPages(h.ctx, h.book.ID)
	require.NoError(t, err)
	require.Contains(t, pi.Pages, 5)
	assert.Equal(t, speed, pi.Pages[5].Key())
	assert.InDelta(t, 0.9, pi.Pages[5].Confidence, 1e-9)
	assert.False(t, pi.Pages[5].Provisional)
}

func TestProcess_RecoveredAssignmentWithoutDecision(t *testing.T) {
	h := newHarness(t, 4, motionThenFriction)
	h.run(1, 2)

	pagesKey := index.PageIndexKey(h.book.ID)
	h.blobs.SetPutHook(func(key string) error {
		if key == pagesKey {
			return errors.New("storage unavailable")
		}
		return nil
	})
	_, err := h.proc.Process(h.ctx, h.book, 3)
	require.Error(t, err)

	h.blobs.SetPutHook(nil)
	require.NoError(t, h.blobs.Delete(h.ctx, PageSummaryKey(h.book.ID, 3)))

	out, err := h.proc.Process(h.ctx, h.book, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.NotEmpty(t, out.Warnings)

	pi, err := h.index.LoadPages(h.ctx, h.book.ID)
	require.NoError(t, err)
	require.Contains(t, pi.Pages, 3)
	assert.True(t, pi.Pages[3].Provisional)
	assert.Zero(t, pi.Pages[3].Confidence)
}

func TestProcess_UnapprovedPage(t *testing.T) {
	h := newHarness(t, 2, motionThenFriction)
	require.NoError(t, h.books.PutPage(h.ctx, h.book.ID, 3, "draft"))

	_, err := h.proc.Process(h.ctx, h.book, 3)
	require.ErrorIs(t, err, books.ErrPageNotApproved)
	assert.False(t, IsCritical(err))

	_, err = h.proc.Process(h.ctx, h.book, 40)
	require.ErrorIs(t, err, books.ErrPageNotApproved)
}

func TestProcess_StabilizesDistantSubtopics(t *testing.T) {
	h := newHarness(t, 7, func(page int) map[string]any {
		switch page {
		case 1:
			return decision(true, "motion", "speed")
		case 2:
			return decision(true, "forces", "friction")
		default:
			return decision(false, "forces", "friction")
		}
	})
	outs := h.run(1, 7)

	assert.Empty(t, outs[4].Stabilized)
	assert.Equal(t, []string{"motion/speed"}, outs[5].Stabilized)

	idx, err := h.index.Load(h.ctx, h.book.ID)
	require.NoError(t, err)
	e, _ := idx.Subtopic(speed)
	assert.Equal(t, index.StatusStable, e.Status)
	e, _ = idx.Subtopic(friction)
	assert.Equal(t, index.StatusOpen, e.Status)
}

func TestProcess_SummaryFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, 2, motionThenFriction)
	h.mock.RespondJSON(summaries.TopicKey, map[string]any{"wrong": true})

	outs := h.run(1, 2)
	for _, out := range outs {
		assert.Equal(t, StatusSuccess, out.Status)
		assert.NotEmpty(t, out.Warnings)
	}
	sp, err := h.shards.Get(h.ctx, h.book.ID, speed)
	require.NoError(t, err)
	assert.Equal(t, "subtopic summary", sp.SubtopicSummary)
	assert.Empty(t, sp.TopicSummary)
}

func TestProcess_ChapterBoundaryCompactsSummary(t *testing.T) {
	h := newHarness(t, 2, motionThenFriction)
	h.mock.RespondJSON(summaries.BookKey, map[string]any{"summary": "long summary", "chapter_boundary": true})

	h.run(1, 2)

	rs, err := h.sums.Rolling(h.ctx, h.book.ID)
	require.NoError(t, err)
	assert.Equal(t, "compacted", rs.Summary)
	assert.Equal(t, 2, rs.Chapters)
	assert.Equal(t, 2, rs.PageNum)
	assert.Equal(t, 2, h.mock.Calls(summaries.CompactKey))
}
