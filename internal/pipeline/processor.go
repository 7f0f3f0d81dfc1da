// Package pipeline drives one page at a time through summarization, boundary
// classification, shard create-or-merge, index maintenance, the rolling book
// summary and the stability pass.
//
// Pages of one book are processed strictly in order by a single writer. The
// shard write is the commit point of a page: every collaborator call happens
// before it, and index writes after it are retried until they land or the
// failure is escalated as critical.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/guideshelf/internal/blob"
	"github.com/jackzampolin/guideshelf/internal/books"
	"github.com/jackzampolin/guideshelf/internal/boundary"
	"github.com/jackzampolin/guideshelf/internal/index"
	"github.com/jackzampolin/guideshelf/internal/llm"
	"github.com/jackzampolin/guideshelf/internal/prompts/summaries"
	"github.com/jackzampolin/guideshelf/internal/shards"
	"github.com/jackzampolin/guideshelf/internal/stability"
	"github.com/jackzampolin/guideshelf/internal/textutil"
)

// PageSource supplies book metadata and approved page text.
type PageSource interface {
	Get(ctx context.Context, bookID string) (*books.Book, error)
	ApprovedPage(ctx context.Context, bookID string, pageNum int) (*books.Page, error)
}

// Classifier decides page boundaries.
type Classifier interface {
	Classify(ctx context.Context, pack boundary.ContextPack, pageText string) (boundary.Decision, error)
}

// Status is the outcome class of one page.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome reports what happened to one page.
type Outcome struct {
	PageNum     int      `json:"page_num"`
	Status      Status   `json:"status"`
	Stage       Stage    `json:"stage,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	TopicKey    string   `json:"topic_key,omitempty"`
	SubtopicKey string   `json:"subtopic_key,omitempty"`
	NewTopic    bool     `json:"new_topic,omitempty"`
	Version     int      `json:"version,omitempty"`
	Stabilized  []string `json:"stabilized,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Config configures a Processor.
type Config struct {
	Pages      PageSource
	Shards     *shards.Store
	Index      *index.Manager
	Summaries  *SummaryStore
	Classifier Classifier
	Writer     *Writer
	Stability  stability.Tracker

	ContextPages        int           // default 5
	SummaryTokenCeiling int           // default 2000
	IndexWriteAttempts  int           // default 5
	IndexRetryDelay     time.Duration // default 200ms

	Logger *slog.Logger
}

// Processor is the PageProcessor.
type Processor struct {
	pages        PageSource
	shards       *shards.Store
	index        *index.Manager
	summaries    *SummaryStore
	classifier   Classifier
	writer       *Writer
	stability    stability.Tracker
	contextPages int
	ceiling      int
	attempts     int
	retryDelay   time.Duration
	logger       *slog.Logger
}

// NewProcessor creates a processor with defaults applied.
func NewProcessor(cfg Config) *Processor {
	if cfg.ContextPages <= 0 {
		cfg.ContextPages = 5
	}
	if cfg.SummaryTokenCeiling <= 0 {
		cfg.SummaryTokenCeiling = 2000
	}
	if cfg.IndexWriteAttempts <= 0 {
		cfg.IndexWriteAttempts = 5
	}
	if cfg.IndexRetryDelay <= 0 {
		cfg.IndexRetryDelay = 200 * time.Millisecond
	}
	if cfg.Stability.Gap <= 0 {
		cfg.Stability = stability.New(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Processor{
		pages:        cfg.Pages,
		shards:       cfg.Shards,
		index:        cfg.Index,
		summaries:    cfg.Summaries,
		classifier:   cfg.Classifier,
		writer:       cfg.Writer,
		stability:    cfg.Stability,
		contextPages: cfg.ContextPages,
		ceiling:      cfg.SummaryTokenCeiling,
		attempts:     cfg.IndexWriteAttempts,
		retryDelay:   cfg.IndexRetryDelay,
		logger:       cfg.Logger,
	}
}

// Process runs one page. A page-level failure is reported in the Outcome
// with a nil error. A non-nil error is either a caller error
// (books.ErrPageNotApproved) or a critical failure (IsCritical).
func (p *Processor) Process(ctx context.Context, book *books.Book, page int) (Outcome, error) {
	ctx = llm.WithPage(ctx, page)
	out := Outcome{PageNum: page}
	logger := p.logger.With("book_id", book.ID, "page_num", page)

	pg, err := p.pages.ApprovedPage(ctx, book.ID, page)
	if errors.Is(err, books.ErrPageNotApproved) {
		return out, err
	}
	if err != nil {
		return out, critical(StageLoad, page, err)
	}

	idx, err := p.index.Load(ctx, book.ID)
	if err != nil {
		return out, critical(StageLoad, page, err)
	}

	if key, done, err := p.committed(ctx, book.ID, page, idx); err != nil {
		return out, critical(StageLoad, page, err)
	} else if done {
		// A run stopped after the shard write may have missed the steps after
		// it. Both are no-ops when they already ran for this page.
		ps, err := p.summaries.GetPage(ctx, book.ID, page)
		if err == nil {
			err = p.updateRolling(ctx, logger, book.ID, page, ps.Summary)
		}
		if err != nil {
			logger.Warn("rolling summary not updated", "error", err)
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %v", StageRollingSummary, err))
		}
		if out.Stabilized, err = p.stabilize(ctx, book.ID, page); err != nil {
			return out, critical(StageStability, page, err)
		}
		out.Status = StatusSkipped
		out.Reason = "already committed"
		out.TopicKey, out.SubtopicKey = key.TopicKey, key.SubtopicKey
		logger.Debug("page already committed", "topic_key", key.TopicKey, "subtopic_key", key.SubtopicKey,
			"stabilized", len(out.Stabilized))
		return out, nil
	}

	// 1. page summary
	pageSummary, err := p.writer.SummarizePage(ctx, page, pg.Text)
	if err != nil {
		return p.fail(ctx, logger, out, StageSummarize, err)
	}
	stored := PageSummary{PageNum: page, Summary: pageSummary}
	if err := p.summaries.PutPage(ctx, book.ID, stored); err != nil {
		return p.fail(ctx, logger, out, StageSummarize, err)
	}

	// 2. context pack and boundary decision
	pack, err := p.buildContext(ctx, book, page, idx)
	if err != nil {
		return out, critical(StageContext, page, err)
	}
	decision, err := p.classifier.Classify(ctx, pack, pg.Text)
	if err != nil {
		return p.fail(ctx, logger, out, StageClassify, err)
	}

	// The decision is kept with the page summary so an assignment lost after
	// the shard write can be restored as it was made.
	key := decision.Key()
	assignment := index.Assignment{
		Page:        page,
		TopicKey:    key.TopicKey,
		SubtopicKey: key.SubtopicKey,
		Confidence:  decision.Conf(),
		Provisional: decision.Adjusted,
	}
	stored.Assignment = &assignment
	if err := p.summaries.PutPage(ctx, book.ID, stored); err != nil {
		return p.fail(ctx, logger, out, StageClassify, err)
	}

	// 3. create or merge
	existing, err := p.shards.Get(ctx, book.ID, key)
	if err != nil && !errors.Is(err, shards.ErrNotFound) {
		return out, critical(StageLoad, page, err)
	}
	switch {
	case decision.IsNewTopic && existing != nil:
		logger.Info("new topic key already exists, continuing it",
			"topic_key", key.TopicKey, "subtopic_key", key.SubtopicKey)
	case !decision.IsNewTopic && existing == nil:
		logger.Warn("continued subtopic has no shard, starting it",
			"topic_key", key.TopicKey, "subtopic_key", key.SubtopicKey)
	}

	content := decision.ExtractedContent
	topicTitle, subtopicTitle := decision.TopicTitle, decision.SubtopicTitle
	if existing != nil {
		merged, err := p.writer.MergeContent(ctx, existing.SubtopicTitle, existing.Content, decision.ExtractedContent)
		if err != nil {
			return p.fail(ctx, logger, out, StageMerge, err)
		}
		content = merged
		topicTitle, subtopicTitle = existing.TopicTitle, existing.SubtopicTitle
	}
	if t, ok := idx.Topics[key.TopicKey]; ok && t.Title != "" {
		topicTitle = t.Title
	}

	subSummary, topicSummary := p.summarize(ctx, logger, idx, key, topicTitle, subtopicTitle, content, &out)

	var sh *shards.Shard
	if existing == nil {
		sh, err = p.shards.Create(ctx, book.ID, shards.NewShard{
			Key:             key,
			TopicTitle:      topicTitle,
			SubtopicTitle:   subtopicTitle,
			SubtopicSummary: subSummary,
			TopicSummary:    topicSummary,
			Content:         content,
			Page:            page,
		})
	} else {
		sh, err = p.shards.Merge(ctx, book.ID, key, shards.MergeUpdate{
			Content:         content,
			SubtopicSummary: subSummary,
			TopicSummary:    topicSummary,
			PageStart:       page,
			PageEnd:         page,
		})
	}
	if err != nil {
		return p.fail(ctx, logger, out, StageShardWrite, err)
	}

	// 4. index and page assignment; the shard is already committed
	if err := p.retryIndex(ctx, func() error { return p.index.SyncSubtopic(ctx, sh, page) }); err != nil {
		return out, critical(StageIndexWrite, page, err)
	}
	if err := p.retryIndex(ctx, func() error { return p.index.RecordAssignment(ctx, book.ID, assignment) }); err != nil {
		return out, critical(StageIndexWrite, page, err)
	}

	// 5. rolling summary, best effort
	if err := p.updateRolling(ctx, logger, book.ID, page, pageSummary); err != nil {
		logger.Warn("rolling summary not updated", "error", err)
		out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %v", StageRollingSummary, err))
	}

	// 6. stability over every open subtopic
	if out.Stabilized, err = p.stabilize(ctx, book.ID, page); err != nil {
		return out, critical(StageStability, page, err)
	}

	out.Status = StatusSuccess
	out.TopicKey, out.SubtopicKey = key.TopicKey, key.SubtopicKey
	out.NewTopic = existing == nil
	out.Version = sh.Version
	logger.Info("page processed",
		"topic_key", key.TopicKey,
		"subtopic_key", key.SubtopicKey,
		"new_topic", out.NewTopic,
		"version", sh.Version,
		"stabilized", len(out.Stabilized))
	return out, nil
}

// stabilize applies the stability pass at page and returns the keys it moved
// to stable.
func (p *Processor) stabilize(ctx context.Context, bookID string, page int) ([]string, error) {
	var transitions []stability.Transition
	err := p.retryIndex(ctx, func() error {
		var err error
		transitions, err = p.stability.Apply(ctx, p.index, bookID, page)
		return err
	})
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, tr := range transitions {
		keys = append(keys, tr.Key.String())
	}
	return keys, nil
}

// committed reports whether page is already reflected in the shards. A page
// whose assignment was lost after its shard and index entry were written gets
// back the assignment stored with its page summary, or a provisional one when
// none matches, and is treated as committed.
func (p *Processor) committed(ctx context.Context, bookID string, page int, idx *index.BookIndex) (shards.Key, bool, error) {
	pi, err := p.index.LoadPages(ctx, bookID)
	if err != nil {
		return shards.Key{}, false, err
	}

	covers := func(k shards.Key) (bool, error) {
		sh, err := p.shards.Get(ctx, bookID, k)
		if errors.Is(err, shards.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return sh.SourcePageEnd >= page, nil
	}

	if a, ok := pi.Pages[page]; ok {
		done, err := covers(a.Key())
		return a.Key(), done, err
	}

	for _, ref := range idx.All() {
		if !ref.Subtopic.Pages.Contains(page) {
			continue
		}
		done, err := covers(ref.Key())
		if err != nil || !done {
			return ref.Key(), false, err
		}
		a := index.Assignment{Page: page, TopicKey: ref.Topic.Key, SubtopicKey: ref.Subtopic.Key, Provisional: true}
		ps, err := p.summaries.GetPage(ctx, bookID, page)
		if err != nil && !errors.Is(err, blob.ErrNotFound) {
			return ref.Key(), false, err
		}
		if ps != nil && ps.Assignment != nil && ps.Assignment.Key() == ref.Key() {
			a = *ps.Assignment
		}
		if err := p.index.RecordAssignment(ctx, bookID, a); err != nil {
			return ref.Key(), false, err
		}
		p.logger.Info("recovered page assignment from index", "book_id", bookID, "page_num", page,
			"topic_key", a.TopicKey, "subtopic_key", a.SubtopicKey, "provisional", a.Provisional)
		return ref.Key(), true, nil
	}
	return shards.Key{}, false, nil
}

// summarize regenerates the subtopic summary and its topic's aggregate.
// Failures keep the previous summaries and are reported as warnings.
func (p *Processor) summarize(ctx context.Context, logger *slog.Logger, idx *index.BookIndex, key shards.Key,
	topicTitle, subtopicTitle, content string, out *Outcome) (string, string) {
	var prevSub, prevTopic string
	if e, ok := idx.Subtopic(key); ok {
		prevSub = e.Summary
	}
	topic := idx.Topics[key.TopicKey]
	if topic != nil {
		prevTopic = topic.Summary
	}

	sub, err := p.writer.SubtopicSummary(ctx, topicTitle, subtopicTitle, content)
	if err != nil {
		logger.Warn("subtopic summary failed", "topic_key", key.TopicKey, "subtopic_key", key.SubtopicKey, "error", err)
		out.Warnings = append(out.Warnings, fmt.Sprintf("subtopic summary: %v", err))
		sub = prevSub
	}

	var lines []summaries.SubtopicLine
	seen := false
	if topic != nil {
		for _, s := range topic.SortedSubtopics() {
			line := summaries.SubtopicLine{Title: s.Title, Summary: s.Summary}
			if s.Key == key.SubtopicKey {
				line = summaries.SubtopicLine{Title: subtopicTitle, Summary: sub}
				seen = true
			}
			lines = append(lines, line)
		}
	}
	if !seen {
		lines = append(lines, summaries.SubtopicLine{Title: subtopicTitle, Summary: sub})
	}

	topicSummary, err := p.writer.TopicSummary(ctx, topicTitle, lines)
	if err != nil {
		logger.Warn("topic summary failed", "topic_key", key.TopicKey, "error", err)
		out.Warnings = append(out.Warnings, fmt.Sprintf("topic summary: %v", err))
		topicSummary = prevTopic
	}
	return sub, topicSummary
}

// updateRolling folds the page into the book summary. The summary only moves
// forward; reprocessing an earlier page leaves it alone.
func (p *Processor) updateRolling(ctx context.Context, logger *slog.Logger, bookID string, page int, pageSummary string) error {
	rs, err := p.summaries.Rolling(ctx, bookID)
	if err != nil {
		return err
	}
	if rs.PageNum >= page {
		return nil
	}

	upd, err := p.writer.UpdateBookSummary(ctx, rs.Summary, page, pageSummary)
	if err != nil {
		return err
	}
	rs.Summary = upd.Summary
	rs.Tokens = textutil.EstimateTokens(rs.Summary)

	if upd.ChapterBoundary || rs.Tokens > p.ceiling {
		compacted, err := p.writer.CompactBookSummary(ctx, rs.Summary, p.ceiling/2)
		if err != nil {
			logger.Warn("book summary compaction failed", "error", err)
		} else {
			rs.Summary = compacted
			rs.Tokens = textutil.EstimateTokens(compacted)
			if upd.ChapterBoundary {
				rs.Chapters++
			}
		}
	}
	if rs.Tokens > p.ceiling {
		logger.Warn("book summary over token ceiling", "tokens", rs.Tokens, "ceiling", p.ceiling)
	}

	rs.PageNum = page
	return p.summaries.PutRolling(ctx, rs)
}

func (p *Processor) retryIndex(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(uint(p.attempts)),
		retry.Delay(p.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warn("index write failed, retrying", "attempt", n+1, "error", err)
		}),
	)
}

func (p *Processor) fail(ctx context.Context, logger *slog.Logger, out Outcome, stage Stage, err error) (Outcome, error) {
	if ctx.Err() != nil {
		return out, critical(stage, out.PageNum, ctx.Err())
	}
	out.Status = StatusFailed
	out.Stage = stage
	out.Reason = err.Error()
	logger.Warn("page failed", "stage", stage, "error", err)
	return out, nil
}
