package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackzampolin/guideshelf/internal/books"
	"github.com/jackzampolin/guideshelf/internal/pipeline"
)

// extract processes pages in order from checkpoint+1. The index is
// reconciled against the shards first so a page interrupted between its
// shard write and its index write is repaired before anything reads it.
func (c *Coordinator) extract(ctx context.Context, r *runner) error {
	rec := r.rec
	logger := c.logger.With("job_id", rec.ID, "book_id", rec.BookID)

	book, err := c.books.Get(ctx, rec.BookID)
	if err != nil {
		return err
	}

	report, err := c.index.Reconcile(ctx, book.ID)
	if err != nil {
		return &pipeline.CriticalError{Stage: pipeline.StageReconcile, Page: rec.Checkpoint + 1, Err: err}
	}
	if report.Drift() {
		logger.Warn("index drift repaired",
			"added", report.Added,
			"updated", report.Updated,
			"removed", report.Removed)
	}

	for page := rec.Checkpoint + 1; page <= rec.RangeEnd; page++ {
		if err := c.checkCancel(ctx, r); err != nil {
			return err
		}

		out, err := c.processor.Process(ctx, book, page)
		switch {
		case errors.Is(err, books.ErrPageNotApproved):
			out = pipeline.Outcome{PageNum: page, Status: pipeline.StatusFailed,
				Stage: pipeline.StageLoad, Reason: err.Error()}
		case err != nil:
			return err
		}

		record(rec, out)
		if err := c.store.progress(ctx, rec); err != nil {
			return fmt.Errorf("checkpoint page %d: %w", page, err)
		}
		if out.Status == pipeline.StatusFailed {
			logger.Warn("page failed", "page", page, "stage", out.Stage, "reason", out.Reason)
		}
	}
	return nil
}

// record folds one page outcome into the job counters. Every outcome that
// reaches here advances the checkpoint, failed pages included: they are
// listed in PageFailures and rerun by a new extraction over their range.
func record(rec *Record, out pipeline.Outcome) {
	switch out.Status {
	case pipeline.StatusSuccess:
		rec.Processed++
	case pipeline.StatusSkipped:
		rec.Skipped++
	case pipeline.StatusFailed:
		rec.Failed++
		rec.PageFailures = append(rec.PageFailures, PageFailure{
			Page:   out.PageNum,
			Stage:  string(out.Stage),
			Reason: out.Reason,
		})
	}
	rec.Checkpoint = out.PageNum
}

func (c *Coordinator) finalize(ctx context.Context, r *runner) error {
	if err := c.checkCancel(ctx, r); err != nil {
		return err
	}
	book, err := c.books.Get(ctx, r.rec.BookID)
	if err != nil {
		return err
	}
	report, err := c.finalizer.Finalize(ctx, book)
	if err != nil {
		return err
	}
	return setResult(r.rec, report)
}

func (c *Coordinator) sync(ctx context.Context, r *runner) error {
	if err := c.checkCancel(ctx, r); err != nil {
		return err
	}
	report, err := c.publisher.Sync(ctx, r.rec.BookID)
	if err != nil {
		return err
	}
	return setResult(r.rec, report)
}

func setResult(rec *Record, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode job result: %w", err)
	}
	rec.Result = data
	return nil
}
