// Package consolidation finalizes a book's subtopics: it promotes them to
// final, tidies their titles and merges duplicates. Every step consults a
// persisted marker so a second finalize over an unchanged book does nothing.
package consolidation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/guideshelf/internal/blob"
	"github.com/jackzampolin/guideshelf/internal/books"
	"github.com/jackzampolin/guideshelf/internal/index"
	"github.com/jackzampolin/guideshelf/internal/llm"
	"github.com/jackzampolin/guideshelf/internal/pipeline"
	"github.com/jackzampolin/guideshelf/internal/prompts/finalize"
	"github.com/jackzampolin/guideshelf/internal/shards"
)

// Config configures a Service.
type Config struct {
	Shards    *shards.Store
	Index     *index.Manager
	Blobs     blob.Store
	Generator llm.Generator
	Writer    *pipeline.Writer

	// SummarySimilarity is the Jaccard threshold of the cheap filter (default 0.5).
	SummarySimilarity float64
	// MinMergeConfidence is the verdict confidence below which a duplicate
	// is sent to review instead of merged (default 0.5).
	MinMergeConfidence float64
	// Concurrency bounds parallel full-content checks (default 4).
	Concurrency int

	Logger *slog.Logger
}

// Service is the ConsolidationService.
type Service struct {
	shards        *shards.Store
	index         *index.Manager
	blobs         blob.Store
	gen           llm.Generator
	writer        *pipeline.Writer
	similarity    float64
	minConfidence float64
	concurrency   int
	logger        *slog.Logger
	now           func() time.Time
}

// New creates a Service with defaults applied.
func New(cfg Config) *Service {
	if cfg.SummarySimilarity <= 0 {
		cfg.SummarySimilarity = 0.5
	}
	if cfg.MinMergeConfidence <= 0 {
		cfg.MinMergeConfidence = 0.5
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Writer == nil {
		cfg.Writer = pipeline.NewWriter(cfg.Generator)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		shards:        cfg.Shards,
		index:         cfg.Index,
		blobs:         cfg.Blobs,
		gen:           cfg.Generator,
		writer:        cfg.Writer,
		similarity:    cfg.SummarySimilarity,
		minConfidence: cfg.MinMergeConfidence,
		concurrency:   cfg.Concurrency,
		logger:        cfg.Logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Pair names two subtopics.
type Pair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// MergedPair records one duplicate merge.
type MergedPair struct {
	Survivor string `json:"survivor"`
	Removed  string `json:"removed"`
	Version  int    `json:"version"`
}

// Report summarizes one finalize run.
type Report struct {
	BookID      string       `json:"book_id"`
	Promoted    []string     `json:"promoted"`
	Renamed     []string     `json:"renamed"`
	Candidates  []Pair       `json:"candidates"`
	Merged      []MergedPair `json:"merged"`
	NeedsReview []string     `json:"needs_review"`
	Warnings    []string     `json:"warnings,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}

// Changed reports whether the run modified anything.
func (r Report) Changed() bool {
	return len(r.Promoted) > 0 || len(r.Renamed) > 0 || len(r.Merged) > 0 || len(r.NeedsReview) > 0
}

// Finalize runs promote, rename, duplicate detection and merge. Each step is
// persisted before the next starts; rerunning after a failure resumes.
func (s *Service) Finalize(ctx context.Context, book *books.Book) (Report, error) {
	report := Report{BookID: book.ID, StartedAt: s.now()}
	logger := s.logger.With("book_id", book.ID)

	marker, err := s.loadMarker(ctx, book.ID)
	if err != nil {
		return report, fmt.Errorf("load marker: %w", err)
	}

	if err := s.resumePending(ctx, logger, marker, &report); err != nil {
		return report, fmt.Errorf("resume merge: %w", err)
	}
	if report.Promoted, err = s.promote(ctx, book.ID); err != nil {
		return report, fmt.Errorf("promote: %w", err)
	}
	if err := s.rename(ctx, logger, book, marker, &report); err != nil {
		return report, fmt.Errorf("rename: %w", err)
	}
	dups, err := s.detect(ctx, logger, book.ID, marker, &report)
	if err != nil {
		return report, fmt.Errorf("detect duplicates: %w", err)
	}
	if err := s.mergeAll(ctx, logger, book.ID, marker, dups, &report); err != nil {
		return report, fmt.Errorf("merge duplicates: %w", err)
	}

	marker.Runs++
	if err := s.saveMarker(ctx, marker); err != nil {
		return report, fmt.Errorf("save marker: %w", err)
	}

	report.FinishedAt = s.now()
	logger.Info("book finalized",
		"promoted", len(report.Promoted),
		"renamed", len(report.Renamed),
		"candidates", len(report.Candidates),
		"merged", len(report.Merged),
		"needs_review", len(report.NeedsReview))
	return report, nil
}

// promote moves every open and stable subtopic to final in one index write.
func (s *Service) promote(ctx context.Context, bookID string) ([]string, error) {
	var promoted []string
	_, err := s.index.Update(ctx, bookID, func(idx *index.BookIndex) error {
		promoted = promoted[:0]
		for _, ref := range idx.WithStatus(index.StatusOpen, index.StatusStable) {
			if err := idx.SetStatus(ref.Key(), index.StatusFinal); err != nil {
				return err
			}
			promoted = append(promoted, ref.Key().String())
		}
		if len(promoted) == 0 {
			return index.ErrNoChange
		}
		return nil
	})
	return promoted, err
}

type renameResponse struct {
	Renames []struct {
		TopicKey      string `json:"topic_key"`
		SubtopicKey   string `json:"subtopic_key"`
		TopicTitle    string `json:"topic_title"`
		SubtopicTitle string `json:"subtopic_title"`
	} `json:"renames"`
}

// rename asks for cleaner titles for subtopics no earlier run has reviewed.
// Summaries are left alone.
func (s *Service) rename(ctx context.Context, logger *slog.Logger, book *books.Book, marker *Marker, report *Report) error {
	idx, err := s.index.Load(ctx, book.ID)
	if err != nil {
		return err
	}

	pending := make(map[shards.Key]index.Ref)
	var subs []finalize.Subtopic
	for _, ref := range idx.WithStatus(index.StatusFinal) {
		if marker.wasRenamed(ref.Key()) {
			continue
		}
		pending[ref.Key()] = ref
		subs = append(subs, toPromptSubtopic(ref))
	}
	if len(subs) == 0 {
		return nil
	}

	user, err := finalize.RenameUserPrompt(finalize.RenameInput{Curriculum: book.Curriculum(), Subtopics: subs})
	if err != nil {
		return err
	}
	var resp renameResponse
	err = s.gen.Generate(ctx, llm.Request{
		PromptKey: finalize.RenameKey,
		System:    finalize.RenameSystemPrompt(),
		User:      user,
		Schema:    finalize.RenameSchema,
	}, &resp)
	if err != nil {
		return err
	}

	for _, r := range resp.Renames {
		k := shards.Key{TopicKey: r.TopicKey, SubtopicKey: r.SubtopicKey}
		ref, ok := pending[k]
		if !ok {
			logger.Debug("rename for unknown subtopic ignored", "key", k.String())
			continue
		}
		if r.TopicTitle == ref.Topic.Title && r.SubtopicTitle == ref.Subtopic.Title {
			continue
		}
		if _, err := s.shards.Rename(ctx, book.ID, k, r.TopicTitle, r.SubtopicTitle); err != nil {
			return err
		}
		if err := s.index.Rename(ctx, book.ID, k, r.TopicTitle, r.SubtopicTitle); err != nil {
			return err
		}
		if r.TopicTitle != ref.Topic.Title {
			if err := s.renameSiblings(ctx, book.ID, ref.Topic, k, r.TopicTitle); err != nil {
				return err
			}
		}
		report.Renamed = append(report.Renamed, k.String())
	}

	for k := range pending {
		marker.markRenamed(k)
	}
	return s.saveMarker(ctx, marker)
}

// renameSiblings carries a topic title change to the other shards of the topic.
func (s *Service) renameSiblings(ctx context.Context, bookID string, topic *index.TopicEntry, renamed shards.Key, title string) error {
	for _, sub := range topic.SortedSubtopics() {
		k := shards.Key{TopicKey: topic.Key, SubtopicKey: sub.Key}
		if k == renamed {
			continue
		}
		if _, err := s.shards.Rename(ctx, bookID, k, title, ""); err != nil {
			return err
		}
	}
	return nil
}

func toPromptSubtopic(ref index.Ref) finalize.Subtopic {
	return finalize.Subtopic{
		TopicKey:      ref.Topic.Key,
		SubtopicKey:   ref.Subtopic.Key,
		TopicTitle:    ref.Topic.Title,
		SubtopicTitle: ref.Subtopic.Title,
		Summary:       ref.Subtopic.Summary,
	}
}
