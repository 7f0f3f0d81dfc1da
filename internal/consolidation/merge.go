package consolidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/guideshelf/internal/prompts/summaries"
	"github.com/jackzampolin/guideshelf/internal/shards"
)

// mergeAll folds each confirmed duplicate into its survivor. A subtopic
// merged away earlier in the run is followed to its survivor.
func (s *Service) mergeAll(ctx context.Context, logger *slog.Logger, bookID string, marker *Marker, dups []duplicate, report *Report) error {
	gone := make(map[shards.Key]shards.Key)
	resolve := func(k shards.Key) shards.Key {
		for {
			next, ok := gone[k]
			if !ok {
				return k
			}
			k = next
		}
	}

	for _, d := range dups {
		a, b := resolve(d.a), resolve(d.b)
		if a == b {
			marker.setVerdict(d.a, d.b, VerdictMerged)
			continue
		}
		survivor, removed, err := s.order(ctx, bookID, a, b)
		if err != nil {
			return err
		}
		merged, err := s.merge(ctx, logger, marker, survivor, removed, report)
		if err != nil {
			return fmt.Errorf("merge %s into %s: %w", removed.Key(), survivor.Key(), err)
		}
		gone[removed.Key()] = survivor.Key()
		marker.setVerdict(d.a, d.b, VerdictMerged)
		report.Merged = append(report.Merged, merged)
	}
	if len(dups) == 0 {
		return nil
	}
	return s.saveMarker(ctx, marker)
}

// order loads both shards; the one first seen in the book survives.
func (s *Service) order(ctx context.Context, bookID string, a, b shards.Key) (*shards.Shard, *shards.Shard, error) {
	sa, err := s.shards.Get(ctx, bookID, a)
	if err != nil {
		return nil, nil, err
	}
	sb, err := s.shards.Get(ctx, bookID, b)
	if err != nil {
		return nil, nil, err
	}
	if sb.SourcePageStart < sa.SourcePageStart ||
		(sb.SourcePageStart == sa.SourcePageStart && b.String() < a.String()) {
		return sb, sa, nil
	}
	return sa, sb, nil
}

func (s *Service) merge(ctx context.Context, logger *slog.Logger, marker *Marker, survivor, removed *shards.Shard, report *Report) (MergedPair, error) {
	marker.Pending = &PendingMerge{Survivor: survivor.Key(), Removed: removed.Key(), BaseVersion: survivor.Version}
	if err := s.saveMarker(ctx, marker); err != nil {
		return MergedPair{}, err
	}

	content, err := s.writer.MergeContent(ctx, survivor.SubtopicTitle, survivor.Content, removed.Content)
	if err != nil {
		return MergedPair{}, err
	}
	merged, err := s.shards.Merge(ctx, survivor.BookID, survivor.Key(), shards.MergeUpdate{
		Content:   content,
		PageStart: removed.SourcePageStart,
		PageEnd:   removed.SourcePageEnd,
	})
	if err != nil {
		return MergedPair{}, err
	}
	return s.completeMerge(ctx, logger, marker, merged, removed.Key(), report)
}

// completeMerge runs the steps after the survivor's content is written:
// index fold, shard delete, summary refresh. Each is safe to repeat.
func (s *Service) completeMerge(ctx context.Context, logger *slog.Logger, marker *Marker, survivor *shards.Shard, removed shards.Key, report *Report) (MergedPair, error) {
	idx, err := s.index.Load(ctx, survivor.BookID)
	if err != nil {
		return MergedPair{}, err
	}
	if _, ok := idx.Subtopic(removed); ok {
		err = s.index.MergeSubtopics(ctx, removed, survivor)
	} else {
		err = s.index.SyncSubtopic(ctx, survivor, 0)
	}
	if err != nil {
		return MergedPair{}, err
	}
	if err := s.shards.Delete(ctx, survivor.BookID, removed); err != nil {
		return MergedPair{}, err
	}

	s.refreshSummaries(ctx, logger, survivor, removed.TopicKey, report)

	marker.Pending = nil
	if err := s.saveMarker(ctx, marker); err != nil {
		return MergedPair{}, err
	}
	logger.Info("duplicate merged",
		"survivor", survivor.Key().String(),
		"removed", removed.String(),
		"version", survivor.Version)
	return MergedPair{Survivor: survivor.Key().String(), Removed: removed.String(), Version: survivor.Version}, nil
}

// resumePending finishes a merge interrupted after the survivor was written.
// If the survivor never advanced, the merge is dropped and the pair will be
// judged again.
func (s *Service) resumePending(ctx context.Context, logger *slog.Logger, marker *Marker, report *Report) error {
	p := marker.Pending
	if p == nil {
		return nil
	}
	survivor, err := s.shards.Get(ctx, marker.BookID, p.Survivor)
	if errors.Is(err, shards.ErrNotFound) || (err == nil && survivor.Version <= p.BaseVersion) {
		logger.Warn("dropping unfinished merge", "survivor", p.Survivor.String(), "removed", p.Removed.String())
		marker.Pending = nil
		return s.saveMarker(ctx, marker)
	}
	if err != nil {
		return err
	}
	merged, err := s.completeMerge(ctx, logger, marker, survivor, p.Removed, report)
	if err != nil {
		return err
	}
	marker.setVerdict(p.Survivor, p.Removed, VerdictMerged)
	report.Merged = append(report.Merged, merged)
	return s.saveMarker(ctx, marker)
}

// refreshSummaries regenerates the survivor's summary and the aggregate of
// every topic the merge touched. Failures keep the old summaries.
func (s *Service) refreshSummaries(ctx context.Context, logger *slog.Logger, survivor *shards.Shard, otherTopic string, report *Report) {
	warn := func(what string, err error) {
		logger.Warn("summary refresh failed", "what", what, "error", err)
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", what, err))
	}

	idx, err := s.index.Load(ctx, survivor.BookID)
	if err != nil {
		warn("load index", err)
		return
	}
	topicTitle := survivor.TopicTitle
	if t, ok := idx.Topics[survivor.TopicKey]; ok && t.Title != "" {
		topicTitle = t.Title
	}

	sub, err := s.writer.SubtopicSummary(ctx, topicTitle, survivor.SubtopicTitle, survivor.Content)
	if err != nil {
		warn("subtopic summary "+survivor.Key().String(), err)
		sub = ""
	}

	topicKeys := []string{survivor.TopicKey}
	if otherTopic != survivor.TopicKey {
		topicKeys = append(topicKeys, otherTopic)
	}
	var survivorTopicSummary string
	for _, tk := range topicKeys {
		t, ok := idx.Topics[tk]
		if !ok {
			continue
		}
		var lines []summaries.SubtopicLine
		for _, e := range t.SortedSubtopics() {
			line := summaries.SubtopicLine{Title: e.Title, Summary: e.Summary}
			if tk == survivor.TopicKey && e.Key == survivor.SubtopicKey && sub != "" {
				line.Summary = sub
			}
			lines = append(lines, line)
		}
		summary, err := s.writer.TopicSummary(ctx, t.Title, lines)
		if err != nil {
			warn("topic summary "+tk, err)
			continue
		}
		if err := s.index.SetTopicSummary(ctx, survivor.BookID, tk, summary); err != nil {
			warn("store topic summary "+tk, err)
			continue
		}
		if tk == survivor.TopicKey {
			survivorTopicSummary = summary
		}
	}

	updated, err := s.shards.SetSummaries(ctx, survivor.BookID, survivor.Key(), sub, survivorTopicSummary)
	if err != nil {
		warn("store shard summaries", err)
		return
	}
	if err := s.index.SyncSubtopic(ctx, updated, 0); err != nil {
		warn("sync index summaries", err)
	}
}
