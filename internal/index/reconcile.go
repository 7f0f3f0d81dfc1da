package index

import (
	"context"
	"fmt"

	"github.com/jackzampolin/guideshelf/internal/shards"
)

// ReconcileReport lists the entries Reconcile had to repair.
type ReconcileReport struct {
	Added   []string `json:"added,omitempty"`
	Updated []string `json:"updated,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// Drift reports whether the index disagreed with the shards.
func (r ReconcileReport) Drift() bool {
	return len(r.Added)+len(r.Updated)+len(r.Removed) > 0
}

// Reconcile rebuilds subtopic entries from the stored shards. Status and
// page sets are preserved; pages recorded in the page index and the shard's
// own start and end page are unioned in. Entries without a shard are removed.
func (m *Manager) Reconcile(ctx context.Context, bookID string) (ReconcileReport, error) {
	var report ReconcileReport

	list, err := m.shards.List(ctx, bookID)
	if err != nil {
		return report, err
	}
	pi, err := m.LoadPages(ctx, bookID)
	if err != nil {
		return report, err
	}

	_, err = m.Update(ctx, bookID, func(idx *BookIndex) error {
		seen := make(map[shards.Key]bool, len(list))
		for _, sh := range list {
			k := sh.Key()
			seen[k] = true

			entry, ok := idx.Subtopic(k)
			switch {
			case !ok:
				report.Added = append(report.Added, k.String())
			case entryDrifted(entry, sh):
				report.Updated = append(report.Updated, k.String())
			default:
				continue
			}
			entry = applyShard(idx, sh, 0, m.now())
			entry.Pages.Union(pi.PagesFor(k))
			entry.Pages.Add(sh.SourcePageStart, sh.SourcePageEnd)
		}
		for _, ref := range idx.All() {
			if k := ref.Key(); !seen[k] {
				report.Removed = append(report.Removed, k.String())
				removeSubtopic(idx, k)
			}
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("reconcile %s: %w", bookID, err)
	}

	if report.Drift() {
		m.logger.Warn("index drift repaired",
			"book_id", bookID,
			"added", len(report.Added),
			"updated", len(report.Updated),
			"removed", len(report.Removed))
	}
	return report, nil
}

func entryDrifted(e *SubtopicEntry, sh *shards.Shard) bool {
	return e.Version != sh.Version ||
		e.SourcePageEnd != sh.SourcePageEnd ||
		e.Title != sh.SubtopicTitle ||
		(sh.SubtopicSummary != "" && e.Summary != sh.SubtopicSummary) ||
		!e.Pages.Contains(sh.SourcePageEnd)
}
