// Package stability marks open subtopics stable once no page has extended
// them for a configured gap.
package stability

import (
	"context"

	"github.com/jackzampolin/guideshelf/internal/index"
	"github.com/jackzampolin/guideshelf/internal/shards"
)

// DefaultGap is the page distance after which an untouched subtopic is stable.
const DefaultGap = 5

// Transition is one open -> stable change.
type Transition struct {
	Key           shards.Key `json:"key"`
	SourcePageEnd int        `json:"source_page_end"`
	CurrentPage   int        `json:"current_page"`
}

// Tracker finds subtopics that stopped changing.
type Tracker struct {
	Gap int
}

// New returns a tracker, using DefaultGap when gap <= 0.
func New(gap int) Tracker {
	if gap <= 0 {
		gap = DefaultGap
	}
	return Tracker{Gap: gap}
}

// Check returns the transitions due at currentPage without applying them.
// Every open subtopic of the book is considered.
func (t Tracker) Check(idx *index.BookIndex, currentPage int) []Transition {
	var out []Transition
	for _, ref := range idx.WithStatus(index.StatusOpen) {
		if currentPage-ref.Subtopic.SourcePageEnd >= t.Gap {
			out = append(out, Transition{
				Key:           ref.Key(),
				SourcePageEnd: ref.Subtopic.SourcePageEnd,
				CurrentPage:   currentPage,
			})
		}
	}
	return out
}

// Apply persists the transitions due at currentPage in one index write.
// Shard content is never touched.
func (t Tracker) Apply(ctx context.Context, mgr *index.Manager, bookID string, currentPage int) ([]Transition, error) {
	var due []Transition
	_, err := mgr.Update(ctx, bookID, func(idx *index.BookIndex) error {
		due = t.Check(idx, currentPage)
		if len(due) == 0 {
			return index.ErrNoChange
		}
		for _, tr := range due {
			if err := idx.SetStatus(tr.Key, index.StatusStable); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return due, nil
}
