package pipeline

import (
	"context"
	"fmt"

	"github.com/jackzampolin/guideshelf/internal/books"
	"github.com/jackzampolin/guideshelf/internal/boundary"
	"github.com/jackzampolin/guideshelf/internal/index"
	"github.com/jackzampolin/guideshelf/internal/textutil"
)

// maxGuidelineRunes bounds the guideline text carried per open subtopic.
const maxGuidelineRunes = 2000

// buildContext assembles the context pack for page. Its size depends on the
// number of open subtopics and contextPages, never on the page number.
func (p *Processor) buildContext(ctx context.Context, book *books.Book, page int, idx *index.BookIndex) (boundary.ContextPack, error) {
	pack := boundary.ContextPack{
		BookID:     book.ID,
		PageNum:    page,
		Curriculum: book.Curriculum(),
		TOCHints:   book.TOCHints,
	}

	recent, err := p.summaries.Recent(ctx, book.ID, page, p.contextPages)
	if err != nil {
		return pack, err
	}
	for _, s := range recent {
		pack.RecentSummaries = append(pack.RecentSummaries, boundary.PageSummary{PageNum: s.PageNum, Summary: s.Summary})
	}

	rolling, err := p.summaries.Rolling(ctx, book.ID)
	if err != nil {
		return pack, err
	}
	pack.BookSummary = rolling.Summary

	for _, ref := range idx.WithStatus(index.StatusOpen) {
		sh, err := p.shards.Get(ctx, book.ID, ref.Key())
		if err != nil {
			return pack, fmt.Errorf("open subtopic %s: %w", ref.Key(), err)
		}
		pack.OpenSubtopics = append(pack.OpenSubtopics, boundary.OpenSubtopic{
			Key:           ref.Key(),
			TopicTitle:    ref.Topic.Title,
			SubtopicTitle: ref.Subtopic.Title,
			Summary:       ref.Subtopic.Summary,
			Guideline:     textutil.Truncate(sh.Content, maxGuidelineRunes),
			PageEnd:       ref.Subtopic.SourcePageEnd,
		})
	}
	return pack, nil
}
