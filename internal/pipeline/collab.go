package pipeline

import (
	"context"
	"strings"

	"github.com/jackzampolin/guideshelf/internal/llm"
	"github.com/jackzampolin/guideshelf/internal/prompts/extract"
	"github.com/jackzampolin/guideshelf/internal/prompts/summaries"
)

// Writer wraps the text-generation port with the content tasks shared by
// page processing and finalization.
type Writer struct {
	gen llm.Generator
}

// NewWriter creates a Writer.
func NewWriter(gen llm.Generator) *Writer {
	return &Writer{gen: gen}
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

// SummarizePage condenses one page.
func (w *Writer) SummarizePage(ctx context.Context, page int, text string) (string, error) {
	user, err := extract.SummarizePageUserPrompt(extract.PageInput{PageNum: page, PageText: text})
	if err != nil {
		return "", err
	}
	var resp summaryResponse
	err = w.gen.Generate(ctx, llm.Request{
		PromptKey: extract.SummarizePageKey,
		System:    extract.SummarizePageSystemPrompt(),
		User:      user,
		Schema:    extract.SummarizePageSchema,
	}, &resp)
	return strings.TrimSpace(resp.Summary), err
}

// MergeContent semantically merges incoming content into existing content.
func (w *Writer) MergeContent(ctx context.Context, subtopicTitle, existing, incoming string) (string, error) {
	user, err := extract.MergeUserPrompt(extract.MergeInput{
		SubtopicTitle:   subtopicTitle,
		ExistingContent: existing,
		NewContent:      incoming,
	})
	if err != nil {
		return "", err
	}
	var resp struct {
		Content string `json:"content"`
	}
	err = w.gen.Generate(ctx, llm.Request{
		PromptKey: extract.MergeContentKey,
		System:    extract.MergeSystemPrompt(),
		User:      user,
		Schema:    extract.MergeSchema,
	}, &resp)
	return strings.TrimSpace(resp.Content), err
}

// SubtopicSummary writes the one-line summary of a subtopic's content.
func (w *Writer) SubtopicSummary(ctx context.Context, topicTitle, subtopicTitle, content string) (string, error) {
	user, err := summaries.SubtopicUserPrompt(summaries.SubtopicInput{
		TopicTitle:    topicTitle,
		SubtopicTitle: subtopicTitle,
		Content:       content,
	})
	if err != nil {
		return "", err
	}
	var resp summaryResponse
	err = w.gen.Generate(ctx, llm.Request{
		PromptKey: summaries.SubtopicKey,
		System:    summaries.SubtopicSystemPrompt(),
		User:      user,
		Schema:    summaries.SummarySchema,
	}, &resp)
	return strings.TrimSpace(resp.Summary), err
}

// TopicSummary aggregates subtopic summaries into a topic summary.
func (w *Writer) TopicSummary(ctx context.Context, topicTitle string, subtopics []summaries.SubtopicLine) (string, error) {
	user, err := summaries.TopicUserPrompt(summaries.TopicInput{TopicTitle: topicTitle, Subtopics: subtopics})
	if err != nil {
		return "", err
	}
	var resp summaryResponse
	err = w.gen.Generate(ctx, llm.Request{
		PromptKey: summaries.TopicKey,
		System:    summaries.TopicSystemPrompt(),
		User:      user,
		Schema:    summaries.SummarySchema,
	}, &resp)
	return strings.TrimSpace(resp.Summary), err
}

// BookUpdate is the rolling summary collaborator's answer.
type BookUpdate struct {
	Summary         string `json:"summary"`
	ChapterBoundary bool   `json:"chapter_boundary"`
}

// UpdateBookSummary folds a page summary into the rolling summary.
func (w *Writer) UpdateBookSummary(ctx context.Context, previous string, page int, pageSummary string) (BookUpdate, error) {
	user, err := summaries.BookUserPrompt(summaries.BookInput{
		PreviousSummary: previous,
		PageNum:         page,
		PageSummary:     pageSummary,
	})
	if err != nil {
		return BookUpdate{}, err
	}
	var resp BookUpdate
	err = w.gen.Generate(ctx, llm.Request{
		PromptKey: summaries.BookKey,
		System:    summaries.BookSystemPrompt(),
		User:      user,
		Schema:    summaries.BookSchema,
	}, &resp)
	resp.Summary = strings.TrimSpace(resp.Summary)
	return resp, err
}

// CompactBookSummary folds finished chapters of the rolling summary.
func (w *Writer) CompactBookSummary(ctx context.Context, summary string, tokenBudget int) (string, error) {
	user, err := summaries.CompactUserPrompt(summaries.CompactInput{Summary: summary, TokenBudget: tokenBudget})
	if err != nil {
		return "", err
	}
	var resp summaryResponse
	err = w.gen.Generate(ctx, llm.Request{
		PromptKey: summaries.CompactKey,
		System:    summaries.CompactSystemPrompt(),
		User:      user,
		Schema:    summaries.SummarySchema,
	}, &resp)
	return strings.TrimSpace(resp.Summary), err
}
