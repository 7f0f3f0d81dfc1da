// Package boundary is the BoundaryClassifier: it asks the text-generation
// port whether a page continues an open subtopic or starts a new one, and
// rejects any decision that does not hold up.
package boundary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackzampolin/guideshelf/internal/llm"
	"github.com/jackzampolin/guideshelf/internal/prompts/extract"
	"github.com/jackzampolin/guideshelf/internal/shards"
)

// ErrInvalidDecision is returned for decisions that fail validation. It
// matches llm.ErrInvalidResponseSchema as well.
var ErrInvalidDecision = fmt.Errorf("invalid boundary decision: %w", llm.ErrInvalidResponseSchema)

// PageSummary is one prior page summary.
type PageSummary struct {
	PageNum int    `json:"page_num"`
	Summary string `json:"summary"`
}

// OpenSubtopic is a subtopic the current page may continue.
type OpenSubtopic struct {
	Key           shards.Key `json:"key"`
	TopicTitle    string     `json:"topic_title"`
	SubtopicTitle string     `json:"subtopic_title"`
	Summary       string     `json:"summary,omitempty"`
	Guideline     string     `json:"guideline,omitempty"`
	PageEnd       int        `json:"page_end"`
}

// ContextPack is the bounded view of prior book state handed to the
// classifier for one page.
type ContextPack struct {
	BookID          string         `json:"book_id"`
	PageNum         int            `json:"page_num"`
	Curriculum      string         `json:"curriculum,omitempty"`
	BookSummary     string         `json:"book_summary,omitempty"`
	TOCHints        []string       `json:"toc_hints,omitempty"`
	RecentSummaries []PageSummary  `json:"recent_summaries,omitempty"`
	OpenSubtopics   []OpenSubtopic `json:"open_subtopics,omitempty"`
}

func (p ContextPack) open(k shards.Key) (OpenSubtopic, bool) {
	for _, o := range p.OpenSubtopics {
		if o.Key == k {
			return o, true
		}
	}
	return OpenSubtopic{}, false
}

// latestOpen returns the open subtopic extended most recently.
func (p ContextPack) latestOpen() (OpenSubtopic, bool) {
	var (
		best  OpenSubtopic
		found bool
	)
	for _, o := range p.OpenSubtopics {
		if !found || o.PageEnd > best.PageEnd {
			best, found = o, true
		}
	}
	return best, found
}

// Decision is a validated boundary decision.
type Decision struct {
	IsNewTopic       bool     `json:"is_new_topic"`
	TopicKey         string   `json:"topic_key"`
	SubtopicKey      string   `json:"subtopic_key"`
	TopicTitle       string   `json:"topic_title"`
	SubtopicTitle    string   `json:"subtopic_title"`
	ExtractedContent string   `json:"extracted_content"`
	Confidence       *float64 `json:"confidence,omitempty"`
	Reasoning        string   `json:"reasoning,omitempty"`

	// Adjusted is set when hysteresis turned a weak "new" into a continuation.
	Adjusted bool `json:"adjusted,omitempty"`
}

// Key returns the decided shard key.
func (d Decision) Key() shards.Key {
	return shards.Key{TopicKey: d.TopicKey, SubtopicKey: d.SubtopicKey}
}

// Conf returns the confidence, 1 when the collaborator gave none.
func (d Decision) Conf() float64 {
	if d.Confidence == nil {
		return 1
	}
	return *d.Confidence
}

// Config configures a Classifier.
type Config struct {
	Generator llm.Generator
	// MinNewTopicConfidence enables hysteresis when > 0: a "new" decision
	// below it continues an open subtopic instead.
	MinNewTopicConfidence float64
	Temperature           float64
	Logger                *slog.Logger
}

// Classifier is stateless; one may serve many books concurrently.
type Classifier struct {
	gen    llm.Generator
	minNew float64
	temp   float64
	logger *slog.Logger
}

// New creates a classifier.
func New(cfg Config) *Classifier {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Classifier{
		gen:    cfg.Generator,
		minNew: cfg.MinNewTopicConfidence,
		temp:   cfg.Temperature,
		logger: cfg.Logger,
	}
}

// Classify decides how pageText fits the book so far.
func (c *Classifier) Classify(ctx context.Context, pack ContextPack, pageText string) (Decision, error) {
	user, err := extract.BoundaryUserPrompt(promptInput(pack, pageText))
	if err != nil {
		return Decision{}, err
	}

	var d Decision
	err = c.gen.Generate(ctx, llm.Request{
		PromptKey:   extract.BoundaryKey,
		System:      extract.BoundarySystemPrompt(),
		User:        user,
		Schema:      extract.BoundarySchema,
		Temperature: c.temp,
	}, &d)
	if err != nil {
		return Decision{}, err
	}

	d = c.applyHysteresis(pack, d)
	if err := validate(pack, d); err != nil {
		return Decision{}, err
	}
	return d, nil
}

func (c *Classifier) applyHysteresis(pack ContextPack, d Decision) Decision {
	if c.minNew <= 0 || !d.IsNewTopic || d.Conf() >= c.minNew {
		return d
	}
	target, ok := pack.open(d.Key())
	if !ok {
		target, ok = pack.latestOpen()
	}
	if !ok {
		return d
	}
	c.logger.Debug("weak new-topic decision kept as continuation",
		"book_id", pack.BookID,
		"page_num", pack.PageNum,
		"proposed", d.Key().String(),
		"continued", target.Key.String(),
		"confidence", d.Conf())
	d.IsNewTopic = false
	d.TopicKey = target.Key.TopicKey
	d.SubtopicKey = target.Key.SubtopicKey
	d.TopicTitle = target.TopicTitle
	d.SubtopicTitle = target.SubtopicTitle
	d.Adjusted = true
	return d
}

func validate(pack ContextPack, d Decision) error {
	if !shards.ValidSlug(d.TopicKey) || !shards.ValidSlug(d.SubtopicKey) {
		return fmt.Errorf("%w: key %q is not a slug", ErrInvalidDecision, d.Key().String())
	}
	if strings.TrimSpace(d.ExtractedContent) == "" {
		return fmt.Errorf("%w: empty extracted content", ErrInvalidDecision)
	}
	if strings.TrimSpace(d.TopicTitle) == "" || strings.TrimSpace(d.SubtopicTitle) == "" {
		return fmt.Errorf("%w: missing title", ErrInvalidDecision)
	}
	if d.Confidence != nil && (*d.Confidence < 0 || *d.Confidence > 1) {
		return fmt.Errorf("%w: confidence %v out of range", ErrInvalidDecision, *d.Confidence)
	}
	if !d.IsNewTopic {
		if _, ok := pack.open(d.Key()); !ok {
			return fmt.Errorf("%w: continuation names %q which is not open", ErrInvalidDecision, d.Key().String())
		}
	}
	return nil
}

func promptInput(pack ContextPack, pageText string) extract.BoundaryInput {
	in := extract.BoundaryInput{
		PageNum:     pack.PageNum,
		PageText:    pageText,
		Curriculum:  pack.Curriculum,
		BookSummary: pack.BookSummary,
		TOCHints:    pack.TOCHints,
	}
	for _, s := range pack.RecentSummaries {
		in.RecentSummaries = append(in.RecentSummaries, extract.PageSummary{PageNum: s.PageNum, Summary: s.Summary})
	}
	for _, o := range pack.OpenSubtopics {
		in.OpenSubtopics = append(in.OpenSubtopics, extract.OpenSubtopic{
			TopicKey:      o.Key.TopicKey,
			SubtopicKey:   o.Key.SubtopicKey,
			TopicTitle:    o.TopicTitle,
			SubtopicTitle: o.SubtopicTitle,
			Summary:       o.Summary,
			Guideline:     o.Guideline,
			PageEnd:       o.PageEnd,
		})
	}
	return in
}
