// Package summaries holds the summary prompts: one-line subtopic and topic
// summaries, the rolling book summary and its compaction.
package summaries

import (
	_ "embed"
	"text/template"

	"github.com/jackzampolin/guideshelf/internal/prompts"
)

// Prompt keys
const (
	SubtopicKey = "summaries.subtopic"
	TopicKey    = "summaries.topic"
	BookKey     = "summaries.book"
	CompactKey  = "summaries.compact"
)

//go:embed subtopic_system.tmpl
var subtopicSystem string

//go:embed subtopic_user.tmpl
var subtopicUserTmpl string

//go:embed topic_system.tmpl
var topicSystem string

//go:embed topic_user.tmpl
var topicUserTmpl string

//go:embed book_system.tmpl
var bookSystem string

//go:embed book_user.tmpl
var bookUserTmpl string

//go:embed compact_system.tmpl
var compactSystem string

//go:embed compact_user.tmpl
var compactUserTmpl string

var (
	subtopicUser = template.Must(template.New("subtopic").Funcs(prompts.Funcs).Parse(subtopicUserTmpl))
	topicUser    = template.Must(template.New("topic").Funcs(prompts.Funcs).Parse(topicUserTmpl))
	bookUser     = template.Must(template.New("book").Funcs(prompts.Funcs).Parse(bookUserTmpl))
	compactUser  = template.Must(template.New("compact").Funcs(prompts.Funcs).Parse(compactUserTmpl))
)

// SubtopicInput feeds the subtopic summary prompt.
type SubtopicInput struct {
	TopicTitle    string
	SubtopicTitle string
	Content       string
}

// SubtopicLine is one subtopic summary aggregated into a topic summary.
type SubtopicLine struct {
	Title   string
	Summary string
}

// TopicInput feeds the topic summary prompt.
type TopicInput struct {
	TopicTitle string
	Subtopics  []SubtopicLine
}

// BookInput feeds the rolling book summary prompt.
type BookInput struct {
	PreviousSummary string
	PageNum         int
	PageSummary     string
}

// CompactInput feeds the compaction prompt.
type CompactInput struct {
	Summary     string
	TokenBudget int
}

func SubtopicSystemPrompt() string { return subtopicSystem }

func SubtopicUserPrompt(in SubtopicInput) (string, error) {
	return prompts.Render(subtopicUser, in)
}

func TopicSystemPrompt() string { return topicSystem }

func TopicUserPrompt(in TopicInput) (string, error) {
	return prompts.Render(topicUser, in)
}

func BookSystemPrompt() string { return bookSystem }

func BookUserPrompt(in BookInput) (string, error) {
	return prompts.Render(bookUser, in)
}

func CompactSystemPrompt() string { return compactSystem }

func CompactUserPrompt(in CompactInput) (string, error) {
	return prompts.Render(compactUser, in)
}

// RegisterPrompts registers the summary prompts with the catalog.
func RegisterPrompts(c *prompts.Catalog) {
	for _, p := range []prompts.EmbeddedPrompt{
		{Key: SubtopicKey + ".system", Text: subtopicSystem, Description: "One-line subtopic summary"},
		{Key: SubtopicKey + ".user", Text: subtopicUserTmpl, Description: "Subtopic summary user template"},
		{Key: TopicKey + ".system", Text: topicSystem, Description: "Aggregated topic summary from subtopic summaries"},
		{Key: TopicKey + ".user", Text: topicUserTmpl, Description: "Topic summary user template"},
		{Key: BookKey + ".system", Text: bookSystem, Description: "Rolling book summary update with chapter boundary flag"},
		{Key: BookKey + ".user", Text: bookUserTmpl, Description: "Rolling book summary user template"},
		{Key: CompactKey + ".system", Text: compactSystem, Description: "Chapter consolidation of the rolling summary"},
		{Key: CompactKey + ".user", Text: compactUserTmpl, Description: "Compaction user template"},
	} {
		c.Register(p)
	}
}
