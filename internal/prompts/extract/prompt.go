// Package extract holds the per-page prompts: page summarization, boundary
// classification and content merging.
package extract

import (
	_ "embed"
	"text/template"

	"github.com/jackzampolin/guideshelf/internal/prompts"
)

// Prompt keys
const (
	SummarizePageKey = "extract.summarize_page"
	BoundaryKey      = "extract.boundary"
	MergeContentKey  = "extract.merge_content"
)

//go:embed summarize_page_system.tmpl
var summarizePageSystem string

//go:embed summarize_page_user.tmpl
var summarizePageUserTmpl string

//go:embed boundary_system.tmpl
var boundarySystem string

//go:embed boundary_user.tmpl
var boundaryUserTmpl string

//go:embed merge_system.tmpl
var mergeSystem string

//go:embed merge_user.tmpl
var mergeUserTmpl string

var (
	summarizePageUser = template.Must(template.New("summarize_page").Funcs(prompts.Funcs).Parse(summarizePageUserTmpl))
	boundaryUser      = template.Must(template.New("boundary").Funcs(prompts.Funcs).Parse(boundaryUserTmpl))
	mergeUser         = template.Must(template.New("merge").Funcs(prompts.Funcs).Parse(mergeUserTmpl))
)

// PageInput feeds the page summary prompt.
type PageInput struct {
	PageNum  int
	PageText string
}

// PageSummary is one prior page summary in a context pack.
type PageSummary struct {
	PageNum int
	Summary string
}

// OpenSubtopic is a subtopic the page may continue.
type OpenSubtopic struct {
	TopicKey      string
	SubtopicKey   string
	TopicTitle    string
	SubtopicTitle string
	Summary       string
	Guideline     string
	PageEnd       int
}

// BoundaryInput feeds the boundary classification prompt.
type BoundaryInput struct {
	PageNum         int
	PageText        string
	Curriculum      string
	BookSummary     string
	TOCHints        []string
	RecentSummaries []PageSummary
	OpenSubtopics   []OpenSubtopic
}

// MergeInput feeds the content merge prompt.
type MergeInput struct {
	SubtopicTitle   string
	ExistingContent string
	NewContent      string
}

// SummarizePageSystemPrompt returns the system prompt for page summaries.
func SummarizePageSystemPrompt() string { return summarizePageSystem }

// SummarizePageUserPrompt renders the page summary request.
func SummarizePageUserPrompt(in PageInput) (string, error) {
	return prompts.Render(summarizePageUser, in)
}

// BoundarySystemPrompt returns the system prompt for boundary classification.
func BoundarySystemPrompt() string { return boundarySystem }

// BoundaryUserPrompt renders the boundary classification request.
func BoundaryUserPrompt(in BoundaryInput) (string, error) {
	return prompts.Render(boundaryUser, in)
}

// MergeSystemPrompt returns the system prompt for content merging.
func MergeSystemPrompt() string { return mergeSystem }

// MergeUserPrompt renders the merge request.
func MergeUserPrompt(in MergeInput) (string, error) {
	return prompts.Render(mergeUser, in)
}

// RegisterPrompts registers the extraction prompts with the catalog.
func RegisterPrompts(c *prompts.Catalog) {
	c.Register(prompts.EmbeddedPrompt{Key: SummarizePageKey + ".system", Text: summarizePageSystem, Description: "Page summary system prompt"})
	c.Register(prompts.EmbeddedPrompt{Key: SummarizePageKey + ".user", Text: summarizePageUserTmpl, Description: "Page summary user prompt template"})
	c.Register(prompts.EmbeddedPrompt{Key: BoundaryKey + ".system", Text: boundarySystem, Description: "Boundary classification system prompt - continue or start a subtopic"})
	c.Register(prompts.EmbeddedPrompt{Key: BoundaryKey + ".user", Text: boundaryUserTmpl, Description: "Boundary classification user prompt template with context pack"})
	c.Register(prompts.EmbeddedPrompt{Key: MergeContentKey + ".system", Text: mergeSystem, Description: "Semantic merge system prompt"})
	c.Register(prompts.EmbeddedPrompt{Key: MergeContentKey + ".user", Text: mergeUserTmpl, Description: "Semantic merge user prompt template"})
}
