// Package finalize holds the finalization prompts: title cleanup and the two
// stages of duplicate detection.
package finalize

import (
	_ "embed"
	"text/template"

	"github.com/jackzampolin/guideshelf/internal/prompts"
)

// Prompt keys
const (
	RenameKey          = "finalize.rename"
	DuplicateScreenKey = "finalize.duplicate_screen"
	DuplicateCheckKey  = "finalize.duplicate_check"
)

//go:embed rename_system.tmpl
var renameSystem string

//go:embed rename_user.tmpl
var renameUserTmpl string

//go:embed screen_system.tmpl
var screenSystem string

//go:embed screen_user.tmpl
var screenUserTmpl string

//go:embed check_system.tmpl
var checkSystem string

//go:embed check_user.tmpl
var checkUserTmpl string

var (
	renameUser = template.Must(template.New("rename").Funcs(prompts.Funcs).Parse(renameUserTmpl))
	screenUser = template.Must(template.New("screen").Funcs(prompts.Funcs).Parse(screenUserTmpl))
	checkUser  = template.Must(template.New("check").Funcs(prompts.Funcs).Parse(checkUserTmpl))
)

// Subtopic describes one subtopic to the rename and screen prompts.
type Subtopic struct {
	TopicKey      string
	SubtopicKey   string
	TopicTitle    string
	SubtopicTitle string
	Summary       string
}

// ID is the "topic/subtopic" reference used in prompts and responses.
func (s Subtopic) ID() string { return s.TopicKey + "/" + s.SubtopicKey }

// RenameInput feeds the rename prompt.
type RenameInput struct {
	Curriculum string
	Subtopics  []Subtopic
}

// ScreenInput feeds the duplicate screening prompt.
type ScreenInput struct {
	Subtopics []Subtopic
}

// CheckSide is one half of a full-content duplicate comparison.
type CheckSide struct {
	ID      string
	Title   string
	Content string
}

// CheckInput feeds the full content duplicate check.
type CheckInput struct {
	A CheckSide
	B CheckSide
}

func RenameSystemPrompt() string { return renameSystem }

func RenameUserPrompt(in RenameInput) (string, error) {
	return prompts.Render(renameUser, in)
}

func ScreenSystemPrompt() string { return screenSystem }

func ScreenUserPrompt(in ScreenInput) (string, error) {
	return prompts.Render(screenUser, in)
}

func CheckSystemPrompt() string { return checkSystem }

func CheckUserPrompt(in CheckInput) (string, error) {
	return prompts.Render(checkUser, in)
}

// RegisterPrompts registers the finalization prompts with the catalog.
func RegisterPrompts(c *prompts.Catalog) {
	for _, p := range []prompts.EmbeddedPrompt{
		{Key: RenameKey + ".system", Text: renameSystem, Description: "Propose cleaner topic and subtopic titles"},
		{Key: RenameKey + ".user", Text: renameUserTmpl, Description: "Rename user template"},
		{Key: DuplicateScreenKey + ".system", Text: screenSystem, Description: "Summary-level duplicate screening"},
		{Key: DuplicateScreenKey + ".user", Text: screenUserTmpl, Description: "Duplicate screening user template"},
		{Key: DuplicateCheckKey + ".system", Text: checkSystem, Description: "Full content duplicate comparison"},
		{Key: DuplicateCheckKey + ".user", Text: checkUserTmpl, Description: "Duplicate check user template"},
	} {
		c.Register(p)
	}
}
