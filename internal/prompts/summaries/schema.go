package summaries

import "github.com/jackzampolin/guideshelf/internal/prompts"

var summaryProperty = map[string]any{
	"type":      "string",
	"minLength": 1,
}

// SummarySchema is shared by the subtopic, topic and compaction prompts.
var SummarySchema = prompts.MustSchema("summary", map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary": summaryProperty,
	},
	"required":             []string{"summary"},
	"additionalProperties": false,
})

// BookSchema is the response schema for rolling summary updates.
var BookSchema = prompts.MustSchema("book_summary", map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary": summaryProperty,
		"chapter_boundary": map[string]any{
			"type":        "boolean",
			"description": "True when this page closes a chapter or major section",
		},
	},
	"required":             []string{"summary", "chapter_boundary"},
	"additionalProperties": false,
})
