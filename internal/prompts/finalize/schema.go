package finalize

import "github.com/jackzampolin/guideshelf/internal/prompts"

// RenameSchema is the response schema for title cleanup.
var RenameSchema = prompts.MustSchema("renames", map[string]any{
	"type": "object",
	"properties": map[string]any{
		"renames": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"topic_key":      map[string]any{"type": "string", "pattern": prompts.SlugPattern},
					"subtopic_key":   map[string]any{"type": "string", "pattern": prompts.SlugPattern},
					"topic_title":    map[string]any{"type": "string", "minLength": 1},
					"subtopic_title": map[string]any{"type": "string", "minLength": 1},
				},
				"required":             []string{"topic_key", "subtopic_key", "topic_title", "subtopic_title"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"renames"},
	"additionalProperties": false,
})

// ScreenSchema is the response schema for summary-level duplicate screening.
var ScreenSchema = prompts.MustSchema("duplicate_candidates", map[string]any{
	"type": "object",
	"properties": map[string]any{
		"pairs": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"a": map[string]any{"type": "string", "minLength": 3},
					"b": map[string]any{"type": "string", "minLength": 3},
				},
				"required":             []string{"a", "b"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"pairs"},
	"additionalProperties": false,
})

// CheckSchema is the response schema for the full content comparison.
var CheckSchema = prompts.MustSchema("duplicate_verdict", map[string]any{
	"type": "object",
	"properties": map[string]any{
		"duplicate": map[string]any{"type": "boolean"},
		"confidence": map[string]any{
			"type":    "number",
			"minimum": 0,
			"maximum": 1,
		},
		"reason": map[string]any{"type": "string"},
	},
	"required":             []string{"duplicate", "confidence", "reason"},
	"additionalProperties": false,
})
