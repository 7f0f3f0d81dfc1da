package extract

import "github.com/jackzampolin/guideshelf/internal/prompts"

// SummarizePageSchema is the response schema for page summaries.
var SummarizePageSchema = prompts.MustSchema("page_summary", map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary": map[string]any{
			"type":        "string",
			"minLength":   1,
			"description": "Condensed summary of the page's teachable content",
		},
	},
	"required":             []string{"summary"},
	"additionalProperties": false,
})

// BoundarySchema is the response schema for boundary decisions.
var BoundarySchema = prompts.MustSchema("boundary_decision", map[string]any{
	"type": "object",
	"properties": map[string]any{
		"is_new_topic": map[string]any{
			"type":        "boolean",
			"description": "True when the page starts a subtopic that is not among the open subtopics",
		},
		"topic_key": map[string]any{
			"type":        "string",
			"pattern":     prompts.SlugPattern,
			"description": "snake_case topic key",
		},
		"subtopic_key": map[string]any{
			"type":        "string",
			"pattern":     prompts.SlugPattern,
			"description": "snake_case subtopic key, unique within the topic",
		},
		"topic_title": map[string]any{
			"type":      "string",
			"minLength": 1,
		},
		"subtopic_title": map[string]any{
			"type":      "string",
			"minLength": 1,
		},
		"extracted_content": map[string]any{
			"type":        "string",
			"minLength":   1,
			"description": "Teaching guideline content extracted from this page",
		},
		"confidence": map[string]any{
			"type":    "number",
			"minimum": 0,
			"maximum": 1,
		},
		"reasoning": map[string]any{
			"type": "string",
		},
	},
	"required": []string{
		"is_new_topic",
		"topic_key",
		"subtopic_key",
		"topic_title",
		"subtopic_title",
		"extracted_content",
	},
	"additionalProperties": false,
})

// MergeSchema is the response schema for merged content.
var MergeSchema = prompts.MustSchema("merged_content", map[string]any{
	"type": "object",
	"properties": map[string]any{
		"content": map[string]any{
			"type":        "string",
			"minLength":   1,
			"description": "Merged content, deduplicated, in order of first introduction",
		},
	},
	"required":             []string{"content"},
	"additionalProperties": false,
})
