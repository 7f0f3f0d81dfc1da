package providers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// StructuredSchema is a response schema as prompts declare it. The raw form is
// either a bare JSON schema or the {"name","strict","schema"} wrapper used by
// OpenAI-compatible APIs.
type StructuredSchema struct {
	Name   string
	Strict bool
	Schema map[string]any
}

// ParseSchema reads either raw form.
func ParseSchema(raw json.RawMessage) (*StructuredSchema, error) {
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("invalid structured schema JSON: %w", err)
	}
	inner, wrapped := root["schema"].(map[string]any)
	if !wrapped {
		return &StructuredSchema{Schema: root}, nil
	}
	s := &StructuredSchema{Schema: inner}
	s.Name, _ = root["name"].(string)
	s.Strict, _ = root["strict"].(bool)
	return s, nil
}

// ForModel returns the schema adjusted for model. Anthropic models reject
// minimum/maximum on integers, so those bounds are dropped and left to local
// validation.
func (s *StructuredSchema) ForModel(model string) *StructuredSchema {
	if !isAnthropicModel(model) {
		return s
	}
	out := *s
	out.Schema = withoutIntegerBounds(s.Schema).(map[string]any)
	return &out
}

func isAnthropicModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "anthropic/")
}

// withoutIntegerBounds copies node, leaving the input untouched.
func withoutIntegerBounds(node any) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		integer := typeIncludes(n["type"], "integer")
		for k, v := range n {
			switch k {
			case "minimum", "maximum", "exclusiveMinimum", "exclusiveMaximum":
				if integer {
					continue
				}
			}
			out[k] = withoutIntegerBounds(v)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = withoutIntegerBounds(v)
		}
		return out
	default:
		return node
	}
}

func typeIncludes(typeVal any, want string) bool {
	switch t := typeVal.(type) {
	case string:
		return t == want
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

// ParseStructuredJSON extracts a JSON document from model output. A bare
// document or one wrapped in a single markdown code fence is accepted;
// anything else is an error. No content repair is attempted.
func ParseStructuredJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("empty structured output")
	}
	doc, ok := decodeJSON(content)
	if !ok {
		if inner, fenced := unfence(content); fenced {
			doc, ok = decodeJSON(inner)
		}
	}
	if !ok {
		return nil, errors.New("output is not a JSON document")
	}
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize structured output: %w", err)
	}
	return normalized, nil
}

func decodeJSON(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// unfence strips one ```lang ... ``` wrapper.
func unfence(s string) (string, bool) {
	if !strings.HasPrefix(s, "```") {
		return "", false
	}
	_, body, found := strings.Cut(s, "\n")
	if !found {
		return "", false
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSpace(strings.TrimSuffix(body, "```"))
	return body, true
}

var compiled sync.Map // raw schema text -> *jsonschema.Schema

// ValidateStructuredJSON validates parsed JSON against schemaRaw (either raw
// form). Compiled schemas are cached by their text.
func ValidateStructuredJSON(schemaRaw, parsed json.RawMessage) error {
	if len(schemaRaw) == 0 {
		return nil
	}
	if len(parsed) == 0 {
		return errors.New("structured output is empty")
	}

	schema, err := compileSchema(schemaRaw)
	if err != nil {
		return err
	}
	doc, ok := decodeJSON(string(parsed))
	if !ok {
		return errors.New("structured output is not valid JSON")
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("structured output does not match schema: %w", err)
	}
	return nil
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	key := string(raw)
	if s, ok := compiled.Load(key); ok {
		return s.(*jsonschema.Schema), nil
	}

	parsed, err := ParseSchema(raw)
	if err != nil {
		return nil, err
	}
	doc, err := json.Marshal(parsed.Schema)
	if err != nil {
		return nil, fmt.Errorf("encode structured schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("load structured schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile structured schema: %w", err)
	}
	compiled.Store(key, schema)
	return schema, nil
}
