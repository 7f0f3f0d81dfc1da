// Package prompts holds the embedded prompt templates and response schemas
// for every collaborator task. Task packages (extract, summaries, finalize)
// register their templates into a Catalog so they can be listed and hashed.
package prompts

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/jackzampolin/guideshelf/internal/shards"
)

// EmbeddedPrompt represents a prompt loaded from an embedded .tmpl file.
type EmbeddedPrompt struct {
	Key         string   `json:"key"`                 // Hierarchical key: extract.boundary.system
	Text        string   `json:"text"`                // The prompt text (Go template)
	Description string   `json:"description"`         // Human-readable description
	Variables   []string `json:"variables,omitempty"` // Extracted template variables
	Hash        string   `json:"hash"`                // SHA256 hash of the text for change detection
}

// Catalog is the set of registered prompts.
type Catalog struct {
	mu      sync.RWMutex
	prompts map[string]EmbeddedPrompt
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{prompts: make(map[string]EmbeddedPrompt)}
}

// Register adds an embedded prompt, filling in hash and variables.
func (c *Catalog) Register(p EmbeddedPrompt) {
	if p.Hash == "" {
		p.Hash = HashText(p.Text)
	}
	if p.Variables == nil {
		p.Variables = ExtractVariables(p.Text)
	}
	c.mu.Lock()
	c.prompts[p.Key] = p
	c.mu.Unlock()
}

// Get returns a prompt by key.
func (c *Catalog) Get(key string) (EmbeddedPrompt, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prompts[key]
	return p, ok
}

// List returns all prompts sorted by key.
func (c *Catalog) List() []EmbeddedPrompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]EmbeddedPrompt, 0, len(c.prompts))
	for _, p := range c.prompts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// MustSchema serializes a schema literal wrapped as {"name","strict","schema"}.
func MustSchema(name string, schema map[string]any) json.RawMessage {
	data, err := json.Marshal(map[string]any{
		"name":   name,
		"strict": true,
		"schema": schema,
	})
	if err != nil {
		panic(fmt.Sprintf("prompts: bad schema %s: %v", name, err))
	}
	return data
}

// SlugPattern constrains topic and subtopic keys in response schemas.
const SlugPattern = shards.SlugPattern

