// Package shards is the ShardStore: one versioned content record per
// (topic, subtopic) of a book, persisted in the blob store.
//
// Shards carry content, titles, summaries and page provenance. They never
// carry lifecycle status; that lives only in the book index.
package shards

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no shard exists for a key.
	ErrNotFound = errors.New("shard not found")
	// ErrExists is returned by Create when the key is already taken.
	ErrExists = errors.New("shard already exists")
	// ErrStatusField is returned when a shard document carries a status field.
	ErrStatusField = errors.New("shard documents must not carry a status field")
	// ErrVersionConflict is returned when a write would not advance the version.
	ErrVersionConflict = errors.New("shard version conflict")
	// ErrInvalidKey is returned for keys that are not slugs.
	ErrInvalidKey = errors.New("invalid shard key")
)

// SlugPattern constrains topic and subtopic keys.
const SlugPattern = `^[a-z0-9]+(?:_[a-z0-9]+)*$`

var slugRE = regexp.MustCompile(SlugPattern)

// ValidSlug reports whether s is a lowercase snake_case key.
func ValidSlug(s string) bool {
	return slugRE.MatchString(s)
}

// Key identifies a shard within a book.
type Key struct {
	TopicKey    string `json:"topic_key"`
	SubtopicKey string `json:"subtopic_key"`
}

func (k Key) String() string {
	return k.TopicKey + "/" + k.SubtopicKey
}

// Validate checks both halves are slugs.
func (k Key) Validate() error {
	if !ValidSlug(k.TopicKey) || !ValidSlug(k.SubtopicKey) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, k.String())
	}
	return nil
}

// ParseKey parses "topic/subtopic".
func ParseKey(s string) (Key, error) {
	topic, sub, ok := strings.Cut(s, "/")
	k := Key{TopicKey: topic, SubtopicKey: sub}
	if !ok {
		return k, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return k, k.Validate()
}

// Shard is the consolidated content unit for one subtopic.
type Shard struct {
	BookID          string    `json:"book_id"`
	TopicKey        string    `json:"topic_key"`
	SubtopicKey     string    `json:"subtopic_key"`
	TopicTitle      string    `json:"topic_title"`
	SubtopicTitle   string    `json:"subtopic_title"`
	SubtopicSummary string    `json:"subtopic_summary,omitempty"`
	TopicSummary    string    `json:"topic_summary,omitempty"`
	Content         string    `json:"content"`
	SourcePageStart int       `json:"source_page_start"`
	SourcePageEnd   int       `json:"source_page_end"`
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Key returns the shard's key.
func (s *Shard) Key() Key {
	return Key{TopicKey: s.TopicKey, SubtopicKey: s.SubtopicKey}
}

// Decode parses a stored shard document, rejecting status fields and
// unknown keys.
func Decode(data []byte) (*Shard, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode shard: %w", err)
	}
	if _, ok := fields["status"]; ok {
		return nil, ErrStatusField
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var s Shard
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode shard: %w", err)
	}
	return &s, nil
}

func (s *Shard) validate() error {
	if err := s.Key().Validate(); err != nil {
		return err
	}
	if s.Version < 1 {
		return fmt.Errorf("shard %s: version must be >= 1", s.Key())
	}
	if s.SourcePageStart < 1 || s.SourcePageEnd < s.SourcePageStart {
		return fmt.Errorf("shard %s: bad page range %d-%d", s.Key(), s.SourcePageStart, s.SourcePageEnd)
	}
	return nil
}

// sameContent reports whether two shards differ only in timestamps.
func sameContent(a, b *Shard) bool {
	return a.Version == b.Version &&
		a.Content == b.Content &&
		a.TopicTitle == b.TopicTitle &&
		a.SubtopicTitle == b.SubtopicTitle &&
		a.SubtopicSummary == b.SubtopicSummary &&
		a.TopicSummary == b.TopicSummary &&
		a.SourcePageStart == b.SourcePageStart &&
		a.SourcePageEnd == b.SourcePageEnd
}
