// Package index is the IndexManager: the derived topic/subtopic index and the
// page assignment map for each book.
//
// The index is the only place subtopic lifecycle status is tracked. Entries
// mirror their shard's titles, summary, version and last page so that the
// stability pass and the context pack never need to read shard content.
package index

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackzampolin/guideshelf/internal/shards"
)

var (
	// ErrNotFound is returned when an index entry does not exist.
	ErrNotFound = errors.New("index entry not found")

	// ErrNoChange tells Update and UpdatePages to skip the write.
	ErrNoChange = errors.New("no index change")

	// ErrInvalidTransition is returned for a disallowed status change.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is a subtopic's lifecycle state.
type Status string

const (
	StatusOpen        Status = "open"
	StatusStable      Status = "stable"
	StatusFinal       Status = "final"
	StatusNeedsReview Status = "needs_review"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusStable, StatusFinal, StatusNeedsReview:
		return true
	}
	return false
}

// CanTransition reports whether from may move to to. Same-status moves are
// allowed and are no-ops.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch to {
	case StatusStable:
		return from == StatusOpen
	case StatusFinal:
		return from == StatusOpen || from == StatusStable || from == StatusNeedsReview
	case StatusNeedsReview:
		return true
	}
	return false
}

// SubtopicEntry is the index view of one shard.
type SubtopicEntry struct {
	Key           string    `json:"key"`
	Title         string    `json:"title"`
	Summary       string    `json:"summary,omitempty"`
	Status        Status    `json:"status"`
	Pages         PageSet   `json:"pages"`
	Version       int       `json:"version"`
	SourcePageEnd int       `json:"source_page_end"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TopicEntry groups subtopics under a topic.
type TopicEntry struct {
	Key       string                    `json:"key"`
	Title     string                    `json:"title"`
	Summary   string                    `json:"summary,omitempty"`
	Subtopics map[string]*SubtopicEntry `json:"subtopics"`
}

// SortedSubtopics returns subtopics ordered by first page, then key.
func (t *TopicEntry) SortedSubtopics() []*SubtopicEntry {
	out := make([]*SubtopicEntry, 0, len(t.Subtopics))
	for _, s := range t.Subtopics {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pages.Min() != out[j].Pages.Min() {
			return out[i].Pages.Min() < out[j].Pages.Min()
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// BookIndex is the topic/subtopic hierarchy of a book.
type BookIndex struct {
	BookID    string                 `json:"book_id"`
	Topics    map[string]*TopicEntry `json:"topics"`
	UpdatedAt time.Time              `json:"updated_at"`
}

func newBookIndex(bookID string) *BookIndex {
	return &BookIndex{BookID: bookID, Topics: make(map[string]*TopicEntry)}
}

// Subtopic looks up an entry by shard key.
func (b *BookIndex) Subtopic(k shards.Key) (*SubtopicEntry, bool) {
	t, ok := b.Topics[k.TopicKey]
	if !ok {
		return nil, false
	}
	s, ok := t.Subtopics[k.SubtopicKey]
	return s, ok
}

// Ref pairs a subtopic entry with its topic.
type Ref struct {
	Topic    *TopicEntry
	Subtopic *SubtopicEntry
}

// Key returns the shard key of the referenced subtopic.
func (r Ref) Key() shards.Key {
	return shards.Key{TopicKey: r.Topic.Key, SubtopicKey: r.Subtopic.Key}
}

// All returns every subtopic ordered by topic key, then subtopic key.
func (b *BookIndex) All() []Ref {
	var out []Ref
	for _, t := range b.Topics {
		for _, s := range t.Subtopics {
			out = append(out, Ref{Topic: t, Subtopic: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic.Key != out[j].Topic.Key {
			return out[i].Topic.Key < out[j].Topic.Key
		}
		return out[i].Subtopic.Key < out[j].Subtopic.Key
	})
	return out
}

// WithStatus returns subtopics in any of the given statuses.
func (b *BookIndex) WithStatus(statuses ...Status) []Ref {
	var out []Ref
	for _, r := range b.All() {
		for _, st := range statuses {
			if r.Subtopic.Status == st {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// SetStatus applies a transition to one entry.
func (b *BookIndex) SetStatus(k shards.Key, to Status) error {
	s, ok := b.Subtopic(k)
	if !ok {
		return fmt.Errorf("%s: %w", k, ErrNotFound)
	}
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%s: %s -> %s: %w", k, s.Status, to, ErrInvalidTransition)
	}
	s.Status = to
	return nil
}

// Assignment records which subtopic a page was assigned to.
type Assignment struct {
	Page        int       `json:"page"`
	TopicKey    string    `json:"topic_key"`
	SubtopicKey string    `json:"subtopic_key"`
	Confidence  float64   `json:"confidence"`
	Provisional bool      `json:"provisional"`
	AssignedAt  time.Time `json:"assigned_at"`
}

// Key returns the assigned shard key.
func (a Assignment) Key() shards.Key {
	return shards.Key{TopicKey: a.TopicKey, SubtopicKey: a.SubtopicKey}
}

// PageIndex maps page numbers to assignments.
type PageIndex struct {
	BookID    string             `json:"book_id"`
	Pages     map[int]Assignment `json:"pages"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func newPageIndex(bookID string) *PageIndex {
	return &PageIndex{BookID: bookID, Pages: make(map[int]Assignment)}
}

// Sorted returns assignments in page order.
func (p *PageIndex) Sorted() []Assignment {
	out := make([]Assignment, 0, len(p.Pages))
	for _, a := range p.Pages {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Page < out[j].Page })
	return out
}

// PagesFor returns the pages assigned to k.
func (p *PageIndex) PagesFor(k shards.Key) PageSet {
	var ps PageSet
	for page, a := range p.Pages {
		if a.Key() == k {
			ps.Add(page)
		}
	}
	return ps
}
