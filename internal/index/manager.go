package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/jackzampolin/guideshelf/internal/blob"
	"github.com/jackzampolin/guideshelf/internal/shards"
)

// Manager loads and saves a book's index and page index. Writes are
// load-modify-store; the book's writer lock makes the caller the only writer.
type Manager struct {
	blobs  blob.Store
	shards *shards.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates an index manager.
func NewManager(blobs blob.Store, shardStore *shards.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		blobs:  blobs,
		shards: shardStore,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// IndexKey returns the blob key of the topic index.
func IndexKey(bookID string) string {
	return path.Join("books", bookID, "index.json")
}

// PageIndexKey returns the blob key of the page index.
func PageIndexKey(bookID string) string {
	return path.Join("books", bookID, "page_index.json")
}

// Load returns the book index, empty if none was written yet.
func (m *Manager) Load(ctx context.Context, bookID string) (*BookIndex, error) {
	idx := newBookIndex(bookID)
	if err := m.load(ctx, IndexKey(bookID), idx); err != nil {
		return nil, err
	}
	if idx.Topics == nil {
		idx.Topics = make(map[string]*TopicEntry)
	}
	for _, t := range idx.Topics {
		if t.Subtopics == nil {
			t.Subtopics = make(map[string]*SubtopicEntry)
		}
	}
	return idx, nil
}

// LoadPages returns the page index, empty if none was written yet.
func (m *Manager) LoadPages(ctx context.Context, bookID string) (*PageIndex, error) {
	pi := newPageIndex(bookID)
	if err := m.load(ctx, PageIndexKey(bookID), pi); err != nil {
		return nil, err
	}
	if pi.Pages == nil {
		pi.Pages = make(map[int]Assignment)
	}
	return pi, nil
}

func (m *Manager) load(ctx context.Context, key string, v any) error {
	data, err := m.blobs.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (m *Manager) save(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := m.blobs.Put(ctx, key, data); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Update loads the book index, applies fn and stores the result. Nothing is
// written when fn fails, or when it returns ErrNoChange.
func (m *Manager) Update(ctx context.Context, bookID string, fn func(*BookIndex) error) (*BookIndex, error) {
	idx, err := m.Load(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if err := fn(idx); errors.Is(err, ErrNoChange) {
		return idx, nil
	} else if err != nil {
		return nil, err
	}
	idx.UpdatedAt = m.now()
	if err := m.save(ctx, IndexKey(bookID), idx); err != nil {
		return nil, err
	}
	return idx, nil
}

// UpdatePages is Update for the page index.
func (m *Manager) UpdatePages(ctx context.Context, bookID string, fn func(*PageIndex) error) (*PageIndex, error) {
	pi, err := m.LoadPages(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if err := fn(pi); errors.Is(err, ErrNoChange) {
		return pi, nil
	} else if err != nil {
		return nil, err
	}
	pi.UpdatedAt = m.now()
	if err := m.save(ctx, PageIndexKey(bookID), pi); err != nil {
		return nil, err
	}
	return pi, nil
}

// SyncSubtopic makes the subtopic entry and its topic reflect sh. page is
// added to the entry's page set when > 0. New entries start open.
func (m *Manager) SyncSubtopic(ctx context.Context, sh *shards.Shard, page int) error {
	_, err := m.Update(ctx, sh.BookID, func(idx *BookIndex) error {
		applyShard(idx, sh, page, m.now())
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Debug("index synced",
		"book_id", sh.BookID,
		"topic_key", sh.TopicKey,
		"subtopic_key", sh.SubtopicKey,
		"version", sh.Version)
	return nil
}

func applyShard(idx *BookIndex, sh *shards.Shard, page int, now time.Time) *SubtopicEntry {
	t, ok := idx.Topics[sh.TopicKey]
	if !ok {
		t = &TopicEntry{Key: sh.TopicKey, Subtopics: make(map[string]*SubtopicEntry)}
		idx.Topics[sh.TopicKey] = t
	}
	if sh.TopicTitle != "" {
		t.Title = sh.TopicTitle
	}
	if sh.TopicSummary != "" {
		t.Summary = sh.TopicSummary
	}

	s, ok := t.Subtopics[sh.SubtopicKey]
	if !ok {
		s = &SubtopicEntry{Key: sh.SubtopicKey, Status: StatusOpen}
		t.Subtopics[sh.SubtopicKey] = s
	}
	s.Title = sh.SubtopicTitle
	if sh.SubtopicSummary != "" {
		s.Summary = sh.SubtopicSummary
	}
	s.Version = sh.Version
	s.SourcePageEnd = sh.SourcePageEnd
	s.Pages.Add(page)
	s.UpdatedAt = now
	return s
}

// SetTopicSummary stores the aggregated topic summary.
func (m *Manager) SetTopicSummary(ctx context.Context, bookID, topicKey, summary string) error {
	_, err := m.Update(ctx, bookID, func(idx *BookIndex) error {
		t, ok := idx.Topics[topicKey]
		if !ok {
			return fmt.Errorf("topic %s: %w", topicKey, ErrNotFound)
		}
		t.Summary = summary
		return nil
	})
	return err
}

// SetStatus transitions one subtopic.
func (m *Manager) SetStatus(ctx context.Context, bookID string, k shards.Key, to Status) error {
	_, err := m.Update(ctx, bookID, func(idx *BookIndex) error {
		return idx.SetStatus(k, to)
	})
	return err
}

// RecordAssignment stores a page assignment, replacing any earlier one for
// the same page.
func (m *Manager) RecordAssignment(ctx context.Context, bookID string, a Assignment) error {
	if a.AssignedAt.IsZero() {
		a.AssignedAt = m.now()
	}
	_, err := m.UpdatePages(ctx, bookID, func(pi *PageIndex) error {
		pi.Pages[a.Page] = a
		return nil
	})
	return err
}

// PageAssignments returns all assignments in page order.
func (m *Manager) PageAssignments(ctx context.Context, bookID string) ([]Assignment, error) {
	pi, err := m.LoadPages(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return pi.Sorted(), nil
}

// RemoveSubtopic drops an entry, and its topic when it becomes empty.
func (m *Manager) RemoveSubtopic(ctx context.Context, bookID string, k shards.Key) error {
	_, err := m.Update(ctx, bookID, func(idx *BookIndex) error {
		removeSubtopic(idx, k)
		return nil
	})
	return err
}

func removeSubtopic(idx *BookIndex, k shards.Key) {
	t, ok := idx.Topics[k.TopicKey]
	if !ok {
		return
	}
	delete(t.Subtopics, k.SubtopicKey)
	if len(t.Subtopics) == 0 {
		delete(idx.Topics, k.TopicKey)
	}
}

// MergeSubtopics folds from into into after a duplicate merge: the survivor
// takes the union of both page sets, from is removed, and page assignments
// pointing at from are moved to into. survivor is the merged shard.
func (m *Manager) MergeSubtopics(ctx context.Context, from shards.Key, survivor *shards.Shard) error {
	into := survivor.Key()
	_, err := m.Update(ctx, survivor.BookID, func(idx *BookIndex) error {
		old, ok := idx.Subtopic(from)
		if !ok {
			return fmt.Errorf("%s: %w", from, ErrNotFound)
		}
		if _, ok := idx.Subtopic(into); !ok {
			return fmt.Errorf("%s: %w", into, ErrNotFound)
		}
		entry := applyShard(idx, survivor, 0, m.now())
		entry.Pages.Union(old.Pages)
		removeSubtopic(idx, from)
		return nil
	})
	if err != nil {
		return err
	}

	_, err = m.UpdatePages(ctx, survivor.BookID, func(pi *PageIndex) error {
		for page, a := range pi.Pages {
			if a.Key() == from {
				a.TopicKey = into.TopicKey
				a.SubtopicKey = into.SubtopicKey
				pi.Pages[page] = a
			}
		}
		return nil
	})
	return err
}

// Rename updates titles. Empty arguments keep the current value.
func (m *Manager) Rename(ctx context.Context, bookID string, k shards.Key, topicTitle, subtopicTitle string) error {
	_, err := m.Update(ctx, bookID, func(idx *BookIndex) error {
		s, ok := idx.Subtopic(k)
		if !ok {
			return fmt.Errorf("%s: %w", k, ErrNotFound)
		}
		if topicTitle != "" {
			idx.Topics[k.TopicKey].Title = topicTitle
		}
		if subtopicTitle != "" {
			s.Title = subtopicTitle
		}
		return nil
	})
	return err
}

// OpenSubtopics returns subtopics still accepting continuation pages.
func (m *Manager) OpenSubtopics(ctx context.Context, bookID string) ([]Ref, error) {
	idx, err := m.Load(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return idx.WithStatus(StatusOpen), nil
}
