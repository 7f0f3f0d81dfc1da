package shards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackzampolin/guideshelf/internal/blob"
)

// Store reads and writes shards. Callers hold the book's writer lock; the
// store itself does no locking.
type Store struct {
	blobs  blob.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a shard store over a blob store.
func NewStore(blobs blob.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		blobs:  blobs,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Prefix returns the blob prefix holding a book's shards.
func Prefix(bookID string) string {
	return path.Join("books", bookID, "shards") + "/"
}

// BlobKey returns the blob key for one shard.
func BlobKey(bookID string, k Key) string {
	return path.Join("books", bookID, "shards", k.TopicKey, k.SubtopicKey+".json")
}

// NewShard holds the fields of a freshly started subtopic.
type NewShard struct {
	Key
	TopicTitle      string
	SubtopicTitle   string
	SubtopicSummary string
	TopicSummary    string
	Content         string
	Page            int
}

// MergeUpdate is a content-changing write to an existing shard. Empty
// summaries keep the stored ones.
type MergeUpdate struct {
	Content         string
	SubtopicSummary string
	TopicSummary    string
	PageStart       int
	PageEnd         int
}

// Get loads one shard.
func (s *Store) Get(ctx context.Context, bookID string, k Key) (*Shard, error) {
	data, err := s.blobs.Get(ctx, BlobKey(bookID, k))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", k, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load shard %s: %w", k, err)
	}
	return Decode(data)
}

// Exists reports whether a shard is stored for k.
func (s *Store) Exists(ctx context.Context, bookID string, k Key) (bool, error) {
	_, err := s.Get(ctx, bookID, k)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// List returns every shard of a book ordered by key.
func (s *Store) List(ctx context.Context, bookID string) ([]*Shard, error) {
	keys, err := s.blobs.List(ctx, Prefix(bookID))
	if err != nil {
		return nil, fmt.Errorf("list shards: %w", err)
	}
	out := make([]*Shard, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		data, err := s.blobs.Get(ctx, key)
		if errors.Is(err, blob.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load shard %s: %w", key, err)
		}
		sh, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, sh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out, nil
}

// Create stores a version 1 shard covering a single page.
func (s *Store) Create(ctx context.Context, bookID string, ns NewShard) (*Shard, error) {
	if err := ns.Key.Validate(); err != nil {
		return nil, err
	}
	exists, err := s.Exists(ctx, bookID, ns.Key)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%s: %w", ns.Key, ErrExists)
	}

	now := s.now()
	sh := &Shard{
		BookID:          bookID,
		TopicKey:        ns.TopicKey,
		SubtopicKey:     ns.SubtopicKey,
		TopicTitle:      ns.TopicTitle,
		SubtopicTitle:   ns.SubtopicTitle,
		SubtopicSummary: ns.SubtopicSummary,
		TopicSummary:    ns.TopicSummary,
		Content:         ns.Content,
		SourcePageStart: ns.Page,
		SourcePageEnd:   ns.Page,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.write(ctx, sh); err != nil {
		return nil, err
	}
	return sh, nil
}

// Merge replaces content with already-merged text, widens the page range and
// bumps the version by one.
func (s *Store) Merge(ctx context.Context, bookID string, k Key, u MergeUpdate) (*Shard, error) {
	sh, err := s.Get(ctx, bookID, k)
	if err != nil {
		return nil, err
	}
	if u.PageStart > 0 && u.PageStart < sh.SourcePageStart {
		sh.SourcePageStart = u.PageStart
	}
	if u.PageEnd > sh.SourcePageEnd {
		sh.SourcePageEnd = u.PageEnd
	}
	sh.Content = u.Content
	if u.SubtopicSummary != "" {
		sh.SubtopicSummary = u.SubtopicSummary
	}
	if u.TopicSummary != "" {
		sh.TopicSummary = u.TopicSummary
	}
	sh.Version++
	sh.UpdatedAt = s.now()
	if err := s.write(ctx, sh); err != nil {
		return nil, err
	}
	return sh, nil
}

// Upsert writes a full shard. The version must advance past the stored copy;
// rewriting an identical shard at the same version is a no-op.
func (s *Store) Upsert(ctx context.Context, sh *Shard) error {
	if err := sh.validate(); err != nil {
		return err
	}
	stored, err := s.Get(ctx, sh.BookID, sh.Key())
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return err
	case sameContent(stored, sh):
		return nil
	case sh.Version <= stored.Version:
		return fmt.Errorf("%s: version %d does not advance stored version %d: %w",
			sh.Key(), sh.Version, stored.Version, ErrVersionConflict)
	}
	if sh.CreatedAt.IsZero() {
		sh.CreatedAt = s.now()
	}
	sh.UpdatedAt = s.now()
	return s.write(ctx, sh)
}

// SetSummaries stores derived summaries. Empty arguments keep the current
// value. Summaries are derived from content, so the version is unchanged.
func (s *Store) SetSummaries(ctx context.Context, bookID string, k Key, subtopicSummary, topicSummary string) (*Shard, error) {
	sh, err := s.Get(ctx, bookID, k)
	if err != nil {
		return nil, err
	}
	changed := false
	if subtopicSummary != "" && subtopicSummary != sh.SubtopicSummary {
		sh.SubtopicSummary = subtopicSummary
		changed = true
	}
	if topicSummary != "" && topicSummary != sh.TopicSummary {
		sh.TopicSummary = topicSummary
		changed = true
	}
	if !changed {
		return sh, nil
	}
	sh.UpdatedAt = s.now()
	return sh, s.write(ctx, sh)
}

// Rename changes titles only. Empty arguments keep the current value.
func (s *Store) Rename(ctx context.Context, bookID string, k Key, topicTitle, subtopicTitle string) (*Shard, error) {
	sh, err := s.Get(ctx, bookID, k)
	if err != nil {
		return nil, err
	}
	changed := false
	if topicTitle != "" && topicTitle != sh.TopicTitle {
		sh.TopicTitle = topicTitle
		changed = true
	}
	if subtopicTitle != "" && subtopicTitle != sh.SubtopicTitle {
		sh.SubtopicTitle = subtopicTitle
		changed = true
	}
	if !changed {
		return sh, nil
	}
	sh.UpdatedAt = s.now()
	return sh, s.write(ctx, sh)
}

// Delete removes a shard. Deleting a missing shard is not an error.
func (s *Store) Delete(ctx context.Context, bookID string, k Key) error {
	if err := s.blobs.Delete(ctx, BlobKey(bookID, k)); err != nil {
		return fmt.Errorf("delete shard %s: %w", k, err)
	}
	s.logger.Debug("shard deleted", "book_id", bookID, "topic_key", k.TopicKey, "subtopic_key", k.SubtopicKey)
	return nil
}

func (s *Store) write(ctx context.Context, sh *Shard) error {
	data, err := json.MarshalIndent(sh, "", "  ")
	if err != nil {
		return fmt.Errorf("encode shard: %w", err)
	}
	if err := s.blobs.Put(ctx, BlobKey(sh.BookID, sh.Key()), data); err != nil {
		return fmt.Errorf("store shard %s: %w", sh.Key(), err)
	}
	s.logger.Debug("shard written",
		"book_id", sh.BookID,
		"topic_key", sh.TopicKey,
		"subtopic_key", sh.SubtopicKey,
		"version", sh.Version)
	return nil
}
