package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/jackzampolin/guideshelf/internal/blob"
	"github.com/jackzampolin/guideshelf/internal/index"
)

// PageSummary is the stored condensed summary of one page. Assignment is
// the boundary decision made for the page, set once it is classified.
type PageSummary struct {
	PageNum    int               `json:"page_num"`
	Summary    string            `json:"summary"`
	Assignment *index.Assignment `json:"assignment,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// RollingSummary is the compact running summary of a book.
type RollingSummary struct {
	BookID    string    `json:"book_id"`
	Summary   string    `json:"summary"`
	PageNum   int       `json:"page_num"`
	Tokens    int       `json:"tokens"`
	Chapters  int       `json:"chapters"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PageSummaryKey is the blob key of one page summary.
func PageSummaryKey(bookID string, page int) string {
	return path.Join("books", bookID, "page_summaries", fmt.Sprintf("%05d.json", page))
}

// RollingSummaryKey is the blob key of the book summary.
func RollingSummaryKey(bookID string) string {
	return path.Join("books", bookID, "book_summary.json")
}

// SummaryStore persists page summaries and the rolling book summary.
type SummaryStore struct {
	blobs blob.Store
}

// NewSummaryStore creates a summary store over blobs.
func NewSummaryStore(blobs blob.Store) *SummaryStore {
	return &SummaryStore{blobs: blobs}
}

// PutPage stores a page summary.
func (s *SummaryStore) PutPage(ctx context.Context, bookID string, ps PageSummary) error {
	if ps.CreatedAt.IsZero() {
		ps.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(ps)
	if err != nil {
		return err
	}
	return s.blobs.Put(ctx, PageSummaryKey(bookID, ps.PageNum), data)
}

// GetPage loads one page summary.
func (s *SummaryStore) GetPage(ctx context.Context, bookID string, page int) (*PageSummary, error) {
	data, err := s.blobs.Get(ctx, PageSummaryKey(bookID, page))
	if err != nil {
		return nil, err
	}
	var ps PageSummary
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("decode page summary %d: %w", page, err)
	}
	return &ps, nil
}

// Recent returns up to n page summaries for the pages just before page,
// oldest first. Pages without a summary are left out.
func (s *SummaryStore) Recent(ctx context.Context, bookID string, page, n int) ([]PageSummary, error) {
	first := max(page-n, 1)
	var out []PageSummary
	for num := first; num < page; num++ {
		ps, err := s.GetPage(ctx, bookID, num)
		if errors.Is(err, blob.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *ps)
	}
	return out, nil
}

// Rolling loads the book summary; a book with none yet returns an empty one.
func (s *SummaryStore) Rolling(ctx context.Context, bookID string) (*RollingSummary, error) {
	data, err := s.blobs.Get(ctx, RollingSummaryKey(bookID))
	if errors.Is(err, blob.ErrNotFound) {
		return &RollingSummary{BookID: bookID}, nil
	}
	if err != nil {
		return nil, err
	}
	var rs RollingSummary
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("decode book summary: %w", err)
	}
	return &rs, nil
}

// PutRolling stores the book summary.
func (s *SummaryStore) PutRolling(ctx context.Context, rs *RollingSummary) error {
	rs.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rs)
	if err != nil {
		return err
	}
	return s.blobs.Put(ctx, RollingSummaryKey(rs.BookID), data)
}
