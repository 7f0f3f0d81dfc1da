// Package publish replaces a book's published guideline rows with the
// current set of final shards in one transaction.
package publish

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/guideshelf/internal/index"
	"github.com/jackzampolin/guideshelf/internal/shards"
)

// ReviewToBeReviewed is the review status of every freshly synced row.
const ReviewToBeReviewed = "to_be_reviewed"

// ErrNothingToSync is returned when a book has no final subtopics. The
// destination is left untouched.
var ErrNothingToSync = errors.New("no final subtopics to sync")

// Guideline is one published row.
type Guideline struct {
	BookID          string    `json:"book_id"`
	TopicKey        string    `json:"topic_key"`
	SubtopicKey     string    `json:"subtopic_key"`
	TopicTitle      string    `json:"topic_title"`
	SubtopicTitle   string    `json:"subtopic_title"`
	TopicSummary    string    `json:"topic_summary"`
	SubtopicSummary string    `json:"subtopic_summary"`
	Content         string    `json:"content"`
	SourcePageStart int       `json:"source_page_start"`
	SourcePageEnd   int       `json:"source_page_end"`
	Version         int       `json:"version"`
	ReviewStatus    string    `json:"review_status"`
	SyncedAt        time.Time `json:"synced_at"`
}

// Report is the result of one snapshot sync.
type Report struct {
	BookID   string    `json:"book_id"`
	Inserted int       `json:"inserted_count"`
	Deleted  int       `json:"deleted_count"`
	Skipped  []string  `json:"skipped,omitempty"`
	SyncedAt time.Time `json:"synced_at"`
}

// Config configures a Service.
type Config struct {
	DB     *sql.DB
	Shards *shards.Store
	Index  *index.Manager
	Logger *slog.Logger

	// BeforeCommit runs inside the transaction after all rows are written.
	// An error rolls the sync back.
	BeforeCommit func(ctx context.Context, tx *sql.Tx) error
}

// Service is the SyncService.
type Service struct {
	db           *sql.DB
	shards       *shards.Store
	index        *index.Manager
	logger       *slog.Logger
	beforeCommit func(ctx context.Context, tx *sql.Tx) error
	now          func() time.Time
}

// New creates a Service.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		db:           cfg.DB,
		shards:       cfg.Shards,
		index:        cfg.Index,
		logger:       cfg.Logger,
		beforeCommit: cfg.BeforeCommit,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

const guidelineColumns = `book_id, topic_key, subtopic_key, topic_title, subtopic_title, topic_summary,
	subtopic_summary, content, source_page_start, source_page_end, version, review_status, synced_at`

// Sync publishes every final subtopic of the book. Rows are read before the
// transaction opens, so a storage error leaves the destination untouched;
// inside the transaction the old rows are deleted and the new set inserted.
func (s *Service) Sync(ctx context.Context, bookID string) (Report, error) {
	report := Report{BookID: bookID, SyncedAt: s.now()}

	rows, skipped, err := s.snapshot(ctx, bookID, report.SyncedAt)
	if err != nil {
		return report, err
	}
	report.Skipped = skipped
	if len(rows) == 0 {
		return report, ErrNothingToSync
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("begin sync: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM guidelines WHERE book_id = ?`, bookID)
	if err != nil {
		return report, fmt.Errorf("delete old rows: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		report.Deleted = int(n)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO guidelines (`+guidelineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return report, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, g := range rows {
		_, err := stmt.ExecContext(ctx,
			g.BookID, g.TopicKey, g.SubtopicKey, g.TopicTitle, g.SubtopicTitle, g.TopicSummary,
			g.SubtopicSummary, g.Content, g.SourcePageStart, g.SourcePageEnd, g.Version, g.ReviewStatus, g.SyncedAt)
		if err != nil {
			return report, fmt.Errorf("insert %s/%s: %w", g.TopicKey, g.SubtopicKey, err)
		}
	}

	if s.beforeCommit != nil {
		if err := s.beforeCommit(ctx, tx); err != nil {
			return report, fmt.Errorf("before commit: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("commit sync: %w", err)
	}

	report.Inserted = len(rows)
	s.logger.Info("guidelines synced",
		"book_id", bookID,
		"inserted", report.Inserted,
		"deleted", report.Deleted,
		"skipped", len(report.Skipped))
	return report, nil
}

// snapshot builds the rows to publish. Titles and summaries come from the
// index; content and page range from the shard.
func (s *Service) snapshot(ctx context.Context, bookID string, at time.Time) ([]Guideline, []string, error) {
	idx, err := s.index.Load(ctx, bookID)
	if err != nil {
		return nil, nil, fmt.Errorf("load index: %w", err)
	}

	var (
		rows    []Guideline
		skipped []string
	)
	for _, ref := range idx.All() {
		if ref.Subtopic.Status != index.StatusFinal {
			skipped = append(skipped, ref.Key().String())
			continue
		}
		sh, err := s.shards.Get(ctx, bookID, ref.Key())
		if err != nil {
			return nil, nil, fmt.Errorf("load shard %s: %w", ref.Key(), err)
		}
		rows = append(rows, Guideline{
			BookID:          bookID,
			TopicKey:        ref.Topic.Key,
			SubtopicKey:     ref.Subtopic.Key,
			TopicTitle:      firstNonEmpty(ref.Topic.Title, sh.TopicTitle),
			SubtopicTitle:   firstNonEmpty(ref.Subtopic.Title, sh.SubtopicTitle),
			TopicSummary:    firstNonEmpty(ref.Topic.Summary, sh.TopicSummary),
			SubtopicSummary: firstNonEmpty(ref.Subtopic.Summary, sh.SubtopicSummary),
			Content:         sh.Content,
			SourcePageStart: sh.SourcePageStart,
			SourcePageEnd:   sh.SourcePageEnd,
			Version:         sh.Version,
			ReviewStatus:    ReviewToBeReviewed,
			SyncedAt:        at,
		})
	}
	return rows, skipped, nil
}

// List returns the published rows of a book ordered by key.
func (s *Service) List(ctx context.Context, bookID string) ([]Guideline, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+guidelineColumns+` FROM guidelines
		WHERE book_id = ? ORDER BY topic_key, subtopic_key`, bookID)
	if err != nil {
		return nil, fmt.Errorf("query guidelines: %w", err)
	}
	defer rows.Close()

	var out []Guideline
	for rows.Next() {
		var g Guideline
		if err := rows.Scan(&g.BookID, &g.TopicKey, &g.SubtopicKey, &g.TopicTitle, &g.SubtopicTitle, &g.TopicSummary,
			&g.SubtopicSummary, &g.Content, &g.SourcePageStart, &g.SourcePageEnd, &g.Version, &g.ReviewStatus, &g.SyncedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Count returns how many rows are published for a book.
func (s *Service) Count(ctx context.Context, bookID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM guidelines WHERE book_id = ?`, bookID).Scan(&n)
	return n, err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
