// Package books stores books and their page text in sqlite.
//
// Page text arrives from outside the pipeline (OCR, manual entry). Once a page
// is approved it is immutable and becomes readable by the extraction pipeline.
package books

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a book or page does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPageNotApproved is returned when the pipeline asks for an unapproved page.
	ErrPageNotApproved = errors.New("page not approved")
	// ErrPageApproved is returned when approved page text would be changed.
	ErrPageApproved = errors.New("page already approved")
)

// Book is one source document.
type Book struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Grade    string   `json:"grade,omitempty"`
	Subject  string   `json:"subject,omitempty"`
	Board    string   `json:"board,omitempty"`
	TOCHints []string `json:"toc_hints,omitempty"`

	// Approved range, derived from page rows. Zero when nothing is approved.
	ApprovedStart int `json:"approved_start"`
	ApprovedEnd   int `json:"approved_end"`
	ApprovedCount int `json:"approved_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Curriculum renders grade/subject/board for prompts.
func (b *Book) Curriculum() string {
	var parts []string
	if b.Grade != "" {
		parts = append(parts, "grade "+b.Grade)
	}
	if b.Subject != "" {
		parts = append(parts, b.Subject)
	}
	if b.Board != "" {
		parts = append(parts, b.Board)
	}
	return strings.Join(parts, ", ")
}

// Page is one page of book text.
type Page struct {
	BookID     string     `json:"book_id"`
	PageNum    int        `json:"page_num"`
	Text       string     `json:"text"`
	Approved   bool       `json:"approved"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewBook holds the fields supplied when creating a book.
type NewBook struct {
	Title    string   `json:"title"`
	Grade    string   `json:"grade,omitempty"`
	Subject  string   `json:"subject,omitempty"`
	Board    string   `json:"board,omitempty"`
	TOCHints []string `json:"toc_hints,omitempty"`
}

// Repo reads and writes books and pages.
type Repo struct {
	db *sql.DB
}

// NewRepo creates a repo over an open database.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// Create inserts a new book.
func (r *Repo) Create(ctx context.Context, nb NewBook) (*Book, error) {
	if strings.TrimSpace(nb.Title) == "" {
		return nil, fmt.Errorf("title is required")
	}
	hints, err := json.Marshal(nonNil(nb.TOCHints))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	b := &Book{
		ID:        uuid.New().String(),
		Title:     nb.Title,
		Grade:     nb.Grade,
		Subject:   nb.Subject,
		Board:     nb.Board,
		TOCHints:  nb.TOCHints,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO books (id, title, grade, subject, board, toc_hints, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Title, b.Grade, b.Subject, b.Board, string(hints), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert book: %w", err)
	}
	return b, nil
}

const bookSelect = `SELECT b.id, b.title, b.grade, b.subject, b.board, b.toc_hints, b.created_at, b.updated_at,
	COALESCE(MIN(p.page_num), 0), COALESCE(MAX(p.page_num), 0), COUNT(p.page_num)
	FROM books b LEFT JOIN pages p ON p.book_id = b.id AND p.approved = 1`

type scanner interface {
	Scan(dest ...any) error
}

func scanBook(row scanner) (*Book, error) {
	var (
		b     Book
		hints string
	)
	if err := row.Scan(&b.ID, &b.Title, &b.Grade, &b.Subject, &b.Board, &hints, &b.CreatedAt, &b.UpdatedAt,
		&b.ApprovedStart, &b.ApprovedEnd, &b.ApprovedCount); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(hints), &b.TOCHints); err != nil {
		return nil, fmt.Errorf("decode toc hints: %w", err)
	}
	return &b, nil
}

// Get returns a book by ID.
func (r *Repo) Get(ctx context.Context, id string) (*Book, error) {
	b, err := scanBook(r.db.QueryRowContext(ctx, bookSelect+` WHERE b.id = ? GROUP BY b.id`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query book: %w", err)
	}
	return b, nil
}

// List returns all books, newest first.
func (r *Repo) List(ctx context.Context) ([]*Book, error) {
	rows, err := r.db.QueryContext(ctx, bookSelect+` GROUP BY b.id ORDER BY b.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var out []*Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SetTOCHints replaces a book's table-of-contents hints.
func (r *Repo) SetTOCHints(ctx context.Context, id string, hints []string) error {
	data, err := json.Marshal(nonNil(hints))
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE books SET toc_hints = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update toc hints: %w", err)
	}
	return requireRow(res, "book "+id)
}

// PutPage stores page text. Approved pages cannot be overwritten.
func (r *Repo) PutPage(ctx context.Context, bookID string, pageNum int, text string) error {
	if pageNum < 1 {
		return fmt.Errorf("page number must be >= 1, got %d", pageNum)
	}
	if _, err := r.Get(ctx, bookID); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var approved bool
	err = tx.QueryRowContext(ctx, `SELECT approved FROM pages WHERE book_id = ? AND page_num = ?`,
		bookID, pageNum).Scan(&approved)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("query page: %w", err)
	case approved:
		return fmt.Errorf("page %d: %w", pageNum, ErrPageApproved)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `INSERT INTO pages (book_id, page_num, text, approved, updated_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT (book_id, page_num) DO UPDATE SET text = excluded.text, updated_at = excluded.updated_at`,
		bookID, pageNum, text, now); err != nil {
		return fmt.Errorf("upsert page: %w", err)
	}
	return tx.Commit()
}

// ApprovePage marks a page approved. Approving twice is a no-op.
func (r *Repo) ApprovePage(ctx context.Context, bookID string, pageNum int) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `UPDATE pages SET approved = 1, approved_at = COALESCE(approved_at, ?), updated_at = ?
		WHERE book_id = ? AND page_num = ?`, now, now, bookID, pageNum)
	if err != nil {
		return fmt.Errorf("approve page: %w", err)
	}
	return requireRow(res, fmt.Sprintf("page %d of book %s", pageNum, bookID))
}

// GetPage returns a page regardless of approval.
func (r *Repo) GetPage(ctx context.Context, bookID string, pageNum int) (*Page, error) {
	var (
		p          Page
		approvedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `SELECT book_id, page_num, text, approved, approved_at, updated_at
		FROM pages WHERE book_id = ? AND page_num = ?`, bookID, pageNum).
		Scan(&p.BookID, &p.PageNum, &p.Text, &p.Approved, &approvedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("page %d of book %s: %w", pageNum, bookID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query page: %w", err)
	}
	if approvedAt.Valid {
		p.ApprovedAt = &approvedAt.Time
	}
	return &p, nil
}

// ApprovedPage returns page text for the pipeline. Missing or unapproved
// pages return ErrPageNotApproved.
func (r *Repo) ApprovedPage(ctx context.Context, bookID string, pageNum int) (*Page, error) {
	p, err := r.GetPage(ctx, bookID, pageNum)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("page %d: %w", pageNum, ErrPageNotApproved)
	}
	if err != nil {
		return nil, err
	}
	if !p.Approved {
		return nil, fmt.Errorf("page %d: %w", pageNum, ErrPageNotApproved)
	}
	return p, nil
}

// ApprovedPages returns the approved page numbers of a book in order.
func (r *Repo) ApprovedPages(ctx context.Context, bookID string) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT page_num FROM pages WHERE book_id = ? AND approved = 1 ORDER BY page_num`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list approved pages: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
