package llmcall

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Store provides access to LLM call records in sqlite.
type Store struct {
	db *sql.DB
}

// NewStore creates a new LLMCall store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// QueryFilter specifies filters for listing LLM calls.
type QueryFilter struct {
	BookID    string
	JobID     string
	PromptKey string
	Provider  string
	After     *time.Time
	Before    *time.Time
	Success   *bool
	Limit     int
	Offset    int
}

const callColumns = `id, timestamp, latency_ms, book_id, job_id, page_num, prompt_key,
	provider, model, input_tokens, output_tokens, attempts, response, success, error`

// Insert stores a call record.
func (s *Store) Insert(ctx context.Context, c *Call) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO llm_calls (`+callColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Timestamp, c.LatencyMs, c.BookID, c.JobID, c.PageNum, c.PromptKey,
		c.Provider, c.Model, c.InputTokens, c.OutputTokens, c.Attempts, c.Response, c.Success, c.Error)
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}

// Get retrieves a single LLM call by ID. Returns nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM llm_calls WHERE id = ?`, id)
	c, err := scanCall(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return c, nil
}

// List retrieves LLM calls matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter QueryFilter) ([]Call, error) {
	var conditions []string
	var args []any

	add := func(cond string, v any) {
		conditions = append(conditions, cond)
		args = append(args, v)
	}
	if filter.BookID != "" {
		add("book_id = ?", filter.BookID)
	}
	if filter.JobID != "" {
		add("job_id = ?", filter.JobID)
	}
	if filter.PromptKey != "" {
		add("prompt_key = ?", filter.PromptKey)
	}
	if filter.Provider != "" {
		add("provider = ?", filter.Provider)
	}
	if filter.Success != nil {
		add("success = ?", *filter.Success)
	}
	if filter.After != nil {
		add("timestamp > ?", *filter.After)
	}
	if filter.Before != nil {
		add("timestamp < ?", *filter.Before)
	}

	query := `SELECT ` + callColumns + ` FROM llm_calls`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *c)
	}
	return calls, rows.Err()
}

// CountByPromptKey returns call counts grouped by prompt key.
func (s *Store) CountByPromptKey(ctx context.Context, bookID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT prompt_key, COUNT(*) FROM llm_calls WHERE book_id = ? GROUP BY prompt_key`, bookID)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(row scanner) (*Call, error) {
	var c Call
	err := row.Scan(&c.ID, &c.Timestamp, &c.LatencyMs, &c.BookID, &c.JobID, &c.PageNum, &c.PromptKey,
		&c.Provider, &c.Model, &c.InputTokens, &c.OutputTokens, &c.Attempts, &c.Response, &c.Success, &c.Error)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
