package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store persists job records and book locks.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Lock is a book lock record.
type Lock struct {
	BookID      string    `json:"book_id"`
	Class       Class     `json:"job_class"`
	JobID       string    `json:"job_id"`
	Owner       string    `json:"owner"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// admit inserts rec as a pending job and takes the book lock for its class
// in one transaction. A lock whose holder is still active and unexpired
// rejects the job. An expired holder is marked failed with ReasonLockExpired
// and its ID returned.
func (s *Store) admit(ctx context.Context, rec *Record, owner string, ttl time.Duration, now time.Time) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	class := rec.Type.Class()
	var stale string

	var held Lock
	err = tx.QueryRowContext(ctx, `SELECT job_id, owner, heartbeat_at, expires_at FROM book_locks
		WHERE book_id = ? AND job_class = ?`, rec.BookID, string(class)).
		Scan(&held.JobID, &held.Owner, &held.HeartbeatAt, &held.ExpiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return "", fmt.Errorf("query lock: %w", err)
	default:
		var holder string
		err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, held.JobID).Scan(&holder)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("query lock holder: %w", err)
		}
		active := err == nil && !Status(holder).Terminal()
		if active && now.Before(held.ExpiresAt) {
			return "", fmt.Errorf("%w: job %s holds the %s lock", ErrAlreadyRunning, held.JobID, class)
		}
		if active {
			if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ?, reason = ?, error = ?, finished_at = ?
				WHERE id = ?`, string(StatusFailed), ReasonLockExpired,
				fmt.Sprintf("lock heartbeat expired at %s", held.ExpiresAt.Format(time.RFC3339)), now, held.JobID); err != nil {
				return "", fmt.Errorf("expire job %s: %w", held.JobID, err)
			}
			stale = held.JobID
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM book_locks WHERE book_id = ? AND job_class = ?`,
			rec.BookID, string(class)); err != nil {
			return "", fmt.Errorf("clear lock: %w", err)
		}
	}

	failures, err := json.Marshal(nonNilFailures(rec.PageFailures))
	if err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO jobs (id, book_id, job_type, status, range_start, range_end,
		checkpoint, page_failures, resumed_from, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.BookID, string(rec.Type), string(rec.Status), rec.RangeStart, rec.RangeEnd,
		rec.Checkpoint, string(failures), rec.ResumedFrom, rec.CreatedAt); err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO book_locks (book_id, job_class, job_id, owner, heartbeat_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`, rec.BookID, string(class), rec.ID, owner, now, now.Add(ttl)); err != nil {
		return "", fmt.Errorf("insert lock: %w", err)
	}
	return stale, tx.Commit()
}

// renew extends a lock held by owner. ErrLockLost means another owner has
// it now.
func (s *Store) renew(ctx context.Context, bookID string, class Class, owner string, ttl time.Duration, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE book_locks SET heartbeat_at = ?, expires_at = ?
		WHERE book_id = ? AND job_class = ? AND owner = ?`, now, now.Add(ttl), bookID, string(class), owner)
	if err != nil {
		return fmt.Errorf("renew lock: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrLockLost
	}
	return nil
}

// release drops a lock if owner still holds it.
func (s *Store) release(ctx context.Context, bookID string, class Class, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM book_locks WHERE book_id = ? AND job_class = ? AND owner = ?`,
		bookID, string(class), owner)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Lock returns the current lock for a book and class, nil when free.
func (s *Store) Lock(ctx context.Context, bookID string, class Class) (*Lock, error) {
	l := Lock{BookID: bookID, Class: class}
	err := s.db.QueryRowContext(ctx, `SELECT job_id, owner, heartbeat_at, expires_at FROM book_locks
		WHERE book_id = ? AND job_class = ?`, bookID, string(class)).
		Scan(&l.JobID, &l.Owner, &l.HeartbeatAt, &l.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query lock: %w", err)
	}
	return &l, nil
}

// markRunning moves a pending job to running.
func (s *Store) markRunning(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(StatusRunning), now, id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	return requireActive(res)
}

// progress stores the page counters and checkpoint of a running job.
func (s *Store) progress(ctx context.Context, rec *Record) error {
	failures, err := json.Marshal(nonNilFailures(rec.PageFailures))
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET checkpoint = ?, processed = ?, failed = ?, skipped = ?,
		page_failures = ? WHERE id = ? AND status = ?`,
		rec.Checkpoint, rec.Processed, rec.Failed, rec.Skipped, string(failures), rec.ID, string(StatusRunning))
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return requireActive(res)
}

// finish moves a job to a terminal status. A job already terminal (taken
// over by another process) is left alone and ErrLockLost returned.
func (s *Store) finish(ctx context.Context, rec *Record, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, reason = ?, error = ?, result = ?, finished_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(rec.Status), rec.Reason, rec.Error, string(rec.Result), now, rec.ID, string(StatusPending), string(StatusRunning))
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return requireActive(res)
}

// requestCancel flags a non-terminal job for cancellation.
func (s *Store) requestCancel(ctx context.Context, id string) (*Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return rec, nil
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE jobs SET cancel_requested = 1 WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	rec.CancelRequested = true
	return rec, nil
}

func (s *Store) cancelRequested(ctx context.Context, id string) (bool, error) {
	var flag bool
	err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE id = ?`, id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return flag, err
}

const recordSelect = `SELECT id, book_id, job_type, status, range_start, range_end, checkpoint,
	processed, failed, skipped, page_failures, resumed_from, error, reason, result, cancel_requested,
	created_at, started_at, finished_at FROM jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		r                 Record
		jobType, status   string
		failures, result  string
		started, finished sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.BookID, &jobType, &status, &r.RangeStart, &r.RangeEnd, &r.Checkpoint,
		&r.Processed, &r.Failed, &r.Skipped, &failures, &r.ResumedFrom, &r.Error, &r.Reason, &result,
		&r.CancelRequested, &r.CreatedAt, &started, &finished); err != nil {
		return nil, err
	}
	r.Type = Type(jobType)
	r.Status = Status(status)
	if failures != "" {
		if err := json.Unmarshal([]byte(failures), &r.PageFailures); err != nil {
			return nil, fmt.Errorf("decode page failures: %w", err)
		}
	}
	if result != "" {
		r.Result = json.RawMessage(result)
	}
	if started.Valid {
		r.StartedAt = &started.Time
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}

// Get returns a job by ID.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, recordSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	return r, nil
}

// Latest returns the newest job of a type for a book.
func (s *Store) Latest(ctx context.Context, bookID string, t Type) (*Record, error) {
	list, err := s.List(ctx, ListFilter{BookID: bookID, Type: t, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("no %s job for book %s: %w", t, bookID, ErrNotFound)
	}
	return list[0], nil
}

// List returns jobs matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	var (
		where []string
		args  []any
	)
	if filter.BookID != "" {
		where = append(where, "book_id = ?")
		args = append(args, filter.BookID)
	}
	if filter.Type != "" {
		where = append(where, "job_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := recordSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := []*Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func requireActive(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func nonNilFailures(f []PageFailure) []PageFailure {
	if f == nil {
		return []PageFailure{}
	}
	return f
}
