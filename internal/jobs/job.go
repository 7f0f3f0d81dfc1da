// Package jobs runs extraction, finalization and sync jobs for a book.
//
// Every job is a row in the jobs table. Jobs that mutate a book take that
// book's lock record for their class; the lock carries an owner and a
// heartbeat so a crashed process cannot hold a book forever.
package jobs

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrAlreadyRunning is returned when a job of the same class is active
	// for the book.
	ErrAlreadyRunning = errors.New("job already running for book")

	// ErrNotFound is returned for unknown job IDs.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidRange is returned for an extraction range outside the
	// book's approved pages.
	ErrInvalidRange = errors.New("invalid page range")

	// ErrLockLost means the job's lock was taken over after its heartbeat
	// lapsed. The job stops without further writes.
	ErrLockLost = errors.New("book lock lost")

	// ErrCancelled ends a job whose cancellation was requested.
	ErrCancelled = errors.New("job cancelled")

	// ErrClosed is returned by Start calls after Close.
	ErrClosed = errors.New("coordinator closed")
)

// Type identifies what a job does.
type Type string

const (
	TypeExtraction   Type = "extraction"
	TypeFinalization Type = "finalization"
	TypeSync         Type = "sync"
)

// ParseType validates a job type string.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeExtraction, TypeFinalization, TypeSync:
		return t, nil
	}
	return "", errors.New("unknown job type: " + s)
}

// Class is the lock class a job type runs under.
type Class string

const (
	// ClassWriter covers every job that mutates shards or the index.
	ClassWriter Class = "writer"
	ClassSync   Class = "sync"
)

// Class returns the lock class of t.
func (t Type) Class() Class {
	if t == TypeSync {
		return ClassSync
	}
	return ClassWriter
}

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Failure reasons recorded on failed jobs.
const (
	ReasonCritical    = "critical"
	ReasonCancelled   = "cancelled"
	ReasonLockExpired = "lock_expired"
	ReasonLockLost    = "lock_lost"
	ReasonShutdown    = "shutdown"
	ReasonError       = "error"
)

// PageFailure is one page that failed without aborting the job.
type PageFailure struct {
	Page   int    `json:"page"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// Record is a job row.
type Record struct {
	ID     string `json:"id"`
	BookID string `json:"book_id"`
	Type   Type   `json:"job_type"`
	Status Status `json:"status"`

	// Extraction only. Checkpoint is the last page committed, or
	// RangeStart-1 before the first one.
	RangeStart   int           `json:"range_start,omitempty"`
	RangeEnd     int           `json:"range_end,omitempty"`
	Checkpoint   int           `json:"last_completed_checkpoint"`
	Processed    int           `json:"processed"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	PageFailures []PageFailure `json:"page_failures,omitempty"`
	ResumedFrom  string        `json:"resumed_from,omitempty"`

	Error           string          `json:"error,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ListFilter specifies criteria for listing jobs.
type ListFilter struct {
	BookID string // empty = all books
	Type   Type   // empty = all types
	Status Status // empty = all
	Limit  int    // 0 = default 100
}
