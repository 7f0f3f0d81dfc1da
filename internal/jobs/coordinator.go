package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/guideshelf/internal/books"
	"github.com/jackzampolin/guideshelf/internal/consolidation"
	"github.com/jackzampolin/guideshelf/internal/index"
	"github.com/jackzampolin/guideshelf/internal/llm"
	"github.com/jackzampolin/guideshelf/internal/pipeline"
	"github.com/jackzampolin/guideshelf/internal/publish"
)

// PageProcessor runs one page of an extraction.
type PageProcessor interface {
	Process(ctx context.Context, book *books.Book, page int) (pipeline.Outcome, error)
}

// Finalizer consolidates a book's subtopics.
type Finalizer interface {
	Finalize(ctx context.Context, book *books.Book) (consolidation.Report, error)
}

// Publisher replaces a book's published guidelines.
type Publisher interface {
	Sync(ctx context.Context, bookID string) (publish.Report, error)
}

// Config configures a Coordinator.
type Config struct {
	DB        *sql.DB
	Books     *books.Repo
	Index     *index.Manager
	Processor PageProcessor
	Finalizer Finalizer
	Publisher Publisher

	LockTTL           time.Duration // default 2m
	HeartbeatInterval time.Duration // default 30s

	Logger *slog.Logger
}

// Coordinator starts jobs, runs each in its own goroutine and keeps its
// record current. Jobs for different books run concurrently; jobs of the
// same lock class for one book are rejected while one is active.
type Coordinator struct {
	store     *Store
	books     *books.Repo
	index     *index.Manager
	processor PageProcessor
	finalizer Finalizer
	publisher Publisher
	registry  *pipeline.Registry
	lockTTL   time.Duration
	heartbeat time.Duration
	logger    *slog.Logger
	now       func() time.Time

	base     context.Context
	shutdown context.CancelCauseFunc

	mu      sync.Mutex
	closed  bool
	running map[string]*runner
	wg      sync.WaitGroup
}

// runner is the in-process state of one running job. rec is only touched
// by the job's goroutine.
type runner struct {
	rec       *Record
	owner     string
	cancelled atomic.Bool
	cancel    context.CancelCauseFunc
	done      chan struct{}
}

// New creates a coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.DB == nil || cfg.Books == nil || cfg.Index == nil {
		return nil, errors.New("jobs: DB, Books and Index are required")
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.HeartbeatInterval >= cfg.LockTTL {
		return nil, fmt.Errorf("jobs: heartbeat interval %s must be shorter than lock ttl %s",
			cfg.HeartbeatInterval, cfg.LockTTL)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	store := NewStore(cfg.DB)
	registry, err := newRegistry(cfg.Books, cfg.Index, store)
	if err != nil {
		return nil, err
	}

	base, shutdown := context.WithCancelCause(context.Background())
	return &Coordinator{
		store:     store,
		books:     cfg.Books,
		index:     cfg.Index,
		processor: cfg.Processor,
		finalizer: cfg.Finalizer,
		publisher: cfg.Publisher,
		registry:  registry,
		lockTTL:   cfg.LockTTL,
		heartbeat: cfg.HeartbeatInterval,
		logger:    cfg.Logger,
		now:       func() time.Time { return time.Now().UTC() },
		base:      base,
		shutdown:  shutdown,
		running:   make(map[string]*runner),
	}, nil
}

// Store returns the job store.
func (c *Coordinator) Store() *Store { return c.store }

// Registry returns the book phase registry.
func (c *Coordinator) Registry() *pipeline.Registry { return c.registry }

// Stages reports every phase for a book.
func (c *Coordinator) Stages(ctx context.Context, bookID string) ([]pipeline.PhaseReport, error) {
	if _, err := c.books.Get(ctx, bookID); err != nil {
		return nil, err
	}
	return c.registry.Report(ctx, bookID)
}

// StartExtraction starts an extraction over [start, end]. Zero bounds
// default to the book's approved range. When the book's latest extraction
// did not complete and covered start, the new job picks up after that
// job's checkpoint.
func (c *Coordinator) StartExtraction(ctx context.Context, bookID string, start, end int) (*Record, error) {
	if c.processor == nil {
		return nil, errors.New("jobs: no page processor configured")
	}
	book, err := c.books.Get(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if start == 0 && end == 0 {
		start, end = book.ApprovedStart, book.ApprovedEnd
	}
	if book.ApprovedCount == 0 || start < 1 || end < start || start < book.ApprovedStart || end > book.ApprovedEnd {
		return nil, fmt.Errorf("%w: %d-%d, approved %d-%d", ErrInvalidRange, start, end,
			book.ApprovedStart, book.ApprovedEnd)
	}

	rec := c.newRecord(bookID, TypeExtraction)
	rec.RangeStart = start
	rec.RangeEnd = end
	rec.Checkpoint = start - 1

	prior, err := c.store.Latest(ctx, bookID, TypeExtraction)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, err
	case prior.Status != StatusCompleted && start >= prior.RangeStart && start <= prior.Checkpoint:
		rec.Checkpoint = min(prior.Checkpoint, end)
		rec.ResumedFrom = prior.ID
	}

	return c.start(ctx, rec, c.extract)
}

// Finalize starts consolidation. Extraction must be complete.
func (c *Coordinator) Finalize(ctx context.Context, bookID string) (*Record, error) {
	if c.finalizer == nil {
		return nil, errors.New("jobs: no finalizer configured")
	}
	if err := c.ready(ctx, bookID, PhaseFinalization); err != nil {
		return nil, err
	}
	return c.start(ctx, c.newRecord(bookID, TypeFinalization), c.finalize)
}

// Sync starts a snapshot sync. Finalization must be complete.
func (c *Coordinator) Sync(ctx context.Context, bookID string) (*Record, error) {
	if c.publisher == nil {
		return nil, errors.New("jobs: no publisher configured")
	}
	if err := c.ready(ctx, bookID, PhaseSync); err != nil {
		return nil, err
	}
	return c.start(ctx, c.newRecord(bookID, TypeSync), c.sync)
}

func (c *Coordinator) ready(ctx context.Context, bookID, phase string) error {
	if _, err := c.books.Get(ctx, bookID); err != nil {
		return err
	}
	return c.registry.Ready(ctx, bookID, phase)
}

// Get returns a job by ID.
func (c *Coordinator) Get(ctx context.Context, id string) (*Record, error) {
	return c.store.Get(ctx, id)
}

// Latest returns the newest job of a type for a book.
func (c *Coordinator) Latest(ctx context.Context, bookID string, t Type) (*Record, error) {
	return c.store.Latest(ctx, bookID, t)
}

// List returns jobs matching the filter.
func (c *Coordinator) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	return c.store.List(ctx, filter)
}

// Cancel requests a job stop. The job finishes its current page first and
// ends failed with ReasonCancelled. Cancelling a finished job is a no-op.
func (c *Coordinator) Cancel(ctx context.Context, id string) (*Record, error) {
	rec, err := c.store.requestCancel(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if r, ok := c.running[id]; ok {
		r.cancelled.Store(true)
	}
	c.mu.Unlock()
	if !rec.Status.Terminal() {
		c.logger.Info("job cancel requested", "job_id", id, "book_id", rec.BookID, "type", rec.Type)
	}
	return rec, nil
}

// Wait blocks until a job started by this coordinator exits, then returns
// its record.
func (c *Coordinator) Wait(ctx context.Context, id string) (*Record, error) {
	c.mu.Lock()
	r, ok := c.running[id]
	c.mu.Unlock()
	if ok {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.store.Get(ctx, id)
}

// Running returns the IDs of jobs executing in this process.
func (c *Coordinator) Running() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.running))
	for id := range c.running {
		ids = append(ids, id)
	}
	return ids
}

// Close stops accepting jobs, interrupts running ones and waits for them
// to exit. Interrupted jobs end failed with ReasonShutdown and resume from
// their checkpoint.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	n := len(c.running)
	c.mu.Unlock()

	if n > 0 {
		c.logger.Info("stopping running jobs", "count", n)
	}
	c.shutdown(ErrClosed)
	c.wg.Wait()
	return nil
}

func (c *Coordinator) newRecord(bookID string, t Type) *Record {
	return &Record{
		ID:        uuid.New().String(),
		BookID:    bookID,
		Type:      t,
		Status:    StatusPending,
		CreatedAt: c.now(),
	}
}

type runFunc func(ctx context.Context, r *runner) error

// start admits rec under the book lock and launches it.
func (c *Coordinator) start(ctx context.Context, rec *Record, run runFunc) (*Record, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.wg.Add(1)
	c.mu.Unlock()

	r := &runner{rec: rec, owner: uuid.New().String(), done: make(chan struct{})}
	stale, err := c.store.admit(ctx, rec, r.owner, c.lockTTL, c.now())
	if err != nil {
		c.wg.Done()
		if errors.Is(err, ErrAlreadyRunning) {
			c.logger.Info("job rejected", "book_id", rec.BookID, "type", rec.Type, "reason", err)
		}
		return nil, err
	}
	if stale != "" {
		c.logger.Warn("took over expired book lock",
			"book_id", rec.BookID,
			"class", rec.Type.Class(),
			"stale_job_id", stale,
			"job_id", rec.ID)
	}

	snapshot := *rec
	runCtx, cancel := context.WithCancelCause(c.base)
	r.cancel = cancel
	runCtx = llm.WithMeta(runCtx, llm.CallMeta{BookID: rec.BookID, JobID: rec.ID})

	c.mu.Lock()
	c.running[rec.ID] = r
	c.mu.Unlock()

	c.logger.Info("job started",
		"job_id", rec.ID,
		"book_id", rec.BookID,
		"type", rec.Type,
		"range_start", rec.RangeStart,
		"range_end", rec.RangeEnd,
		"resumed_from", rec.ResumedFrom)

	go c.execute(runCtx, r, run)
	return &snapshot, nil
}

func (c *Coordinator) execute(ctx context.Context, r *runner, run runFunc) {
	defer c.wg.Done()
	defer close(r.done)
	defer func() {
		c.mu.Lock()
		delete(c.running, r.rec.ID)
		c.mu.Unlock()
		r.cancel(nil)
	}()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		c.keepAlive(hbCtx, r)
	}()

	var err error
	if err = c.store.markRunning(ctx, r.rec.ID, c.now()); err == nil {
		now := c.now()
		r.rec.Status = StatusRunning
		r.rec.StartedAt = &now
		err = run(ctx, r)
	}

	stopHeartbeat()
	hb.Wait()
	c.complete(ctx, r, err)
}

// keepAlive renews the lock until ctx ends. Losing the lock cancels the job.
func (c *Coordinator) keepAlive(ctx context.Context, r *runner) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.store.renew(ctx, r.rec.BookID, r.rec.Type.Class(), r.owner, c.lockTTL, c.now())
			switch {
			case err == nil:
			case errors.Is(err, ErrLockLost):
				c.logger.Error("book lock lost", "job_id", r.rec.ID, "book_id", r.rec.BookID)
				r.cancel(ErrLockLost)
				return
			case ctx.Err() != nil:
				return
			default:
				c.logger.Warn("lock heartbeat failed", "job_id", r.rec.ID, "error", err)
			}
		}
	}
}

// complete records the terminal state and releases the lock.
func (c *Coordinator) complete(ctx context.Context, r *runner, runErr error) {
	rec := r.rec
	cause := context.Cause(ctx)
	switch {
	case runErr == nil:
		rec.Status = StatusCompleted
	case errors.Is(runErr, ErrCancelled):
		rec.Status, rec.Reason = StatusFailed, ReasonCancelled
	case errors.Is(runErr, ErrLockLost) || errors.Is(cause, ErrLockLost):
		rec.Status, rec.Reason = StatusFailed, ReasonLockLost
	case errors.Is(cause, ErrClosed):
		rec.Status, rec.Reason = StatusFailed, ReasonShutdown
	case pipeline.IsCritical(runErr):
		rec.Status, rec.Reason = StatusFailed, ReasonCritical
	default:
		rec.Status, rec.Reason = StatusFailed, ReasonError
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}

	// Final writes must land even when the job's context was cancelled.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	logger := c.logger.With("job_id", rec.ID, "book_id", rec.BookID, "type", rec.Type)
	now := c.now()
	rec.FinishedAt = &now
	if err := c.store.finish(wctx, rec, now); err != nil {
		if errors.Is(err, ErrLockLost) {
			logger.Warn("job record taken over, leaving it as is")
		} else {
			logger.Error("failed to record job result", "error", err)
		}
	}
	if err := c.store.release(wctx, rec.BookID, rec.Type.Class(), r.owner); err != nil {
		logger.Error("failed to release book lock", "error", err)
	}

	if rec.Status == StatusCompleted {
		logger.Info("job completed",
			"processed", rec.Processed,
			"failed", rec.Failed,
			"skipped", rec.Skipped,
			"checkpoint", rec.Checkpoint)
		return
	}
	logger.Warn("job failed",
		"reason", rec.Reason,
		"error", rec.Error,
		"checkpoint", rec.Checkpoint)
}

// checkCancel is called between units of work.
func (c *Coordinator) checkCancel(ctx context.Context, r *runner) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if r.cancelled.Load() {
		return ErrCancelled
	}
	flag, err := c.store.cancelRequested(ctx, r.rec.ID)
	if err != nil {
		return err
	}
	if flag {
		return ErrCancelled
	}
	return nil
}
