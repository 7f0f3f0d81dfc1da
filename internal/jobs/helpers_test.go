package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jackzampolin/guideshelf/internal/blob"
	"github.com/jackzampolin/guideshelf/internal/books"
	"github.com/jackzampolin/guideshelf/internal/consolidation"
	"github.com/jackzampolin/guideshelf/internal/index"
	"github.com/jackzampolin/guideshelf/internal/pipeline"
	"github.com/jackzampolin/guideshelf/internal/publish"
	"github.com/jackzampolin/guideshelf/internal/shards"
	"github.com/jackzampolin/guideshelf/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

var speedKey = shards.Key{TopicKey: "motion", SubtopicKey: "speed"}

// fakeProcessor appends every page to one subtopic. Pages can be scripted
// to fail or to fail critically, and started/release let a test hold a
// page in flight.
type fakeProcessor struct {
	shards *shards.Store
	index  *index.Manager

	started chan int
	release chan struct{}

	mu       sync.Mutex
	seen     []int
	failures map[int]pipeline.Stage
	critical map[int]int
}

func (f *fakeProcessor) Process(ctx context.Context, book *books.Book, page int) (pipeline.Outcome, error) {
	out := pipeline.Outcome{PageNum: page}

	f.mu.Lock()
	f.seen = append(f.seen, page)
	stage, fails := f.failures[page]
	crit := f.critical[page] > 0
	if crit {
		f.critical[page]--
	}
	f.mu.Unlock()

	interrupted := func() (pipeline.Outcome, error) {
		return out, &pipeline.CriticalError{Stage: pipeline.StageClassify, Page: page, Err: ctx.Err()}
	}
	if f.started != nil {
		select {
		case f.started <- page:
		case <-ctx.Done():
			return interrupted()
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return interrupted()
		}
	}

	if crit {
		return out, &pipeline.CriticalError{Stage: pipeline.StageIndexWrite, Page: page, Err: errors.New("blob store unreachable")}
	}
	if fails {
		out.Status, out.Stage, out.Reason = pipeline.StatusFailed, stage, "invalid boundary decision"
		return out, nil
	}

	sh, err := f.shards.Merge(ctx, book.ID, speedKey, shards.MergeUpdate{
		Content: fmt.Sprintf("speed through page %d", page),
		PageEnd: page,
	})
	if errors.Is(err, shards.ErrNotFound) {
		sh, err = f.shards.Create(ctx, book.ID, shards.NewShard{Key: speedKey, TopicTitle: "Motion",
			SubtopicTitle: "Speed", Content: "speed", Page: page})
	}
	if err != nil {
		return out, err
	}
	if err := f.index.SyncSubtopic(ctx, sh, page); err != nil {
		return out, err
	}
	if err := f.index.RecordAssignment(ctx, book.ID, index.Assignment{Page: page, TopicKey: speedKey.TopicKey,
		SubtopicKey: speedKey.SubtopicKey, Confidence: 1}); err != nil {
		return out, err
	}
	out.Status, out.TopicKey, out.SubtopicKey, out.Version = pipeline.StatusSuccess, speedKey.TopicKey, speedKey.SubtopicKey, sh.Version
	return out, nil
}

func (f *fakeProcessor) pages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.seen...)
}

func (f *fakeProcessor) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = nil
}

// fakeFinalizer promotes every open or stable subtopic to final.
type fakeFinalizer struct {
	index *index.Manager
	calls atomic.Int32
}

func (f *fakeFinalizer) Finalize(ctx context.Context, book *books.Book) (consolidation.Report, error) {
	f.calls.Add(1)
	report := consolidation.Report{BookID: book.ID}
	idx, err := f.index.Load(ctx, book.ID)
	if err != nil {
		return report, err
	}
	for _, ref := range idx.WithStatus(index.StatusOpen, index.StatusStable) {
		if err := f.index.SetStatus(ctx, book.ID, ref.Key(), index.StatusFinal); err != nil {
			return report, err
		}
		report.Promoted = append(report.Promoted, ref.Key().String())
	}
	return report, nil
}

type fakePublisher struct {
	calls atomic.Int32
}

func (f *fakePublisher) Sync(ctx context.Context, bookID string) (publish.Report, error) {
	f.calls.Add(1)
	return publish.Report{BookID: bookID, Inserted: 1, SyncedAt: time.Now().UTC()}, nil
}

type env struct {
	t     *testing.T
	ctx   context.Context
	db    *sql.DB
	books *books.Repo
	book  *books.Book
	index *index.Manager
	proc  *fakeProcessor
	fin   *fakeFinalizer
	pub   *fakePublisher
	coord *Coordinator
}

func newEnv(t *testing.T, pages int, tune ...func(*Config)) *env {
	t.Helper()
	ctx := context.Background()
	logger := testutil.Logger()

	conn := testutil.NewDB(t)
	repo := books.NewRepo(conn)
	book, err := repo.Create(ctx, books.NewBook{Title: "Science 7", Grade: "7", Subject: "science"})
	require.NoError(t, err)
	for p := 1; p <= pages; p++ {
		require.NoError(t, repo.PutPage(ctx, book.ID, p, fmt.Sprintf("page %d", p)))
		require.NoError(t, repo.ApprovePage(ctx, book.ID, p))
	}
	book, err = repo.Get(ctx, book.ID)
	require.NoError(t, err)

	blobs := blob.NewMemStore()
	shardStore := shards.NewStore(blobs, logger)
	mgr := index.NewManager(blobs, shardStore, logger)

	proc := &fakeProcessor{shards: shardStore, index: mgr, failures: map[int]pipeline.Stage{}, critical: map[int]int{}}
	fin := &fakeFinalizer{index: mgr}
	pub := &fakePublisher{}

	cfg := Config{
		DB:        conn,
		Books:     repo,
		Index:     mgr,
		Processor: proc,
		Finalizer: fin,
		Publisher: pub,
		Logger:    logger,
	}
	for _, fn := range tune {
		fn(&cfg)
	}
	coord, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { coord.Close() })

	return &env{
		t:     t,
		ctx:   ctx,
		db:    conn,
		books: repo,
		book:  book,
		index: mgr,
		proc:  proc,
		fin:   fin,
		pub:   pub,
		coord: coord,
	}
}

// wait blocks until the job exits and returns its final record.
func (e *env) wait(rec *Record) *Record {
	e.t.Helper()
	ctx, cancel := context.WithTimeout(e.ctx, 10*time.Second)
	defer cancel()
	got, err := e.coord.Wait(ctx, rec.ID)
	require.NoError(e.t, err)
	require.True(e.t, got.Status.Terminal(), "job %s still %s", got.ID, got.Status)
	return got
}

// extractAll runs a full extraction to completion.
func (e *env) extractAll() *Record {
	e.t.Helper()
	rec, err := e.coord.StartExtraction(e.ctx, e.book.ID, 0, 0)
	require.NoError(e.t, err)
	got := e.wait(rec)
	require.Equal(e.t, StatusCompleted, got.Status, got.Error)
	return got
}

// hold makes every following page block until released.
func (e *env) hold() (started chan int, release chan struct{}) {
	started, release = make(chan int), make(chan struct{})
	e.proc.started, e.proc.release = started, release
	return started, release
}

func (e *env) lock(class Class) *Lock {
	e.t.Helper()
	l, err := e.coord.Store().Lock(e.ctx, e.book.ID, class)
	require.NoError(e.t, err)
	return l
}
