package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/guideshelf/internal/testutil"
)

func newRecord(id, bookID string, t Type, at time.Time) *Record {
	return &Record{ID: id, BookID: bookID, Type: t, Status: StatusPending, CreatedAt: at}
}

func TestStoreAdmit(t *testing.T) {
	ctx := context.Background()
	s := NewStore(testutil.NewDB(t))
	now := time.Now().UTC()

	_, err := s.admit(ctx, newRecord("x1", "b1", TypeExtraction, now), "o1", time.Minute, now)
	require.NoError(t, err)

	// same class, same book
	_, err = s.admit(ctx, newRecord("f1", "b1", TypeFinalization, now), "o2", time.Minute, now)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	_, err = s.Get(ctx, "f1")
	assert.ErrorIs(t, err, ErrNotFound, "rejected job must not be stored")

	// other class, other book
	_, err = s.admit(ctx, newRecord("s1", "b1", TypeSync, now), "o3", time.Minute, now)
	require.NoError(t, err)
	_, err = s.admit(ctx, newRecord("x2", "b2", TypeExtraction, now), "o4", time.Minute, now)
	require.NoError(t, err)

	// a lock left behind by a finished job does not block
	x1, err := s.Get(ctx, "x1")
	require.NoError(t, err)
	x1.Status = StatusCompleted
	require.NoError(t, s.finish(ctx, x1, now))
	stale, err := s.admit(ctx, newRecord("x3", "b1", TypeExtraction, now), "o5", time.Minute, now)
	require.NoError(t, err)
	assert.Empty(t, stale)

	l, err := s.Lock(ctx, "b1", ClassWriter)
	require.NoError(t, err)
	assert.Equal(t, "x3", l.JobID)
	assert.Equal(t, "o5", l.Owner)
}

func TestStoreRenewAndRelease(t *testing.T) {
	ctx := context.Background()
	s := NewStore(testutil.NewDB(t))
	now := time.Now().UTC()

	_, err := s.admit(ctx, newRecord("x1", "b1", TypeExtraction, now), "o1", time.Minute, now)
	require.NoError(t, err)

	later := now.Add(30 * time.Second)
	require.NoError(t, s.renew(ctx, "b1", ClassWriter, "o1", time.Minute, later))
	l, err := s.Lock(ctx, "b1", ClassWriter)
	require.NoError(t, err)
	assert.True(t, l.ExpiresAt.Equal(later.Add(time.Minute)))

	assert.ErrorIs(t, s.renew(ctx, "b1", ClassWriter, "someone-else", time.Minute, later), ErrLockLost)

	require.NoError(t, s.release(ctx, "b1", ClassWriter, "someone-else"))
	l, _ = s.Lock(ctx, "b1", ClassWriter)
	assert.NotNil(t, l, "release by a non-owner is ignored")

	require.NoError(t, s.release(ctx, "b1", ClassWriter, "o1"))
	l, _ = s.Lock(ctx, "b1", ClassWriter)
	assert.Nil(t, l)
}

func TestStoreProgressAndFinish(t *testing.T) {
	ctx := context.Background()
	s := NewStore(testutil.NewDB(t))
	now := time.Now().UTC()

	rec := newRecord("x1", "b1", TypeExtraction, now)
	rec.RangeStart, rec.RangeEnd = 1, 4
	_, err := s.admit(ctx, rec, "o1", time.Minute, now)
	require.NoError(t, err)

	assert.ErrorIs(t, s.progress(ctx, rec), ErrLockLost, "pending jobs take no progress")
	require.NoError(t, s.markRunning(ctx, rec.ID, now))

	rec.Checkpoint, rec.Processed, rec.Failed = 2, 1, 1
	rec.PageFailures = []PageFailure{{Page: 2, Stage: "merge", Reason: "timeout"}}
	require.NoError(t, s.progress(ctx, rec))

	rec.Status, rec.Reason, rec.Error = StatusFailed, ReasonCritical, "boom"
	require.NoError(t, s.finish(ctx, rec, now))
	assert.ErrorIs(t, s.finish(ctx, rec, now), ErrLockLost, "terminal jobs are not rewritten")

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 2, got.Checkpoint)
	assert.Equal(t, rec.PageFailures, got.PageFailures)
	assert.Equal(t, "boom", got.Error)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
	assert.Nil(t, got.Result)

	flag, err := s.cancelRequested(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, flag)
}
