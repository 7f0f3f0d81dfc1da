package books

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/guideshelf/internal/testutil"
)

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(testutil.NewDB(t))

	b, err := repo.Create(ctx, NewBook{Title: "Science 7", Grade: "7", Subject: "science", Board: "CBSE",
		TOCHints: []string{"1. Nutrition in Plants"}})
	require.NoError(t, err)
	require.NotEmpty(t, b.ID)

	got, err := repo.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, "Science 7", got.Title)
	require.Equal(t, []string{"1. Nutrition in Plants"}, got.TOCHints)
	require.Equal(t, "grade 7, science, CBSE", got.Curriculum())
	require.Zero(t, got.ApprovedEnd)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = repo.Create(ctx, NewBook{Title: "  "})
	require.Error(t, err)
}

func TestPagesAndApproval(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(testutil.NewDB(t))
	b, err := repo.Create(ctx, NewBook{Title: "Maths"})
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, repo.PutPage(ctx, b.ID, i, "draft"))
	}
	require.NoError(t, repo.PutPage(ctx, b.ID, 2, "page two"))

	_, err = repo.ApprovedPage(ctx, b.ID, 2)
	require.ErrorIs(t, err, ErrPageNotApproved)

	require.NoError(t, repo.ApprovePage(ctx, b.ID, 2))
	require.NoError(t, repo.ApprovePage(ctx, b.ID, 3))
	require.NoError(t, repo.ApprovePage(ctx, b.ID, 2))

	p, err := repo.ApprovedPage(ctx, b.ID, 2)
	require.NoError(t, err)
	require.Equal(t, "page two", p.Text)
	require.NotNil(t, p.ApprovedAt)

	err = repo.PutPage(ctx, b.ID, 2, "changed")
	require.ErrorIs(t, err, ErrPageApproved)

	got, err := repo.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.ApprovedStart)
	require.Equal(t, 3, got.ApprovedEnd)
	require.Equal(t, 2, got.ApprovedCount)

	approved, err := repo.ApprovedPages(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, approved)

	_, err = repo.ApprovedPage(ctx, b.ID, 99)
	require.ErrorIs(t, err, ErrPageNotApproved)
	require.ErrorIs(t, repo.ApprovePage(ctx, b.ID, 99), ErrNotFound)
	require.ErrorIs(t, repo.PutPage(ctx, "missing", 1, "x"), ErrNotFound)
}

func TestListAndTOCHints(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(testutil.NewDB(t))
	a, err := repo.Create(ctx, NewBook{Title: "A"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, NewBook{Title: "B"})
	require.NoError(t, err)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, repo.SetTOCHints(ctx, a.ID, []string{"Ch 1", "Ch 2"}))
	got, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"Ch 1", "Ch 2"}, got.TOCHints)
	require.ErrorIs(t, repo.SetTOCHints(ctx, "missing", nil), ErrNotFound)
}
