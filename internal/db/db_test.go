package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpen_Migrates(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "guideshelf.db")

	db, err := Open(ctx, path, nil)
	require.NoError(t, err)
	defer db.Close()

	version, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	require.Equal(t, CurrentSchemaVersion, version)

	for _, table := range []string{"books", "pages", "jobs", "book_locks", "llm_calls", "guidelines"} {
		var name string
		err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, "table %s", table)
	}

	var cancel int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pragma_table_info('jobs') WHERE name='cancel_requested'`).Scan(&cancel))
	require.Equal(t, 1, cancel)
}

func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "guideshelf.db")

	db, err := Open(ctx, path, nil)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO books (id, title, created_at, updated_at) VALUES ('b1', 'Physics', datetime('now'), datetime('now'))`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(ctx, path, nil)
	require.NoError(t, err)
	defer db.Close()

	var title string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT title FROM books WHERE id='b1'`).Scan(&title))
	require.Equal(t, "Physics", title)
}
