package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Schema versions:
// v1: books, pages, jobs, book_locks, llm_calls, guidelines
// v2: jobs.cancel_requested, jobs.page_failures
// v3: jobs.resumed_from
const CurrentSchemaVersion = 3

// migrations[i] upgrades the schema from version i to i+1.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		grade TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		board TEXT NOT NULL DEFAULT '',
		toc_hints TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pages (
		book_id TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		page_num INTEGER NOT NULL,
		text TEXT NOT NULL,
		approved INTEGER NOT NULL DEFAULT 0,
		approved_at DATETIME,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (book_id, page_num)
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL,
		job_type TEXT NOT NULL,
		status TEXT NOT NULL,
		range_start INTEGER NOT NULL DEFAULT 0,
		range_end INTEGER NOT NULL DEFAULT 0,
		checkpoint INTEGER NOT NULL DEFAULT 0,
		processed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		finished_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_book_type ON jobs(book_id, job_type, created_at);

	CREATE TABLE IF NOT EXISTS book_locks (
		book_id TEXT NOT NULL,
		job_class TEXT NOT NULL,
		job_id TEXT NOT NULL,
		owner TEXT NOT NULL,
		heartbeat_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		PRIMARY KEY (book_id, job_class)
	);

	CREATE TABLE IF NOT EXISTS llm_calls (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		book_id TEXT NOT NULL DEFAULT '',
		job_id TEXT NOT NULL DEFAULT '',
		page_num INTEGER NOT NULL DEFAULT 0,
		prompt_key TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 1,
		response TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_llm_calls_book ON llm_calls(book_id, timestamp);

	CREATE TABLE IF NOT EXISTS guidelines (
		book_id TEXT NOT NULL,
		topic_key TEXT NOT NULL,
		subtopic_key TEXT NOT NULL,
		topic_title TEXT NOT NULL,
		subtopic_title TEXT NOT NULL,
		topic_summary TEXT NOT NULL DEFAULT '',
		subtopic_summary TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		source_page_start INTEGER NOT NULL,
		source_page_end INTEGER NOT NULL,
		version INTEGER NOT NULL,
		review_status TEXT NOT NULL,
		synced_at DATETIME NOT NULL,
		PRIMARY KEY (book_id, topic_key, subtopic_key)
	);
	`,
	`
	ALTER TABLE jobs ADD COLUMN cancel_requested INTEGER NOT NULL DEFAULT 0;
	ALTER TABLE jobs ADD COLUMN page_failures TEXT NOT NULL DEFAULT '[]';
	`,
	`
	ALTER TABLE jobs ADD COLUMN resumed_from TEXT NOT NULL DEFAULT '';
	`,
}

// Migrate brings the schema up to CurrentSchemaVersion. Each step runs in its
// own transaction together with the version bump.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	version, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for v := version; v < len(migrations); v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %d: begin: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, v+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", v+1, err)
		}
		logger.Info("schema migration applied", "version", v+1)
	}

	return nil
}

// SchemaVersion returns the applied schema version, 0 for a fresh database.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
