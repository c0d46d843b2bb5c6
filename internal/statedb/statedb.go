// Package statedb records when each issue was last synchronized and keeps a
// history of sync runs.
//
// The sync points let change detection tell a one-sided edit from an edit on
// both sides, and tell an issue that was deleted on one side from one that
// is brand new.
//
// Architecture:
//   - Database file: .todo/.state.db (hidden, so the issue walker skips it)
//   - WAL mode: the watch daemon and one-off commands can read concurrently
//   - Schema: sync_state, sync_runs tables
package statedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection.
type DB struct {
	conn     *sql.DB
	path     string
	readOnly bool
}

// Open opens (creating if needed) the database at path and initializes the
// schema.
//
// The caller MUST call Close() when done to ensure proper cleanup.
func Open(path string) (*DB, error) {
	return OpenContext(context.Background(), path)
}

// OpenContext is Open with context support.
func OpenContext(ctx context.Context, path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
	}
	for _, p := range pragmas {
		if _, err := db.conn.ExecContext(ctx, p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	if err := db.InitSchemaContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ErrNotExist is returned by OpenReadOnly when there is no database yet.
var ErrNotExist = errors.New("state database does not exist")

// OpenReadOnly opens an existing database without creating, migrating or
// checkpointing it. Writes through the returned DB fail.
func OpenReadOnly(ctx context.Context, path string) (*DB, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotExist)
	}

	conn, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, path: path, readOnly: true}
	if _, err := db.conn.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// Path returns the database file.
func (db *DB) Path() string { return db.path }

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if !db.readOnly {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchemaContext creates the tables if they do not exist. It is
// idempotent.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_state (
		issue_id TEXT PRIMARY KEY,
		synced_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		direction TEXT NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0,
		created INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		files_written INTEGER NOT NULL DEFAULT 0,
		conflicts INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// SyncPoints returns the last sync time of every known issue.
func (db *DB) SyncPoints(ctx context.Context) (map[string]time.Time, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT issue_id, synced_at FROM sync_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync state: %w", err)
	}
	defer rows.Close()

	points := make(map[string]time.Time)
	for rows.Next() {
		var id, at string
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("failed to scan sync state: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("bad sync time for %s: %w", id, err)
		}
		points[id] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync state: %w", err)
	}
	return points, nil
}

// LastSynced returns the sync point of one issue.
func (db *DB) LastSynced(ctx context.Context, id string) (time.Time, bool, error) {
	var at string
	err := db.conn.QueryRowContext(ctx, `SELECT synced_at FROM sync_state WHERE issue_id = ?`, id).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query sync state for %s: %w", id, err)
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("bad sync time for %s: %w", id, err)
	}
	return t, true, nil
}

// MarkSynced records at as the sync point of ids.
func (db *DB) MarkSynced(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO sync_state (issue_id, synced_at) VALUES (?, ?)
	ON CONFLICT(issue_id) DO UPDATE SET synced_at = excluded.synced_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	stamp := at.UTC().Format(time.RFC3339Nano)
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, stamp); err != nil {
			return fmt.Errorf("failed to mark %s synced: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Forget drops the sync points of ids, typically after they were deleted on
// both sides. Unknown ids are ignored.
func (db *DB) Forget(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := db.conn.ExecContext(ctx, `DELETE FROM sync_state WHERE issue_id = ?`, id); err != nil {
			return fmt.Errorf("failed to forget %s: %w", id, err)
		}
	}
	return nil
}

// Run summarizes one sync run.
type Run struct {
	ID           int64
	StartedAt    time.Time
	FinishedAt   time.Time
	Direction    string
	DryRun       bool
	Created      int
	Updated      int
	Deleted      int
	FilesWritten int
	Conflicts    int
	Errors       int
}

// RecordRun appends run to the history.
func (db *DB) RecordRun(ctx context.Context, run Run) error {
	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO sync_runs (
		started_at, finished_at, direction, dry_run,
		created, updated, deleted, files_written, conflicts, errors
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.Direction,
		run.DryRun,
		run.Created,
		run.Updated,
		run.Deleted,
		run.FilesWritten,
		run.Conflicts,
		run.Errors,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.conn.QueryContext(ctx, `
	SELECT id, started_at, finished_at, direction, dry_run,
	       created, updated, deleted, files_written, conflicts, errors
	FROM sync_runs
	ORDER BY id DESC
	LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var started, finished string
		err := rows.Scan(&run.ID, &started, &finished, &run.Direction, &run.DryRun,
			&run.Created, &run.Updated, &run.Deleted, &run.FilesWritten, &run.Conflicts, &run.Errors)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			run.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, finished); err == nil {
			run.FinishedAt = t
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}
	return runs, nil
}
