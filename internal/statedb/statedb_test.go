package statedb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testDB opens a database in a temporary directory
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_CreatesSchema(t *testing.T) {
	db := testDB(t)

	for _, table := range []string{"sync_state", "sync_runs"} {
		var count int
		err := db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}

	if err := db.InitSchemaContext(context.Background()); err != nil {
		t.Errorf("second InitSchemaContext() failed: %v", err)
	}
}

func TestSyncPoints(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	if _, ok, err := db.LastSynced(ctx, "t-1"); err != nil || ok {
		t.Fatalf("LastSynced() on empty db = %v, %v; want false, nil", ok, err)
	}

	first := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	if err := db.MarkSynced(ctx, []string{"t-1", "t-2"}, first); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}
	second := first.Add(time.Hour)
	if err := db.MarkSynced(ctx, []string{"t-2"}, second); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	points, err := db.SyncPoints(ctx)
	if err != nil {
		t.Fatalf("SyncPoints() failed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("len(points) = %d, want 2", len(points))
	}
	if !points["t-1"].Equal(first) {
		t.Errorf("t-1 synced at %v, want %v", points["t-1"], first)
	}
	if !points["t-2"].Equal(second) {
		t.Errorf("t-2 synced at %v, want %v", points["t-2"], second)
	}

	if err := db.Forget(ctx, []string{"t-1", "t-unknown"}); err != nil {
		t.Fatalf("Forget() failed: %v", err)
	}
	if _, ok, _ := db.LastSynced(ctx, "t-1"); ok {
		t.Error("t-1 still has a sync point after Forget()")
	}
	if at, ok, _ := db.LastSynced(ctx, "t-2"); !ok || !at.Equal(second) {
		t.Errorf("LastSynced(t-2) = %v, %v; want %v, true", at, ok, second)
	}
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		run := Run{
			StartedAt:  start.Add(time.Duration(i) * time.Minute),
			FinishedAt: start.Add(time.Duration(i)*time.Minute + time.Second),
			Direction:  "bidirectional",
			DryRun:     i == 2,
			Created:    i,
			Errors:     1,
		}
		if err := db.RecordRun(ctx, run); err != nil {
			t.Fatalf("RecordRun() failed: %v", err)
		}
	}

	runs, err := db.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRuns() failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].Created != 2 || !runs[0].DryRun {
		t.Errorf("newest run = %+v, want Created=2 DryRun=true", runs[0])
	}
	if !runs[1].StartedAt.Equal(start.Add(time.Minute)) {
		t.Errorf("runs[1].StartedAt = %v", runs[1].StartedAt)
	}
}

func TestClose_Idempotent(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "nested", "state.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestOpenReadOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	if _, err := OpenReadOnly(ctx, path); !errors.Is(err, ErrNotExist) {
		t.Fatalf("OpenReadOnly() on a missing file = %v, want ErrNotExist", err)
	}
	if _, err := os.Stat(filepath.Dir(path)); !os.IsNotExist(err) {
		t.Fatalf("OpenReadOnly() created %s", filepath.Dir(path))
	}

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	synced := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := db.MarkSynced(ctx, []string{"bd-1"}, synced); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	ro, err := OpenReadOnly(ctx, path)
	if err != nil {
		t.Fatalf("OpenReadOnly() failed: %v", err)
	}
	defer ro.Close()

	points, err := ro.SyncPoints(ctx)
	if err != nil {
		t.Fatalf("SyncPoints() failed: %v", err)
	}
	if !points["bd-1"].Equal(synced) {
		t.Errorf("points[bd-1] = %v, want %v", points["bd-1"], synced)
	}
	if err := ro.MarkSynced(ctx, []string{"bd-2"}, synced); err == nil {
		t.Error("MarkSynced() on a read-only database succeeded")
	}
}
