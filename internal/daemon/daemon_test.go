package daemon

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	todosync "github.com/Mschirtzinger/todosync/internal/sync"
)

// fakeRunner counts syncs and records the options it was given
type fakeRunner struct {
	mu    sync.Mutex
	calls int
	opts  todosync.Options
}

func (r *fakeRunner) Sync(_ context.Context, opts todosync.Options) (*todosync.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.opts = opts
	return &todosync.Result{Direction: todosync.Bidirectional}, nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func testDirs(t *testing.T) (string, string) {
	t.Helper()
	tmpDir := t.TempDir()
	return filepath.Join(tmpDir, ".todo"), filepath.Join(tmpDir, ".beads")
}

func quietConfig(debounce time.Duration) *Config {
	return &Config{Debounce: debounce, Logger: log.New(io.Discard, "", 0)}
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFileWatcher_StartStop(t *testing.T) {
	issueRoot, beadsDir := testDirs(t)

	fw, err := NewFileWatcher(issueRoot, beadsDir, "issues.jsonl")
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}

	if err := fw.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !fw.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}
	if _, err := os.Stat(issueRoot); err != nil {
		t.Errorf("Start() did not create the issue root: %v", err)
	}
	if err := fw.Start(); err == nil {
		t.Error("second Start() should fail")
	}

	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}
	if err := fw.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}
}

func TestFileWatcher_ConvertEvent(t *testing.T) {
	issueRoot, beadsDir := testDirs(t)
	fw, err := NewFileWatcher(issueRoot, beadsDir, "issues.jsonl")
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}

	tests := []struct {
		name   string
		path   string
		op     fsnotify.Op
		want   bool
		kind   FileKind
		result EventOp
	}{
		{"issue created", filepath.Join(issueRoot, "bd-1-task.md"), fsnotify.Create, true, KindIssueFile, OpCreate},
		{"nested issue written", filepath.Join(issueRoot, "closed", "bd-2.md"), fsnotify.Write, true, KindIssueFile, OpModify},
		{"upper-case extension", filepath.Join(issueRoot, "bd-3.MD"), fsnotify.Remove, true, KindIssueFile, OpDelete},
		{"renamed away", filepath.Join(issueRoot, "bd-4.md"), fsnotify.Rename, true, KindIssueFile, OpDelete},
		{"beads log", filepath.Join(beadsDir, "issues.jsonl"), fsnotify.Write, true, KindBeadsLog, OpModify},
		{"beads temp file", filepath.Join(beadsDir, "issues.jsonl.tmp"), fsnotify.Create, false, 0, 0},
		{"state db", filepath.Join(issueRoot, ".state.db"), fsnotify.Write, false, 0, 0},
		{"hidden dir", filepath.Join(issueRoot, ".git", "notes.md"), fsnotify.Write, false, 0, 0},
		{"swap file", filepath.Join(issueRoot, ".bd-1.md.swp"), fsnotify.Write, false, 0, 0},
		{"not markdown", filepath.Join(issueRoot, "notes.txt"), fsnotify.Write, false, 0, 0},
		{"outside root", filepath.Join(filepath.Dir(issueRoot), "other.md"), fsnotify.Write, false, 0, 0},
		{"chmod", filepath.Join(issueRoot, "bd-1.md"), fsnotify.Chmod, false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := fw.convertEvent(fsnotify.Event{Name: tt.path, Op: tt.op})
			if ok != tt.want {
				t.Fatalf("convertEvent(%s) ok = %v, want %v", tt.path, ok, tt.want)
			}
			if !ok {
				return
			}
			if ev.Kind != tt.kind || ev.Op != tt.result {
				t.Errorf("convertEvent(%s) = %s %s, want %s %s", tt.path, ev.Kind, ev.Op, tt.kind, tt.result)
			}
		})
	}
}

func TestFileWatcher_EmitsEvents(t *testing.T) {
	issueRoot, beadsDir := testDirs(t)
	fw, err := NewFileWatcher(issueRoot, beadsDir, "issues.jsonl")
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if err := fw.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer fw.Stop()

	path := filepath.Join(issueRoot, "bd-1.md")
	if err := os.WriteFile(path, []byte("---\nid: bd-1\n---\n"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	select {
	case ev := <-fw.Events():
		if ev.Kind != KindIssueFile || filepath.Base(ev.Path) != "bd-1.md" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event received")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, "a", "b", "issues.jsonl", nil); err == nil {
		t.Error("New() without a runner should fail")
	}
	if _, err := New(&fakeRunner{}, "", "b", "issues.jsonl", nil); err == nil {
		t.Error("New() without an issue root should fail")
	}
	if _, err := New(&fakeRunner{}, "a", "", "issues.jsonl", nil); err == nil {
		t.Error("New() without a beads dir should fail")
	}
}

func TestDaemon_SyncsOnStartAndAfterChanges(t *testing.T) {
	issueRoot, beadsDir := testDirs(t)
	runner := &fakeRunner{}
	config := quietConfig(50 * time.Millisecond)
	config.Options = todosync.Options{Direction: todosync.FilesToBeads, HandleDeletions: true}

	d, err := New(runner, issueRoot, beadsDir, "issues.jsonl", config)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	var mu sync.Mutex
	var reports []Report
	d.AddListener(func(r Report) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, r)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, "startup sync", func() bool { return d.Runs() == 1 })
	waitFor(t, "watcher", d.watcher.IsRunning)

	// a burst of writes collapses into one run
	for i := 0; i < 5; i++ {
		path := filepath.Join(issueRoot, "bd-1.md")
		if err := os.WriteFile(path, []byte("---\nid: bd-1\n---\n"), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
	}
	waitFor(t, "debounced sync", func() bool { return d.Runs() == 2 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not stop")
	}

	if runner.opts.Direction != todosync.FilesToBeads || !runner.opts.HandleDeletions {
		t.Errorf("runner got options %+v", runner.opts)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reports) < 2 {
		t.Fatalf("got %d reports, want at least 2", len(reports))
	}
	if len(reports[0].Trigger) != 0 {
		t.Errorf("startup report has trigger %v", reports[0].Trigger)
	}
	if len(reports[1].Trigger) != 1 || filepath.Base(reports[1].Trigger[0]) != "bd-1.md" {
		t.Errorf("second report trigger = %v, want [bd-1.md]", reports[1].Trigger)
	}
}
