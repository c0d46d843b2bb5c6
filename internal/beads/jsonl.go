package beads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/Mschirtzinger/todosync/internal/types"
)

// JSONLConfig configures a JSONLBackend.
type JSONLConfig struct {
	// Backup copies the log aside before the first change.
	Backup bool
	Logger *log.Logger
}

// JSONLBackend edits the issue log in place. Every call reads the log,
// applies one change and rewrites it atomically.
type JSONLBackend struct {
	path   string
	config JSONLConfig
	now    func() time.Time

	mu       sync.Mutex
	backedUp bool
}

// NewJSONLBackend returns a backend for the log at path.
func NewJSONLBackend(path string, config JSONLConfig) *JSONLBackend {
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[beads] ", log.LstdFlags)
	}
	return &JSONLBackend{path: path, config: config, now: time.Now}
}

// Path returns the log the backend writes.
func (b *JSONLBackend) Path() string { return b.path }

// Create appends issue. A tombstone with the same id is replaced.
func (b *JSONLBackend) Create(ctx context.Context, issue *types.Issue) error {
	if err := issue.Validate(); err != nil {
		return err
	}
	return b.mutate(ctx, func(recs []*record, now string) ([]*record, error) {
		fresh := fromIssue(issue, now)
		if i := find(recs, issue.ID); i >= 0 {
			if !recs[i].isTombstone() {
				return nil, fmt.Errorf("%s: %w", issue.ID, ErrExists)
			}
			recs[i] = fresh
		} else {
			recs = append(recs, fresh)
		}
		linkInverse(recs, issue.ID, DepBlocks, issue.Blocks, true, now)
		linkInverse(recs, issue.ID, DepParentChild, issue.Children, true, now)
		return recs, nil
	})
}

// Update applies patch to the issue.
func (b *JSONLBackend) Update(ctx context.Context, id string, patch Patch) error {
	return b.mutate(ctx, func(recs []*record, now string) ([]*record, error) {
		i := find(recs, id)
		if i < 0 || recs[i].isTombstone() {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		r := recs[i]
		if patch.Title != nil {
			r.Title = *patch.Title
		}
		if patch.Description != nil {
			r.Description = *patch.Description
		}
		if patch.Status != nil {
			setStatus(r, *patch.Status, now)
		}
		if patch.Type != nil {
			r.IssueType = string(*patch.Type)
		}
		if patch.Priority != nil {
			r.Priority = priority(*patch.Priority)
		}
		if patch.Assignee != nil {
			r.Assignee = *patch.Assignee
		}
		if patch.SetLabels {
			r.Labels = slices.Clone(patch.Labels)
		}
		if patch.SetDependsOn {
			r.setDeps(DepBlocks, patch.DependsOn, now)
		}
		if patch.Parent != nil {
			var parents []string
			if *patch.Parent != "" {
				parents = []string{*patch.Parent}
			}
			r.setDeps(DepParentChild, parents, now)
		}
		if patch.SetBlocks {
			linkInverse(recs, id, DepBlocks, patch.Blocks, false, now)
		}
		if patch.SetChildren {
			linkInverse(recs, id, DepParentChild, patch.Children, false, now)
		}
		r.UpdatedAt = now
		return recs, nil
	})
}

// Close marks the issue closed.
func (b *JSONLBackend) Close(ctx context.Context, id string) error {
	return b.mutate(ctx, func(recs []*record, now string) ([]*record, error) {
		i := find(recs, id)
		if i < 0 || recs[i].isTombstone() {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		setStatus(recs[i], types.StatusClosed, now)
		recs[i].UpdatedAt = now
		return recs, nil
	})
}

// Delete tombstones the issue so other clones of the log learn about the
// deletion.
func (b *JSONLBackend) Delete(ctx context.Context, id string) error {
	return b.mutate(ctx, func(recs []*record, now string) ([]*record, error) {
		i := find(recs, id)
		if i < 0 || recs[i].isTombstone() {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		r := recs[i]
		r.OriginalType = r.IssueType
		r.Status = statusTombstone
		r.DeletedAt = now
		r.UpdatedAt = now
		return recs, nil
	})
}

func setStatus(r *record, status types.Status, now string) {
	r.Status = string(status)
	switch {
	case status == types.StatusClosed && r.ClosedAt == "":
		r.ClosedAt = now
	case status != types.StatusClosed:
		r.ClosedAt = ""
	}
}

// linkInverse makes the records listed in sources depend on target with
// type typ. Unless additive, dependencies of that type on target held by
// records not in sources are removed.
func linkInverse(recs []*record, target, typ string, sources []string, additive bool, now string) {
	for _, r := range recs {
		if r.ID == target || r.raw != nil || r.isTombstone() {
			continue
		}
		want := slices.Contains(sources, r.ID)
		has := r.hasDep(typ, target)
		switch {
		case want && !has:
			deps := r.dependsOn(typ)
			if typ == DepParentChild {
				deps = nil
			}
			r.setDeps(typ, append(deps, target), now)
			r.UpdatedAt = now
		case !want && has && !additive:
			r.setDeps(typ, slices.DeleteFunc(r.dependsOn(typ), func(id string) bool { return id == target }), now)
			r.UpdatedAt = now
		}
	}
}

func find(recs []*record, id string) int {
	return slices.IndexFunc(recs, func(r *record) bool { return r.ID == id })
}

type mutation func(recs []*record, now string) ([]*record, error)

// mutate runs fn over the current log and writes the result.
func (b *JSONLBackend) mutate(ctx context.Context, fn mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	// unreadable lines come back as raw records and are written out untouched
	recs, _, err := readLog(b.path)
	if err != nil {
		return err
	}
	recs, err = fn(recs, types.FormatTime(b.now()))
	if err != nil {
		return err
	}
	if err := b.backup(); err != nil {
		return err
	}
	return writeLog(b.path, recs)
}

// backup copies the log aside once per backend.
func (b *JSONLBackend) backup() error {
	if !b.config.Backup || b.backedUp {
		return nil
	}
	input, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		b.backedUp = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read log for backup: %w", err)
	}
	backupPath := b.path + ".backup." + b.now().Format("20060102-150405")
	if err := os.WriteFile(backupPath, input, 0600); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	b.config.Logger.Printf("Backed up %s to %s", b.path, backupPath)
	b.backedUp = true
	return nil
}

// writeLog rewrites the log atomically via a temp file.
func writeLog(path string, recs []*record) error {
	var buf bytes.Buffer
	for _, r := range recs {
		if r.raw != nil {
			buf.Write(r.raw)
			buf.WriteByte('\n')
			continue
		}
		line, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal issue %s: %w", r.ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create beads directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
