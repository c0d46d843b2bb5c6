package frontmatter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/Mschirtzinger/todosync/internal/types"
)

// Dir is a directory of issue documents. It remembers where each issue was
// found by the last load so issues can be removed by id.
type Dir struct {
	root   string
	opts   WriteOptions
	logger *log.Logger

	mu    sync.Mutex
	index map[string]string
}

// NewDir returns a store rooted at root. A nil logger writes to stderr.
func NewDir(root string, opts WriteOptions, logger *log.Logger) *Dir {
	if logger == nil {
		logger = log.New(os.Stderr, "[files] ", log.LstdFlags)
	}
	return &Dir{
		root:   root,
		opts:   opts.withDefaults(),
		logger: logger,
		index:  make(map[string]string),
	}
}

// Root returns the managed directory.
func (d *Dir) Root() string { return d.root }

// LoadIssues loads every document. Per-file failures are logged and
// returned as a *LoadError next to the issues that loaded.
func (d *Dir) LoadIssues(ctx context.Context) ([]*types.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, failed, err := scan(d.root, d.opts.Pattern)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.index = make(map[string]string, len(entries))
	issues := make([]*types.Issue, 0, len(entries))
	for _, e := range entries {
		if prev, dup := d.index[e.issue.ID]; dup {
			d.logger.Printf("Warning: issue %s found in both %s and %s, using the first", e.issue.ID, prev, e.path)
			continue
		}
		d.index[e.issue.ID] = e.path
		issues = append(issues, e.issue)
	}
	d.mu.Unlock()

	if len(failed) > 0 {
		for _, f := range failed {
			d.logger.Printf("Warning: skipping %v", f)
		}
		return issues, &LoadError{Files: failed}
	}
	return issues, nil
}

// WriteIssues writes issues with the store's options.
func (d *Dir) WriteIssues(ctx context.Context, issues []*types.Issue) (*WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := WriteMany(issues, d.root, d.opts)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	for id, p := range res.Written {
		d.index[id] = p
	}
	d.mu.Unlock()

	for id, werr := range res.Errors {
		d.logger.Printf("Warning: failed to write issue %s: %v", id, werr)
	}
	return res, nil
}

// Path returns the file holding id as of the last load or write.
func (d *Dir) Path(id string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.index[id]
	return p, ok
}

// RemoveIssue deletes the document of id. Removing an unknown id is not an
// error.
func (d *Dir) RemoveIssue(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, ok := d.Path(id)
	if !ok {
		if _, err := d.LoadIssues(ctx); err != nil {
			var lerr *LoadError
			if !errors.As(err, &lerr) {
				return err
			}
		}
		if p, ok = d.Path(id); !ok {
			return nil
		}
	}

	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}
	d.mu.Lock()
	delete(d.index, id)
	d.mu.Unlock()
	return nil
}
