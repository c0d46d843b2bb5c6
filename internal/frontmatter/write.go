package frontmatter

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Mschirtzinger/todosync/internal/pattern"
	"github.com/Mschirtzinger/todosync/internal/types"
)

// DefaultClosedSubdir holds closed issues when SeparateClosed is set.
const DefaultClosedSubdir = "closed"

// WriteOptions controls where WriteMany places documents.
type WriteOptions struct {
	// Pattern is the file name pattern, pattern.DefaultPattern if empty.
	Pattern string
	// SeparateClosed moves closed issues under ClosedSubdir.
	SeparateClosed bool
	ClosedSubdir   string
}

func (o WriteOptions) withDefaults() WriteOptions {
	if o.Pattern == "" {
		o.Pattern = pattern.DefaultPattern
	}
	if o.ClosedSubdir == "" {
		o.ClosedSubdir = DefaultClosedSubdir
	}
	return o
}

// WriteResult reports the outcome of a batch write.
type WriteResult struct {
	// Paths lists every written file, in input order.
	Paths []string
	// Written maps issue id to the file now holding it.
	Written map[string]string
	// Removed lists stale files of rewritten issues that were deleted
	// because the issue moved to a new name.
	Removed []string
	// Errors holds per-issue failures. The rest of the batch is unaffected.
	Errors map[string]error
}

type plan struct {
	issue *types.Issue
	path  string
	old   string
}

// WriteMany writes issues as documents under rootDir.
//
// Every target path is computed and checked to lie inside rootDir before any
// directory or file is created. If one does not, WriteMany returns a
// *PathTraversalError and the filesystem is left untouched. Existing files
// of the same issue are replaced; names held by other issues are treated as
// collisions.
func WriteMany(issues []*types.Issue, rootDir string, opts WriteOptions) (*WriteResult, error) {
	opts = opts.withDefaults()
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", rootDir, err)
	}

	if opts.SeparateClosed {
		if filepath.IsAbs(opts.ClosedSubdir) || !within(root, filepath.Join(root, opts.ClosedSubdir), true) {
			return nil, &PathTraversalError{Root: root, Path: opts.ClosedSubdir}
		}
	}
	if filepath.IsAbs(opts.Pattern) || path.IsAbs(opts.Pattern) {
		return nil, &PathTraversalError{Root: root, Path: opts.Pattern}
	}

	entries, failed, err := scan(root, opts.Pattern)
	if err != nil {
		return nil, err
	}
	owners := make(map[string]string, len(entries)+len(failed)) // path -> id
	current := make(map[string]string, len(entries))            // id -> path
	for _, e := range entries {
		owners[e.path] = e.issue.ID
		if _, dup := current[e.issue.ID]; !dup {
			current[e.issue.ID] = e.path
		}
	}
	for _, f := range failed {
		// unreadable documents keep their names
		owners[f.Path] = ""
	}

	tokens := pattern.Parse(opts.Pattern)
	result := &WriteResult{Written: make(map[string]string), Errors: make(map[string]error)}
	planned := make(map[string]string) // path -> id
	var plans []plan

	for _, issue := range issues {
		if err := issue.Validate(); err != nil {
			result.Errors[issue.ID] = err
			continue
		}
		dir := root
		if opts.SeparateClosed && issue.IsClosed() {
			dir = filepath.Join(root, opts.ClosedSubdir)
		}

		name := pattern.ApplyTokens(tokens, issue, taken(dir, issue.ID, owners, planned))
		target := filepath.Join(dir, filepath.FromSlash(name))
		if path.IsAbs(name) || !within(root, target, false) {
			return nil, &PathTraversalError{Root: root, Path: name, ID: issue.ID}
		}
		planned[target] = issue.ID
		plans = append(plans, plan{issue: issue, path: target, old: current[issue.ID]})
	}

	for _, p := range plans {
		if err := writeDocument(p.path, Generate(p.issue)); err != nil {
			result.Errors[p.issue.ID] = err
			continue
		}
		result.Paths = append(result.Paths, p.path)
		result.Written[p.issue.ID] = p.path

		if p.old != "" && p.old != p.path {
			if _, still := planned[p.old]; !still {
				if err := os.Remove(p.old); err != nil && !os.IsNotExist(err) {
					result.Errors[p.issue.ID] = fmt.Errorf("failed to remove stale file %s: %w", p.old, err)
					continue
				}
				result.Removed = append(result.Removed, p.old)
			}
		}
	}
	return result, nil
}

// taken lists, relative to dir, the names already used by other issues.
func taken(dir, id string, owners, planned map[string]string) []string {
	var names []string
	add := func(p, owner string) {
		if owner == id && owner != "" {
			return
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return
		}
		names = append(names, filepath.ToSlash(rel))
	}
	for p, owner := range owners {
		add(p, owner)
	}
	for p, owner := range planned {
		add(p, owner)
	}
	return names
}

// within reports whether p lies inside root. allowRoot accepts root itself.
func within(root, p string, allowRoot bool) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	if rel == "." {
		return allowRoot
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// writeDocument writes content atomically via a temp file.
func writeDocument(target, content string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := target + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
