package git

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/Mschirtzinger/todosync/internal/vcs"
)

// HasChanges returns true if there are uncommitted changes.
// If paths are specified, only checks those paths.
func (g *Git) HasChanges(ctx context.Context, paths ...string) (bool, error) {
	changed, err := g.changed(ctx, paths)
	if err != nil {
		return false, err
	}
	return len(changed) > 0, nil
}

// Commit stages and commits the changed paths among opts.Paths, or every
// change when Paths is empty. Clean paths are skipped so a deleted file
// that was never tracked does not break the pathspec.
func (g *Git) Commit(ctx context.Context, opts vcs.CommitOptions) error {
	if opts.Message == "" {
		return vcs.ErrEmptyMessage
	}

	changed, err := g.changed(ctx, opts.Paths)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return vcs.ErrNothingToCommit
	}

	add := []string{"add", "-A"}
	commit := []string{"commit", "-m", opts.Message}
	if opts.Author != "" {
		commit = append(commit, "--author", opts.Author)
	}
	if len(opts.Paths) > 0 {
		add = append(append(add, "--"), changed...)
		commit = append(append(commit, "--"), changed...)
	}

	if _, err := g.Exec(ctx, add...); err != nil {
		return err
	}
	_, err = g.Exec(ctx, commit...)
	return err
}

// changed lists the repo-relative paths with pending changes, limited to
// paths when given.
func (g *Git) changed(ctx context.Context, paths []string) ([]string, error) {
	args := []string{"status", "--porcelain=v1", "-z", "--untracked-files=all"}
	if len(paths) > 0 {
		args = append(args, "--")
		for _, p := range paths {
			args = append(args, g.relative(p))
		}
	}

	output, err := g.Exec(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parsePorcelain(string(output)), nil
}

// parsePorcelain reads `git status --porcelain=v1 -z` output: "XY path"
// entries separated by NUL, where renames and copies are followed by an
// extra entry holding the source path.
func parsePorcelain(output string) []string {
	var paths []string
	entries := strings.Split(output, "\x00")
	for i := 0; i < len(entries); i++ {
		entry := entries[i]
		if len(entry) < 4 {
			continue
		}
		x, path := entry[0], entry[3:]
		paths = append(paths, path)
		if x == 'R' || x == 'C' {
			// source path
			i++
			if i < len(entries) && entries[i] != "" {
				paths = append(paths, entries[i])
			}
		}
	}
	return paths
}

func (g *Git) relative(path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	if resolved, err := filepath.EvalSymlinks(filepath.Dir(path)); err == nil {
		path = filepath.Join(resolved, filepath.Base(path))
	}
	if rel, err := filepath.Rel(g.repoRoot, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return path
}
