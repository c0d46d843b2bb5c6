// Package jj commits sync output in Jujutsu (jj) repositories.
//
// jj has no staging area: the working copy is itself a change. Committing
// splits the given paths out of it with `jj commit`, leaving the rest of
// the working copy untouched.
package jj

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Mschirtzinger/todosync/internal/vcs"
)

func init() {
	ctor := func(repoRoot string) (vcs.VCS, error) {
		return New(repoRoot)
	}
	vcs.Register(vcs.TypeJJ, ctor)
}

// JJ implements vcs.VCS for Jujutsu.
type JJ struct {
	// repoRoot is the repository root directory
	repoRoot string

	// isColocated indicates if this is a colocated repo (.jj + .git)
	isColocated bool
}

// New creates a JJ instance for the repository root. The root must
// already contain a .jj directory.
func New(repoRoot string) (*JJ, error) {
	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository root: %w", err)
	}

	if info, err := os.Stat(filepath.Join(absRoot, ".jj")); err != nil || !info.IsDir() {
		return nil, vcs.ErrNotInVCS
	}
	_, gitErr := os.Stat(filepath.Join(absRoot, ".git"))

	return &JJ{repoRoot: absRoot, isColocated: gitErr == nil}, nil
}

// Init initializes a new jj repository in the given path.
// If colocate is true, initializes in colocated mode (jj + git together).
func Init(path string, colocate bool) (*JJ, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	args := []string{"git", "init"}
	if colocate {
		args = append(args, "--colocate")
	}
	cmd := exec.Command("jj", args...)
	cmd.Dir = absPath
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("failed to initialize jj repository: %w: %s", err, output)
	}

	return New(absPath)
}

// Name returns TypeColocate for colocated repos, TypeJJ otherwise.
func (j *JJ) Name() vcs.Type {
	if j.isColocated {
		return vcs.TypeColocate
	}
	return vcs.TypeJJ
}

// RepoRoot returns the repository root directory path
func (j *JJ) RepoRoot() string {
	return j.repoRoot
}

// Exec executes a raw jj command in the repository root.
func (j *JJ) Exec(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "jj", args...)
	cmd.Dir = j.repoRoot

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if strings.Contains(stderr.String(), "There is no jj repo") {
			return nil, vcs.ErrNotInVCS
		}
		return nil, &vcs.CommandError{Command: "jj", Args: args, Stderr: stderr.String(), Err: err}
	}

	return stdout.Bytes(), nil
}

// HasChanges returns true if the working-copy change touches paths (or
// anything, when no paths are given).
func (j *JJ) HasChanges(ctx context.Context, paths ...string) (bool, error) {
	changed, err := j.changed(ctx, paths)
	if err != nil {
		return false, err
	}
	return len(changed) > 0, nil
}

// Commit describes the working-copy changes to opts.Paths and starts a new
// change on top. jj cannot override the author per commit, so opts.Author
// is ignored.
func (j *JJ) Commit(ctx context.Context, opts vcs.CommitOptions) error {
	if opts.Message == "" {
		return vcs.ErrEmptyMessage
	}

	changed, err := j.changed(ctx, opts.Paths)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return vcs.ErrNothingToCommit
	}

	args := []string{"commit", "-m", opts.Message}
	if len(opts.Paths) > 0 {
		args = append(append(args, "--"), filesets(changed)...)
	}
	_, err = j.Exec(ctx, args...)
	return err
}

// changed lists the repo-relative paths modified in the working copy.
func (j *JJ) changed(ctx context.Context, paths []string) ([]string, error) {
	args := []string{"diff", "--name-only"}
	if len(paths) > 0 {
		var rel []string
		for _, p := range paths {
			rel = append(rel, j.relative(p))
		}
		args = append(append(args, "--"), filesets(rel)...)
	}

	output, err := j.Exec(ctx, args...)
	if err != nil {
		return nil, err
	}

	var changed []string
	for _, line := range strings.Split(string(output), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			changed = append(changed, filepath.ToSlash(line))
		}
	}
	return changed, nil
}

func (j *JJ) relative(path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	if rel, err := filepath.Rel(j.repoRoot, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return path
}

// filesets quotes repo-relative paths as jj path-prefix patterns so names
// with brackets or spaces are not parsed as fileset expressions.
func filesets(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = fmt.Sprintf("root:%q", p)
	}
	return out
}
