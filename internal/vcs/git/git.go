// Package git commits sync output in git repositories.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Mschirtzinger/todosync/internal/vcs"
)

func init() {
	vcs.Register(vcs.TypeGit, func(repoRoot string) (vcs.VCS, error) {
		return New(repoRoot)
	})
}

// Git implements vcs.VCS for git repositories.
type Git struct {
	// repoRoot is the repository root directory path
	repoRoot string
}

// New creates a Git instance for the repository containing path.
func New(path string) (*Git, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = absPath
	output, err := cmd.Output()
	if err != nil {
		return nil, vcs.ErrNotInVCS
	}

	root := filepath.FromSlash(strings.TrimSpace(string(output)))
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	return &Git{repoRoot: root}, nil
}

// Name returns the VCS type (git)
func (g *Git) Name() vcs.Type {
	return vcs.TypeGit
}

// RepoRoot returns the repository root directory path
func (g *Git) RepoRoot() string {
	return g.repoRoot
}

// Exec executes a raw git command in the repository root
func (g *Git) Exec(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoRoot

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &vcs.CommandError{Command: "git", Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}
