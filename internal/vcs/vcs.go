// Package vcs commits sync output to the repository the issue files live in.
//
// After a sync writes markdown files or the beads log, `todo sync` can
// record the touched paths as one commit when sync.auto-commit is set.
// Both git and jj (Jujutsu) are supported; colocated repositories use jj
// unless TODO_VCS says otherwise.
//
// # Usage
//
//	import (
//	    "github.com/Mschirtzinger/todosync/internal/vcs"
//	    _ "github.com/Mschirtzinger/todosync/internal/vcs/git"
//	    _ "github.com/Mschirtzinger/todosync/internal/vcs/jj"
//	)
//
//	v, err := vcs.Open(root)
//	if err != nil {
//	    return err
//	}
//	err = v.Commit(ctx, vcs.CommitOptions{Message: "todo: sync", Paths: paths})
package vcs

import (
	"context"
)

// Type represents the VCS backend type
type Type string

const (
	// TypeGit indicates a git-only repository
	TypeGit Type = "git"

	// TypeJJ indicates a jj-only repository (non-colocated)
	TypeJJ Type = "jj"

	// TypeColocate indicates a colocated repository (jj + git together)
	TypeColocate Type = "colocate"
)

// String returns the string representation of the VCS type
func (t Type) String() string {
	return string(t)
}

// VCS is the subset of version control the sync commands need.
type VCS interface {
	// Name returns the backend type
	Name() Type

	// RepoRoot returns the absolute repository root
	RepoRoot() string

	// HasChanges reports uncommitted changes, limited to paths when given
	HasChanges(ctx context.Context, paths ...string) (bool, error)

	// Commit records the given paths (or everything when Paths is empty)
	Commit(ctx context.Context, opts CommitOptions) error
}

// CommitOptions configures a commit.
type CommitOptions struct {
	// Message is the commit message (required)
	Message string

	// Paths limits the commit to these files; relative paths are taken
	// from the repository root
	Paths []string

	// Author overrides the commit author ("Name <email>"), git only
	Author string
}
