package vcs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func mkdirs(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := os.MkdirAll(p, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", p, err)
		}
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		markers []string
		want    Type
	}{
		{name: "git", markers: []string{".git"}, want: TypeGit},
		{name: "jj", markers: []string{".jj"}, want: TypeJJ},
		{name: "colocated", markers: []string{".git", ".jj"}, want: TypeColocate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			for _, m := range tt.markers {
				mkdirs(t, filepath.Join(root, m))
			}
			sub := filepath.Join(root, ".todo", "closed")
			mkdirs(t, sub)

			result, err := Detect(sub)
			if err != nil {
				t.Fatalf("Detect() returned error: %v", err)
			}
			if result.Type != tt.want {
				t.Errorf("Type = %s, want %s", result.Type, tt.want)
			}
			if result.RepoRoot != root {
				t.Errorf("RepoRoot = %q, want %q", result.RepoRoot, root)
			}
		})
	}
}

func TestDetect_NestedRepoWins(t *testing.T) {
	outer := t.TempDir()
	inner := filepath.Join(outer, "vendor", "lib")
	mkdirs(t, filepath.Join(outer, ".jj"), filepath.Join(inner, ".git"))

	result, err := Detect(inner)
	if err != nil {
		t.Fatalf("Detect() returned error: %v", err)
	}
	if result.Type != TypeGit || result.RepoRoot != inner {
		t.Errorf("Detect() = %+v, want git at %s", result, inner)
	}
}

func TestDetect_Worktree(t *testing.T) {
	main := t.TempDir()
	wt := t.TempDir()
	mkdirs(t, filepath.Join(main, ".git", "worktrees", "feature"))
	gitFile := "gitdir: " + filepath.Join(main, ".git", "worktrees", "feature") + "\n"
	if err := os.WriteFile(filepath.Join(wt, ".git"), []byte(gitFile), 0644); err != nil {
		t.Fatalf("Failed to write .git file: %v", err)
	}

	result, err := Detect(wt)
	if err != nil {
		t.Fatalf("Detect() returned error: %v", err)
	}
	if !result.IsWorktree {
		t.Error("IsWorktree = false, want true")
	}
	if result.MainRepoRoot != main {
		t.Errorf("MainRepoRoot = %q, want %q", result.MainRepoRoot, main)
	}
}

func TestDetect_NotInVCS(t *testing.T) {
	// t.TempDir() may itself sit inside a repository on a developer machine
	if _, err := Detect(t.TempDir()); err != nil && !errors.Is(err, ErrNotInVCS) {
		t.Errorf("Detect() error = %v, want ErrNotInVCS", err)
	}
}

func TestPreferredVCS(t *testing.T) {
	tests := []struct {
		env  string
		want Type
	}{
		{"", TypeJJ},
		{"git", TypeGit},
		{"GIT", TypeGit},
		{"jujutsu", TypeJJ},
		{"svn", TypeJJ},
	}
	for _, tt := range tests {
		t.Setenv("TODO_VCS", tt.env)
		if got := PreferredVCS(); got != tt.want {
			t.Errorf("PreferredVCS() with TODO_VCS=%q = %s, want %s", tt.env, got, tt.want)
		}
	}
}

type stubVCS struct{ root string }

func (s *stubVCS) Name() Type                                          { return TypeGit }
func (s *stubVCS) RepoRoot() string                                    { return s.root }
func (s *stubVCS) HasChanges(context.Context, ...string) (bool, error) { return false, nil }
func (s *stubVCS) Commit(context.Context, CommitOptions) error         { return nil }

func TestOpen_UsesRegisteredBackend(t *testing.T) {
	if !IsGitAvailable() {
		t.Skip("git not available")
	}

	registryMutex.Lock()
	saved := registry
	registry = map[Type]Constructor{}
	registryMutex.Unlock()
	t.Cleanup(func() {
		registryMutex.Lock()
		registry = saved
		registryMutex.Unlock()
	})

	root := t.TempDir()
	mkdirs(t, filepath.Join(root, ".git"))

	if _, err := Open(root); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("Open() without backends error = %v, want ErrNotSupported", err)
	}

	Register(TypeGit, func(repoRoot string) (VCS, error) { return &stubVCS{root: repoRoot}, nil })
	v, err := Open(root)
	if err != nil {
		t.Fatalf("Open() returned error: %v", err)
	}
	if v.RepoRoot() != root {
		t.Errorf("RepoRoot() = %q, want %q", v.RepoRoot(), root)
	}
}

func TestCommandError(t *testing.T) {
	err := &CommandError{Command: "git", Args: []string{"commit", "-m", "x"}, Stderr: "fatal: boom\n", Err: errors.New("exit status 128")}
	if got := err.Error(); got != "git commit -m x failed: fatal: boom" {
		t.Errorf("Error() = %q", got)
	}
	if errors.Unwrap(err) == nil {
		t.Error("Unwrap() should return the exec error")
	}
}
