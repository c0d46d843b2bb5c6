package vcs

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DetectionResult describes the repository found around a path
type DetectionResult struct {
	// Type is the detected VCS type
	Type Type

	// RepoRoot is the repository root directory path
	RepoRoot string

	// HasGit indicates a .git directory/file was found
	HasGit bool

	// HasJJ indicates a .jj directory was found
	HasJJ bool

	// IsWorktree indicates a git worktree (.git is a file)
	IsWorktree bool

	// MainRepoRoot is the main repo root (different from RepoRoot for worktrees)
	MainRepoRoot string
}

// Detect walks up from path until it finds a .jj or .git marker.
// Both markers in the same directory give TypeColocate.
//
// Returns ErrNotInVCS if no VCS is found.
func Detect(path string) (*DetectionResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	current := absPath
	for {
		result := &DetectionResult{RepoRoot: current, MainRepoRoot: current}

		if info, err := os.Stat(filepath.Join(current, ".jj")); err == nil && info.IsDir() {
			result.HasJJ = true
		}

		gitPath := filepath.Join(current, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			result.HasGit = true
			if info.Mode().IsRegular() {
				result.IsWorktree = true
				result.MainRepoRoot = resolveGitWorktreeRoot(current, gitPath)
			}
		}

		switch {
		case result.HasJJ && result.HasGit:
			result.Type = TypeColocate
			return result, nil
		case result.HasJJ:
			result.Type = TypeJJ
			return result, nil
		case result.HasGit:
			result.Type = TypeGit
			return result, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return nil, ErrNotInVCS
		}
		current = parent
	}
}

// resolveGitWorktreeRoot finds the main repository of a worktree from its
// .git file, which reads "gitdir: /main/.git/worktrees/<name>".
func resolveGitWorktreeRoot(worktreePath, gitFile string) string {
	content, err := os.ReadFile(gitFile)
	if err != nil {
		return worktreePath
	}

	line := strings.TrimSpace(string(content))
	gitDir, ok := strings.CutPrefix(line, "gitdir: ")
	if !ok {
		return worktreePath
	}
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(worktreePath, gitDir)
	}
	gitDir = filepath.Clean(gitDir)

	sep := string(filepath.Separator)
	if idx := strings.Index(gitDir, sep+"worktrees"+sep); idx > 0 {
		return filepath.Dir(gitDir[:idx])
	}
	return worktreePath
}

// PreferredVCS returns the backend to use in colocated repositories.
// TODO_VCS ("git" or "jj") overrides the jj default.
func PreferredVCS() Type {
	switch strings.ToLower(os.Getenv("TODO_VCS")) {
	case "git":
		return TypeGit
	case "jj", "jujutsu":
		return TypeJJ
	}
	return TypeJJ
}

// IsJJAvailable checks if the jj command is available on the system
func IsJJAvailable() bool {
	if _, err := exec.LookPath("jj"); err == nil {
		return true
	}
	_, err := os.Stat(filepath.Join(os.Getenv("HOME"), ".cargo", "bin", "jj"))
	return err == nil
}

// IsGitAvailable checks if the git command is available on the system
func IsGitAvailable() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// DetectWithAvailability performs detection and checks binary availability.
// A colocated repository with only one binary installed is reported as
// that backend.
func DetectWithAvailability(path string) (*DetectionResult, error) {
	result, err := Detect(path)
	if err != nil {
		return nil, err
	}

	switch result.Type {
	case TypeGit:
		if !IsGitAvailable() {
			return nil, ErrVCSNotAvailable
		}
	case TypeJJ:
		if !IsJJAvailable() {
			return nil, ErrVCSNotAvailable
		}
	case TypeColocate:
		hasGit, hasJJ := IsGitAvailable(), IsJJAvailable()
		switch {
		case !hasGit && !hasJJ:
			return nil, ErrVCSNotAvailable
		case !hasGit:
			result.Type = TypeJJ
		case !hasJJ:
			result.Type = TypeGit
		}
	}

	return result, nil
}
