package vcs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotInVCS is returned when no repository contains the path
	ErrNotInVCS = errors.New("not in a VCS repository")

	// ErrVCSNotAvailable is returned when the VCS binary is not installed
	ErrVCSNotAvailable = errors.New("VCS binary not available")

	// ErrNotSupported is returned when no backend handles the repository
	ErrNotSupported = errors.New("operation not supported by this VCS")

	// ErrNothingToCommit is returned by Commit when the paths are clean
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrEmptyMessage is returned by Commit without a message
	ErrEmptyMessage = errors.New("commit message is required")
)

// CommandError carries the output of a failed VCS command.
type CommandError struct {
	Command string
	Args    []string
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Command, strings.Join(e.Args, " "))
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
