package frontmatter

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPathTraversal matches every *PathTraversalError.
var ErrPathTraversal = errors.New("path escapes managed directory")

// PathTraversalError reports a write target that resolves outside the
// managed root even after sanitization.
type PathTraversalError struct {
	Root string
	Path string
	// ID is the issue the path was computed for, empty for directory
	// options such as the closed sub-directory.
	ID string
}

func (e *PathTraversalError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("issue %s: %s resolves outside %s", e.ID, e.Path, e.Root)
	}
	return fmt.Sprintf("%s resolves outside %s", e.Path, e.Root)
}

func (e *PathTraversalError) Unwrap() error { return ErrPathTraversal }

// FileError is a failure to load one document.
type FileError struct {
	Path string
	// ID is a best-effort guess at the issue the file belonged to, used to
	// keep sync from treating the issue as deleted.
	ID  string
	Err error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// LoadError aggregates the per-file failures of a load. The issues that did
// load are still returned alongside it.
type LoadError struct {
	Files []*FileError
}

func (e *LoadError) Error() string {
	msgs := make([]string, len(e.Files))
	for i, f := range e.Files {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("failed to load %d file(s): %s", len(e.Files), strings.Join(msgs, "; "))
}

func (e *LoadError) Unwrap() []error {
	errs := make([]error, len(e.Files))
	for i, f := range e.Files {
		errs[i] = f
	}
	return errs
}

// IDs returns the guessed ids of the files that failed to load.
func (e *LoadError) IDs() []string {
	var ids []string
	for _, f := range e.Files {
		if f.ID != "" {
			ids = append(ids, f.ID)
		}
	}
	return ids
}
