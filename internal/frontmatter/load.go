package frontmatter

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Mschirtzinger/todosync/internal/pattern"
	"github.com/Mschirtzinger/todosync/internal/types"
)

// entry is one loaded document.
type entry struct {
	path  string
	issue *types.Issue
}

// LoadMany parses every .md file under rootDir, recursively. Hidden
// directories are skipped. A missing rootDir yields no issues and no error.
//
// Files that fail to parse do not stop the walk: the issues that did parse
// are returned together with a *LoadError.
func LoadMany(rootDir string) ([]*types.Issue, error) {
	entries, failed, err := scan(rootDir, pattern.DefaultPattern)
	if err != nil {
		return nil, err
	}
	issues := make([]*types.Issue, len(entries))
	for i, e := range entries {
		issues[i] = e.issue
	}
	if len(failed) > 0 {
		return issues, &LoadError{Files: failed}
	}
	return issues, nil
}

// scan walks root and parses every document. namePattern is used to guess
// the id of files that fail to parse.
func scan(root, namePattern string) ([]entry, []*FileError, error) {
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("%s is not a directory", root)
	}

	var entries []entry
	var failed []*FileError
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			failed = append(failed, &FileError{Path: path, Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !isDocument(d.Name()) {
			return nil
		}

		// #nosec G304 - path comes from walking the managed directory
		data, err := os.ReadFile(path)
		if err != nil {
			failed = append(failed, &FileError{Path: path, Err: err})
			return nil
		}
		issue, err := Parse(string(data))
		if err != nil {
			rel, rerr := filepath.Rel(root, path)
			if rerr != nil {
				rel = d.Name()
			}
			failed = append(failed, &FileError{Path: path, ID: guessID(string(data), rel, namePattern), Err: err})
			return nil
		}
		issue.Source = types.SourceFile
		entries = append(entries, entry{path: path, issue: issue})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return entries, failed, nil
}

func isDocument(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".md") && !strings.HasPrefix(name, ".")
}

var idLineRe = regexp.MustCompile(`(?m)^\s*id\s*[:=]\s*["']?([^"'\s]+)`)

// guessID recovers the id of a document that did not parse, first from an
// id line in its text and then from its path relative to the managed
// directory.
func guessID(content, name, namePattern string) string {
	if m := idLineRe.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	if id, ok := pattern.ExtractID(name, namePattern); ok {
		return id
	}
	return ""
}
