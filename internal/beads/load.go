package beads

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Mschirtzinger/todosync/internal/types"
)

const (
	// DirName is the beads directory inside a project.
	DirName = ".beads"
	// LogName is the issue log inside DirName.
	LogName = "issues.jsonl"
)

// LogPath returns the issue log of the project at rootDir.
func LogPath(rootDir string) string {
	return filepath.Join(rootDir, DirName, LogName)
}

// FindBeadsDir walks up from start and returns the first .beads directory
// found, or an error if there is none.
func FindBeadsDir(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", start, err)
	}
	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s directory found above %s", DirName, start)
		}
		dir = parent
	}
}

// LoadIssues reads the issue log of the project at rootDir. A missing
// store, a missing log and an empty log all yield no issues and no error.
// Tombstoned records are skipped.
func LoadIssues(rootDir string) ([]*types.Issue, error) {
	return LoadLog(LogPath(rootDir))
}

// LoadLog is LoadIssues for an explicit log path.
//
// Lines that cannot be read do not stop the load: the issues on the other
// lines are returned together with a *LogError.
func LoadLog(path string) ([]*types.Issue, error) {
	recs, bad, err := readLog(path)
	if err != nil {
		return nil, err
	}
	issues := toIssues(recs)
	if len(bad) > 0 {
		return issues, &LogError{Path: path, Lines: bad}
	}
	return issues, nil
}

// readLog returns every record in the log, tombstones included, in file
// order. Later lines for an id replace earlier ones. Lines that do not
// decode are kept as raw records and reported in bad.
func readLog(path string) (recs []*record, bad []*LineError, err error) {
	// #nosec G304 - path is the configured beads log
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open issue log: %w", err)
	}
	defer file.Close()

	index := make(map[string]int)
	reader := bufio.NewReader(file)
	for lineNum := 1; ; lineNum++ {
		line, rerr := reader.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			var r record
			derr := json.Unmarshal([]byte(trimmed), &r)
			if derr == nil && strings.TrimSpace(r.ID) == "" {
				derr = errors.New("record has no id")
			}
			switch {
			case derr != nil:
				bad = append(bad, &LineError{Line: lineNum, ID: guessID(trimmed), Err: derr})
				recs = append(recs, &record{raw: []byte(trimmed)})
			default:
				if i, seen := index[r.ID]; seen {
					recs[i] = &r
				} else {
					index[r.ID] = len(recs)
					recs = append(recs, &r)
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, nil, fmt.Errorf("failed to read issue log: %w", rerr)
		}
	}
	return recs, bad, nil
}

// guessID recovers the id of a line that did not decode as a record.
func guessID(line string) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(line), &probe); err != nil {
		return ""
	}
	return strings.TrimSpace(probe.ID)
}

// toIssues maps live records onto issues, deriving Blocks and Children from
// the dependencies other records declare.
func toIssues(recs []*record) []*types.Issue {
	issues := make([]*types.Issue, 0, len(recs))
	byID := make(map[string]*types.Issue, len(recs))
	for _, r := range recs {
		if r.raw != nil || r.isTombstone() {
			continue
		}
		issue := r.toIssue()
		issues = append(issues, issue)
		byID[issue.ID] = issue
	}
	for _, issue := range issues {
		for _, dep := range issue.DependsOn {
			if target, ok := byID[dep]; ok {
				target.Blocks = append(target.Blocks, issue.ID)
			}
		}
		if parent, ok := byID[issue.Parent]; ok && issue.Parent != "" {
			parent.Children = append(parent.Children, issue.ID)
		}
	}
	return issues
}

// Log reads the issue log at Path. It is the beads side of a sync.
type Log struct {
	Path string
}

// LoadIssues reads the log. Like LoadLog it may return a *LogError
// together with the issues that did load.
func (l Log) LoadIssues(ctx context.Context) ([]*types.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadLog(l.Path)
}
