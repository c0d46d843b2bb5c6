package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/Mschirtzinger/todosync/internal/assist"
	"github.com/Mschirtzinger/todosync/internal/beads"
	"github.com/Mschirtzinger/todosync/internal/config"
	"github.com/Mschirtzinger/todosync/internal/frontmatter"
	"github.com/Mschirtzinger/todosync/internal/lockfile"
	"github.com/Mschirtzinger/todosync/internal/statedb"
	todosync "github.com/Mschirtzinger/todosync/internal/sync"
	"github.com/Mschirtzinger/todosync/internal/templates"
	"github.com/Mschirtzinger/todosync/internal/types"
)

const (
	lockName   = ".lock"
	ignoreName = ".gitignore"
)

// app carries the global flags and the streams of one invocation.
type app struct {
	startDir   string
	jsonOutput bool
	verbose    bool

	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

// loadConfig resolves the project configuration from the start directory.
func (a *app) loadConfig() (*config.Config, error) {
	start := a.startDir
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		start = wd
	}
	return config.Load(start)
}

// abs resolves a path given on the command line against --chdir.
func (a *app) abs(p string) string {
	if p == "" || filepath.IsAbs(p) || a.startDir == "" {
		return p
	}
	return filepath.Join(a.startDir, p)
}

// logger returns a component logger writing to stderr with --verbose, and
// warnings only otherwise.
func (a *app) logger(component string) *log.Logger {
	prefix := "[" + component + "] "
	if a.verbose {
		return log.New(a.errOut, prefix, log.LstdFlags)
	}
	return log.New(&warningsOnly{w: a.errOut}, prefix, 0)
}

// warningsOnly drops log lines that are not warnings.
type warningsOnly struct {
	w io.Writer
}

func (w *warningsOnly) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("Warning:")) {
		return w.w.Write(p)
	}
	return len(p), nil
}

func (a *app) backend(cfg *config.Config) beads.Backend {
	if cfg.Beads.Backend == config.BackendCLI {
		return beads.NewCLIBackend(cfg.Beads.Bin, cfg.Root, a.logger("beads"))
	}
	return beads.NewJSONLBackend(cfg.BeadsLog(), beads.JSONLConfig{Backup: true, Logger: a.logger("beads")})
}

func (a *app) resolveConfig(cfg *config.Config) templates.ResolveConfig {
	return templates.ResolveConfig{Dir: cfg.Templates.Dir, Preset: cfg.Templates.Preset}
}

// assistant returns the AI slot filler, or nil when no API key is set.
func (a *app) assistant(cfg *config.Config) templates.Assistant {
	if cfg.AI.APIKey == "" {
		return nil
	}
	c, err := assist.New(assist.Config{APIKey: cfg.AI.APIKey, Model: cfg.AI.Model, Logger: a.logger("assist")})
	if err != nil {
		fmt.Fprintf(a.errOut, "Warning: assisted extraction disabled: %v\n", err)
		return nil
	}
	return c
}

// session is an opened project: config, issue files, sync state and the
// syncer joining them.
type session struct {
	cfg    *config.Config
	files  *frontmatter.Dir
	state  *statedb.DB // nil for a read-only session before the first sync
	syncer *todosync.Syncer
	lock   *lockfile.Lock
}

// sessionMode says what a command may do to the project directory.
type sessionMode int

const (
	// readOnly creates nothing: no lock, no .gitignore and the sync state
	// only when it already exists.
	readOnly sessionMode = iota
	// shared may write but leaves locking to each operation.
	shared
	// exclusive holds the project lock until Close.
	exclusive
)

// openSession loads the configuration and wires a syncer.
func (a *app) openSession(ctx context.Context, command string, mode sessionMode) (*session, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg}

	if mode == exclusive {
		l, err := lockfile.Acquire(filepath.Join(cfg.Dir, lockName), command)
		if err != nil {
			return nil, fmt.Errorf("another todo command is running: %w", err)
		}
		s.lock = l
	}

	if mode == readOnly {
		state, err := statedb.OpenReadOnly(ctx, cfg.StateDB)
		switch {
		case errors.Is(err, statedb.ErrNotExist):
		case err != nil:
			fmt.Fprintf(a.errOut, "Warning: sync state unavailable: %v\n", err)
		default:
			s.state = state
		}
	} else {
		if err := ensureIgnore(cfg.Dir); err != nil {
			fmt.Fprintf(a.errOut, "Warning: %v\n", err)
		}
		state, err := statedb.OpenContext(ctx, cfg.StateDB)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open sync state: %w", err)
		}
		s.state = state
	}

	s.files = frontmatter.NewDir(cfg.Dir, cfg.WriteOptions(), a.logger("files"))
	strategy, err := todosync.ParseConflictStrategy(cfg.Sync.ConflictStrategy)
	if err != nil {
		s.Close()
		return nil, err
	}
	scfg := todosync.Config{
		Files:    s.files,
		Beads:    beads.Log{Path: cfg.BeadsLog()},
		Backend:  a.backend(cfg),
		Strategy: strategy,
		Logger:   a.logger("sync"),
	}
	switch {
	case s.state != nil:
		scfg.State = s.state
	case mode == readOnly:
		scfg.State = noState{}
	}
	s.syncer, err = todosync.New(scfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// noState is the sync state of a project that was never synced. A preview
// run against it plans what the first real run would do.
type noState struct{}

func (noState) SyncPoints(context.Context) (map[string]time.Time, error) {
	return map[string]time.Time{}, nil
}

func (noState) MarkSynced(context.Context, []string, time.Time) error { return nil }

func (noState) Forget(context.Context, []string) error { return nil }

func (noState) RecordRun(context.Context, statedb.Run) error { return nil }

// recentRuns lists the last n runs, none when there is no sync state yet.
func (s *session) recentRuns(ctx context.Context, n int) ([]statedb.Run, error) {
	if s.state == nil {
		return nil, nil
	}
	return s.state.RecentRuns(ctx, n)
}

// Close releases the state database and the lock.
func (s *session) Close() {
	if s.state != nil {
		_ = s.state.Close()
	}
	if s.lock != nil {
		_ = s.lock.Release()
	}
}

// ensureIgnore keeps the lock and state database out of version control.
func ensureIgnore(dir string) error {
	path := filepath.Join(dir, ignoreName)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	content := "# local sync state\n" + lockName + "\n.state.db*\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// findIssue returns the beads issue with id.
func findIssue(cfg *config.Config, id string) (*types.Issue, error) {
	issues, err := beads.LoadLog(cfg.BeadsLog())
	var lerr *beads.LogError
	if err != nil && !errors.As(err, &lerr) {
		return nil, err
	}
	for _, issue := range issues {
		if issue.ID == id {
			return issue, nil
		}
	}
	return nil, fmt.Errorf("issue %s not found in %s", id, cfg.BeadsLog())
}

// readIssueFile parses one markdown issue file.
func readIssueFile(path string) (*types.Issue, error) {
	data, err := os.ReadFile(path) // #nosec G304 - user supplied issue file
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	issue, err := frontmatter.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return issue, nil
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
