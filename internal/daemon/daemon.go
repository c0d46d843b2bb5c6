// Package daemon runs syncs whenever the issue tree or the beads log
// changes.
//
// The daemon:
//  1. Runs one sync on startup
//  2. Watches the Markdown tree and the beads directory
//  3. Waits for a quiet period after the last change, then syncs again
//  4. Reports every run to its listeners
//
// Runs never overlap; they all happen on the daemon's own goroutine. The
// files a sync writes trigger one more run, which finds nothing to do.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	todosync "github.com/Mschirtzinger/todosync/internal/sync"
)

// Runner performs one sync. *sync.Syncer implements it.
type Runner interface {
	Sync(ctx context.Context, opts todosync.Options) (*todosync.Result, error)
}

// Report describes one finished run.
type Report struct {
	// Trigger lists the changed paths that caused the run; empty for the
	// startup run.
	Trigger []string
	Result  *todosync.Result
	Err     error
}

// Listener is told about every run.
type Listener func(Report)

// Config holds configuration for the daemon.
type Config struct {
	// Debounce is the quiet period after the last change before a sync runs.
	Debounce time.Duration

	// Options are passed to every sync.
	Options todosync.Options

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce: 500 * time.Millisecond,
		Logger:   log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon ties a FileWatcher to a Runner.
type Daemon struct {
	runner  Runner
	watcher *FileWatcher
	config  *Config

	mu        sync.Mutex
	listeners []Listener
	runs      int
}

// New creates a daemon watching issueRoot and the log logName in beadsDir.
func New(runner Runner, issueRoot, beadsDir, logName string, config *Config) (*Daemon, error) {
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	if issueRoot == "" {
		return nil, errors.New("issue root cannot be empty")
	}
	if beadsDir == "" {
		return nil, errors.New("beads directory cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}

	watcher, err := NewFileWatcher(issueRoot, beadsDir, logName)
	if err != nil {
		return nil, err
	}
	return &Daemon{runner: runner, watcher: watcher, config: config}, nil
}

// AddListener registers l for every later run.
func (d *Daemon) AddListener(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Runs returns how many syncs have finished.
func (d *Daemon) Runs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs
}

// Start syncs once, then watches until ctx is cancelled. It returns nil on
// cancellation; a failed startup sync is reported, not fatal.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	d.runOnce(ctx, nil)

	if err := d.watcher.Start(); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer func() {
		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
		d.config.Logger.Println("Daemon stopped")
	}()
	d.config.Logger.Printf("Watching: %s, %s", d.watcher.issueRoot, d.watcher.beadsDir)

	pending := make(map[string]bool)
	timer := time.NewTimer(d.config.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.config.Logger.Println("Shutdown signal received")
			return nil

		case event, ok := <-d.watcher.Events():
			if !ok {
				return nil
			}
			d.config.Logger.Printf("File event: %s %s %s", event.Kind, event.Op, event.Path)
			pending[event.Path] = true
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.config.Debounce)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return nil
			}
			d.config.Logger.Printf("Watcher error: %v", err)

		case <-timer.C:
			trigger := make([]string, 0, len(pending))
			for p := range pending {
				trigger = append(trigger, p)
			}
			sort.Strings(trigger)
			pending = make(map[string]bool)
			d.runOnce(ctx, trigger)
		}
	}
}

func (d *Daemon) runOnce(ctx context.Context, trigger []string) {
	if len(trigger) > 0 {
		d.config.Logger.Printf("Syncing after %d change(s)", len(trigger))
	}
	res, err := d.runner.Sync(ctx, d.config.Options)
	switch {
	case err != nil:
		d.config.Logger.Printf("Error: sync failed: %v", err)
	case res.Err() != nil:
		d.config.Logger.Printf("Warning: sync finished with %d error(s)", len(res.Errors))
	}

	d.mu.Lock()
	d.runs++
	listeners := append([]Listener(nil), d.listeners...)
	d.mu.Unlock()

	report := Report{Trigger: trigger, Result: res, Err: err}
	for _, l := range listeners {
		l(report)
	}
}
