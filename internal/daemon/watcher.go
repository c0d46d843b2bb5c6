package daemon

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileKind tells which side of a sync a changed file belongs to.
type FileKind int

const (
	// KindIssueFile is a Markdown issue under the issue root.
	KindIssueFile FileKind = iota
	// KindBeadsLog is the beads issue log.
	KindBeadsLog
)

func (k FileKind) String() string {
	switch k {
	case KindIssueFile:
		return "issue"
	case KindBeadsLog:
		return "beads"
	default:
		return "unknown"
	}
}

// FileEvent is a change to a file the daemon cares about.
type FileEvent struct {
	Path string
	Kind FileKind
	Op   EventOp
}

// FileWatcher watches the issue tree (recursively) and the beads directory.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	issueRoot string
	beadsDir  string
	logName   string
}

// NewFileWatcher creates a watcher for Markdown files under issueRoot and
// the log named logName inside beadsDir. Start it with Start.
func NewFileWatcher(issueRoot, beadsDir, logName string) (*FileWatcher, error) {
	root, err := filepath.Abs(issueRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", issueRoot, err)
	}
	bdir, err := filepath.Abs(beadsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", beadsDir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher:   watcher,
		events:    make(chan FileEvent, 100),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
		issueRoot: root,
		beadsDir:  bdir,
		logName:   logName,
	}, nil
}

// Start begins watching. Both directories are created if missing so a
// fresh project can be watched before its first sync.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	for _, dir := range []string{fw.issueRoot, fw.beadsDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := fw.addTree(fw.issueRoot); err != nil {
		return err
	}
	if err := fw.watcher.Add(fw.beadsDir); err != nil {
		return fmt.Errorf("failed to watch beads directory %s: %w", fw.beadsDir, err)
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// addTree watches dir and every non-hidden directory below it.
func (fw *FileWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

// Stop stops watching and closes the channels. It blocks until the event
// loop has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel of relevant file changes.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel of watcher errors.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			// new subdirectories of the issue tree, e.g. closed/
			if event.Has(fsnotify.Create) && fw.underIssueRoot(event.Name) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fw.addTree(event.Name); err != nil {
						fw.sendError(err)
					}
					continue
				}
			}

			if fileEvent, ok := fw.convertEvent(event); ok {
				select {
				case fw.events <- fileEvent:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.sendError(err)
		}
	}
}

func (fw *FileWatcher) sendError(err error) {
	select {
	case fw.errors <- err:
	case <-fw.done:
	}
}

// convertEvent maps an fsnotify event onto a FileEvent, or reports false
// for files the daemon ignores.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	kind, ok := fw.classify(event.Name)
	if !ok {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// the new name of a rename arrives as a create
		op = OpDelete
	default:
		return FileEvent{}, false
	}

	return FileEvent{Path: event.Name, Kind: kind, Op: op}, true
}

// classify decides whether path is an issue file or the beads log.
func (fw *FileWatcher) classify(path string) (FileKind, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, false
	}

	if filepath.Dir(abs) == fw.beadsDir && filepath.Base(abs) == fw.logName {
		return KindBeadsLog, true
	}

	if !strings.EqualFold(filepath.Ext(abs), ".md") || !fw.underIssueRoot(abs) {
		return 0, false
	}
	rel, err := filepath.Rel(fw.issueRoot, abs)
	if err != nil {
		return 0, false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		// hidden files and directories, editor swap files included
		if strings.HasPrefix(part, ".") {
			return 0, false
		}
	}
	return KindIssueFile, true
}

func (fw *FileWatcher) underIssueRoot(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(fw.issueRoot, abs)
	return err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
