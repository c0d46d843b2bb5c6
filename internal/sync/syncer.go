package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/Mschirtzinger/todosync/internal/beads"
	"github.com/Mschirtzinger/todosync/internal/frontmatter"
	"github.com/Mschirtzinger/todosync/internal/statedb"
	"github.com/Mschirtzinger/todosync/internal/types"
)

// Direction selects which side is authoritative.
type Direction string

const (
	BeadsToFiles  Direction = "beads-to-files"
	FilesToBeads  Direction = "files-to-beads"
	Bidirectional Direction = "bidirectional"
)

// ParseDirection validates s. Empty means Bidirectional.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case "":
		return Bidirectional, nil
	case BeadsToFiles, FilesToBeads, Bidirectional:
		return d, nil
	default:
		return "", fmt.Errorf("invalid direction %q (want beads-to-files, files-to-beads or bidirectional)", s)
	}
}

// Options controls a single run.
type Options struct {
	Direction Direction
	// HandleDeletions deletes issues missing on one side from the other
	// instead of recreating them.
	HandleDeletions bool
	// DryRun computes the full result without touching either side.
	DryRun bool
}

// ActionKind names a mutation.
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
	ActionDelete ActionKind = "delete"
	ActionWrite  ActionKind = "write"
	ActionRemove ActionKind = "remove"
)

// Action is one planned or applied mutation.
type Action struct {
	ID     string     `json:"id"`
	Kind   ActionKind `json:"kind"`
	Target Side       `json:"target"`
	Path   string     `json:"path,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// ItemError is a failure confined to one issue.
type ItemError struct {
	ID   string
	Kind ActionKind
	Err  error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Result summarizes a run. In a dry run it describes what would happen.
type Result struct {
	Direction Direction `json:"direction"`
	DryRun    bool      `json:"dryRun"`
	// Created and Updated list ids created or updated in beads.
	Created []string `json:"created"`
	Updated []string `json:"updated"`
	// Deleted lists ids deleted from either side.
	Deleted []string `json:"deleted"`
	// FilesWritten lists ids written as files.
	FilesWritten []string   `json:"filesWritten"`
	Conflicts    []Conflict `json:"conflicts"`
	// Skipped lists ids left alone because their file or beads record failed
	// to load.
	Skipped []string `json:"skipped"`
	Actions []Action `json:"actions"`
	// Paths lists files written or removed, for committing.
	Paths      []string     `json:"paths,omitempty"`
	Errors     []*ItemError `json:"-"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
}

// Err joins the per-item errors, or returns nil.
func (r *Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Changed reports whether the run touched (or would touch) anything.
func (r *Result) Changed() bool {
	return len(r.Created)+len(r.Updated)+len(r.Deleted)+len(r.FilesWritten) > 0
}

// Config wires a Syncer.
type Config struct {
	Files   FileStore
	Beads   BeadsSource
	Backend beads.Backend
	// State is optional.
	State    StateStore
	Strategy ConflictStrategy
	Logger   *log.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Syncer runs syncs between a FileStore and beads.
type Syncer struct {
	files    FileStore
	beads    BeadsSource
	backend  beads.Backend
	state    StateStore
	strategy ConflictStrategy
	logger   *log.Logger
	now      func() time.Time
}

// New validates cfg and returns a Syncer.
func New(cfg Config) (*Syncer, error) {
	if cfg.Files == nil {
		return nil, errors.New("sync: file store is required")
	}
	if cfg.Beads == nil {
		return nil, errors.New("sync: beads source is required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("sync: beads backend is required")
	}
	strategy, err := ParseConflictStrategy(string(cfg.Strategy))
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Syncer{
		files:    cfg.Files,
		beads:    cfg.Beads,
		backend:  cfg.Backend,
		state:    cfg.State,
		strategy: strategy,
		logger:   logger,
		now:      now,
	}, nil
}

// update is a beads issue to bring in line with its file.
type update struct {
	from *types.Issue
	to   *types.Issue
}

// work is everything a run will do, in execution order.
type work struct {
	creates      []*types.Issue
	updates      []update
	beadsDeletes []string
	writes       []*types.Issue
	removes      []string
}

// DetectChanges loads both sides and compares them without changing
// anything.
func (s *Syncer) DetectChanges(ctx context.Context) (*ChangeSet, error) {
	beadsIssues, fileIssues, _, points, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return DetectChanges(beadsIssues, fileIssues, DetectOptions{LastSynced: points, Strategy: s.strategy}), nil
}

// Sync runs one sync. The returned error is set only when a side could not
// be loaded; per-issue failures are in Result.Errors.
func (s *Syncer) Sync(ctx context.Context, opts Options) (*Result, error) {
	dir, err := ParseDirection(string(opts.Direction))
	if err != nil {
		return nil, err
	}
	res := &Result{Direction: dir, DryRun: opts.DryRun, StartedAt: s.now()}

	beadsIssues, fileIssues, protected, points, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	cs := DetectChanges(beadsIssues, fileIssues, DetectOptions{LastSynced: points, Strategy: s.strategy})
	res.Conflicts = cs.Conflicts
	for id := range protected {
		res.Skipped = append(res.Skipped, id)
	}
	sort.Strings(res.Skipped)

	isNew := func(id string) bool {
		if s.state == nil {
			return false
		}
		_, seen := points[id]
		return !seen
	}
	w := plan(cs, dir, opts.HandleDeletions, index(beadsIssues), index(fileIssues), protected, isNew)

	if opts.DryRun {
		s.preview(res, w)
	} else {
		s.apply(ctx, res, w)
	}
	res.FinishedAt = s.now()

	if !opts.DryRun && s.state != nil {
		s.record(ctx, res, beadsIssues, fileIssues, protected)
	}
	s.logger.Printf("Sync %s finished: %d created, %d updated, %d deleted, %d files written, %d conflicts, %d errors",
		dir, len(res.Created), len(res.Updated), len(res.Deleted), len(res.FilesWritten), len(res.Conflicts), len(res.Errors))
	return res, nil
}

func (s *Syncer) load(ctx context.Context) (beadsIssues, fileIssues []*types.Issue, protected map[string]bool, points map[string]time.Time, err error) {
	protected = make(map[string]bool)
	beadsIssues, err = s.beads.LoadIssues(ctx)
	if err != nil {
		var lerr *beads.LogError
		if !errors.As(err, &lerr) {
			return nil, nil, nil, nil, fmt.Errorf("failed to load beads issues: %w", err)
		}
		for _, id := range lerr.IDs() {
			protected[id] = true
		}
		for _, l := range lerr.Lines {
			s.logger.Printf("Warning: skipping beads %v", l)
		}
	}

	fileIssues, err = s.files.LoadIssues(ctx)
	if err != nil {
		var lerr *frontmatter.LoadError
		if !errors.As(err, &lerr) {
			return nil, nil, nil, nil, fmt.Errorf("failed to load issue files: %w", err)
		}
		for _, id := range lerr.IDs() {
			protected[id] = true
		}
		s.logger.Printf("Warning: %d issue files could not be read and are skipped this run", len(lerr.Files))
	}

	if s.state != nil {
		points, err = s.state.SyncPoints(ctx)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to load sync points: %w", err)
		}
	}
	return beadsIssues, fileIssues, protected, points, nil
}

// plan turns a change set into work for the given direction.
func plan(cs *ChangeSet, dir Direction, handleDeletions bool, beadsByID, filesByID map[string]*types.Issue, protected map[string]bool, isNew func(string) bool) *work {
	w := &work{}
	beadsOnly := toSet(cs.DeletedFiles)
	filesOnly := toSet(cs.DeletedFromBeads)

	fromFile := func(id string) {
		w.updates = append(w.updates, update{from: beadsByID[id], to: filesByID[id]})
	}

	for _, issue := range cs.ToFiles {
		id := issue.ID
		if protected[id] {
			continue
		}
		switch {
		case beadsOnly[id]:
			if handleDeletions && dir != BeadsToFiles && !isNew(id) {
				w.beadsDeletes = append(w.beadsDeletes, id)
			} else {
				w.writes = append(w.writes, issue)
			}
		case dir == FilesToBeads:
			fromFile(id)
		default:
			w.writes = append(w.writes, issue)
		}
	}

	for _, issue := range cs.ToBeads {
		id := issue.ID
		if protected[id] {
			continue
		}
		switch {
		case filesOnly[id]:
			if handleDeletions && dir != FilesToBeads && !isNew(id) {
				w.removes = append(w.removes, id)
			} else {
				w.creates = append(w.creates, issue)
			}
		case dir == BeadsToFiles:
			w.writes = append(w.writes, beadsByID[id])
		default:
			fromFile(id)
		}
	}

	for _, c := range cs.Conflicts {
		if protected[c.ID] {
			continue
		}
		winner := c.Winner
		switch dir {
		case BeadsToFiles:
			winner = SideBeads
		case FilesToBeads:
			winner = SideFiles
		}
		if winner == SideFiles {
			fromFile(c.ID)
		} else {
			w.writes = append(w.writes, c.Beads)
		}
	}

	sort.Slice(w.updates, func(i, j int) bool { return w.updates[i].to.ID < w.updates[j].to.ID })
	sort.Slice(w.writes, func(i, j int) bool { return w.writes[i].ID < w.writes[j].ID })
	return w
}

// preview fills res with the work as if it had succeeded.
func (s *Syncer) preview(res *Result, w *work) {
	for _, issue := range w.creates {
		res.Created = append(res.Created, issue.ID)
		res.Actions = append(res.Actions, Action{ID: issue.ID, Kind: ActionCreate, Target: SideBeads})
	}
	for _, u := range w.updates {
		res.Updated = append(res.Updated, u.to.ID)
		res.Actions = append(res.Actions, Action{ID: u.to.ID, Kind: ActionUpdate, Target: SideBeads})
	}
	for _, id := range w.beadsDeletes {
		res.Deleted = append(res.Deleted, id)
		res.Actions = append(res.Actions, Action{ID: id, Kind: ActionDelete, Target: SideBeads})
	}
	for _, issue := range w.writes {
		res.FilesWritten = append(res.FilesWritten, issue.ID)
		res.Actions = append(res.Actions, Action{ID: issue.ID, Kind: ActionWrite, Target: SideFiles})
	}
	for _, id := range w.removes {
		res.Deleted = append(res.Deleted, id)
		res.Actions = append(res.Actions, Action{ID: id, Kind: ActionRemove, Target: SideFiles})
	}
}

// apply performs the work. Each step stands alone.
func (s *Syncer) apply(ctx context.Context, res *Result, w *work) {
	fail := func(id string, kind ActionKind, target Side, err error) {
		s.logger.Printf("Warning: failed to %s %s in %s: %v", kind, id, target, err)
		res.Errors = append(res.Errors, &ItemError{ID: id, Kind: kind, Err: err})
		res.Actions = append(res.Actions, Action{ID: id, Kind: kind, Target: target, Error: err.Error()})
	}
	done := func(id string, kind ActionKind, target Side, path string) {
		res.Actions = append(res.Actions, Action{ID: id, Kind: kind, Target: target, Path: path})
	}

	for _, issue := range w.creates {
		if err := s.backend.Create(ctx, forBeads(issue)); err != nil {
			fail(issue.ID, ActionCreate, SideBeads, err)
			continue
		}
		s.logger.Printf("Created %s in beads", issue.ID)
		res.Created = append(res.Created, issue.ID)
		done(issue.ID, ActionCreate, SideBeads, "")
	}

	for _, u := range w.updates {
		id := u.to.ID
		if err := s.updateBeads(ctx, u); err != nil {
			fail(id, ActionUpdate, SideBeads, err)
			continue
		}
		s.logger.Printf("Updated %s in beads", id)
		res.Updated = append(res.Updated, id)
		done(id, ActionUpdate, SideBeads, "")
	}

	for _, id := range w.beadsDeletes {
		if err := s.backend.Delete(ctx, id); err != nil {
			fail(id, ActionDelete, SideBeads, err)
			continue
		}
		s.logger.Printf("Deleted %s from beads", id)
		res.Deleted = append(res.Deleted, id)
		done(id, ActionDelete, SideBeads, "")
	}

	if len(w.writes) > 0 {
		s.writeFiles(ctx, res, w.writes, fail, done)
	}

	for _, id := range w.removes {
		path := s.filePath(id)
		if err := s.files.RemoveIssue(ctx, id); err != nil {
			fail(id, ActionRemove, SideFiles, err)
			continue
		}
		s.logger.Printf("Removed file of %s", id)
		res.Deleted = append(res.Deleted, id)
		if path != "" {
			res.Paths = append(res.Paths, path)
		}
		done(id, ActionRemove, SideFiles, path)
	}
}

func (s *Syncer) writeFiles(ctx context.Context, res *Result, issues []*types.Issue,
	fail func(string, ActionKind, Side, error), done func(string, ActionKind, Side, string)) {
	wr, err := s.files.WriteIssues(ctx, issues)
	if err != nil {
		// nothing was written
		for _, issue := range issues {
			fail(issue.ID, ActionWrite, SideFiles, err)
		}
		return
	}
	for _, issue := range issues {
		if werr, bad := wr.Errors[issue.ID]; bad {
			fail(issue.ID, ActionWrite, SideFiles, werr)
			continue
		}
		p := wr.Written[issue.ID]
		res.FilesWritten = append(res.FilesWritten, issue.ID)
		done(issue.ID, ActionWrite, SideFiles, p)
	}
	res.Paths = append(res.Paths, wr.Paths...)
	res.Paths = append(res.Paths, wr.Removed...)
}

// filePath is the current file of id when the store can tell.
func (s *Syncer) filePath(id string) string {
	if pf, ok := s.files.(interface{ Path(string) (string, bool) }); ok {
		if p, ok := pf.Path(id); ok {
			return p
		}
	}
	return ""
}

// updateBeads brings the beads issue in line with the file. Closing goes
// through Close so the backend stamps closed_at.
func (s *Syncer) updateBeads(ctx context.Context, u update) error {
	patch := beads.NewPatch(u.from, forBeads(u.to))
	closes := patch.Closes()
	if closes {
		patch.Status = nil
	}
	if !patch.IsEmpty() {
		if err := s.backend.Update(ctx, u.to.ID, patch); err != nil {
			return err
		}
	}
	if closes {
		if err := s.backend.Close(ctx, u.to.ID); err != nil {
			return fmt.Errorf("failed to close: %w", err)
		}
	}
	return nil
}

// record stores sync points for every id both sides now agree on, and the
// run itself. Failures here are logged, the run already happened.
func (s *Syncer) record(ctx context.Context, res *Result, beadsIssues, fileIssues []*types.Issue, protected map[string]bool) {
	skip := make(map[string]bool, len(res.Errors)+len(res.Deleted))
	for _, e := range res.Errors {
		skip[e.ID] = true
	}
	for _, id := range res.Deleted {
		skip[id] = true
	}
	var synced []string
	for _, id := range sortedIDs(index(beadsIssues), index(fileIssues)) {
		if !skip[id] && !protected[id] {
			synced = append(synced, id)
		}
	}

	// taken after every mutation so backend timestamps are not newer
	at := s.now()
	if err := s.state.MarkSynced(ctx, synced, at); err != nil {
		s.logger.Printf("Warning: failed to record sync points: %v", err)
	}
	if len(res.Deleted) > 0 {
		if err := s.state.Forget(ctx, res.Deleted); err != nil {
			s.logger.Printf("Warning: failed to forget deleted issues: %v", err)
		}
	}
	run := statedb.Run{
		StartedAt:    res.StartedAt,
		FinishedAt:   res.FinishedAt,
		Direction:    string(res.Direction),
		DryRun:       res.DryRun,
		Created:      len(res.Created),
		Updated:      len(res.Updated),
		Deleted:      len(res.Deleted),
		FilesWritten: len(res.FilesWritten),
		Conflicts:    len(res.Conflicts),
		Errors:       len(res.Errors),
	}
	if err := s.state.RecordRun(ctx, run); err != nil {
		s.logger.Printf("Warning: failed to record sync run: %v", err)
	}
}

// forBeads strips file decoration before an issue goes to beads.
func forBeads(issue *types.Issue) *types.Issue {
	c := normalized(issue)
	c.Source = ""
	return c
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
