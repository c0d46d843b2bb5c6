package sync

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mschirtzinger/todosync/internal/beads"
	"github.com/Mschirtzinger/todosync/internal/frontmatter"
	"github.com/Mschirtzinger/todosync/internal/statedb"
	"github.com/Mschirtzinger/todosync/internal/types"
)

var (
	t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t0.Add(2 * time.Hour)
)

func issue(id, title string, updated time.Time) *types.Issue {
	return &types.Issue{
		ID:        id,
		Title:     title,
		Status:    types.StatusOpen,
		Type:      types.TypeTask,
		Priority:  2,
		CreatedAt: types.FormatTime(t0),
		UpdatedAt: types.FormatTime(updated),
	}
}

type fakeBackend struct {
	calls []string
	fail  map[string]error // "op id" -> error
}

func (b *fakeBackend) do(op, id string) error {
	b.calls = append(b.calls, op+" "+id)
	return b.fail[op+" "+id]
}

func (b *fakeBackend) Create(_ context.Context, issue *types.Issue) error {
	return b.do("create", issue.ID)
}

func (b *fakeBackend) Update(_ context.Context, id string, _ beads.Patch) error {
	return b.do("update", id)
}

func (b *fakeBackend) Close(_ context.Context, id string) error { return b.do("close", id) }

func (b *fakeBackend) Delete(_ context.Context, id string) error { return b.do("delete", id) }

type fakeFiles struct {
	issues  []*types.Issue
	loadErr error
	written []string
	removed []string
}

func (f *fakeFiles) LoadIssues(context.Context) ([]*types.Issue, error) {
	return f.issues, f.loadErr
}

func (f *fakeFiles) WriteIssues(_ context.Context, issues []*types.Issue) (*frontmatter.WriteResult, error) {
	res := &frontmatter.WriteResult{Written: map[string]string{}, Errors: map[string]error{}}
	for _, issue := range issues {
		p := "/todo/" + issue.ID + ".md"
		f.written = append(f.written, issue.ID)
		res.Paths = append(res.Paths, p)
		res.Written[issue.ID] = p
	}
	return res, nil
}

func (f *fakeFiles) RemoveIssue(_ context.Context, id string) error {
	f.removed = append(f.removed, id)
	return nil
}

type fakeBeads []*types.Issue

func (b fakeBeads) LoadIssues(context.Context) ([]*types.Issue, error) { return b, nil }

type fakeState struct {
	points map[string]time.Time
	marked []string
	forgot []string
	runs   []statedb.Run
}

func (s *fakeState) SyncPoints(context.Context) (map[string]time.Time, error) {
	return s.points, nil
}

func (s *fakeState) MarkSynced(_ context.Context, ids []string, _ time.Time) error {
	s.marked = append(s.marked, ids...)
	return nil
}

func (s *fakeState) Forget(_ context.Context, ids []string) error {
	s.forgot = append(s.forgot, ids...)
	return nil
}

func (s *fakeState) RecordRun(_ context.Context, run statedb.Run) error {
	s.runs = append(s.runs, run)
	return nil
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newSyncer(t *testing.T, b fakeBeads, files *fakeFiles, backend *fakeBackend, state StateStore) *Syncer {
	t.Helper()
	cfg := Config{Files: files, Beads: b, Backend: backend, Logger: quietLogger(), Now: func() time.Time { return t2 }}
	if state != nil {
		cfg.State = state
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func TestDetectChanges(t *testing.T) {
	decorated := issue("t-3", "Same", t1)
	decorated.Description = "# Same\n\nBody\n"
	plain := issue("t-3", "Same", t0)
	plain.Description = "Body"

	newerFile := issue("t-4", "Edited in file", t2)
	olderBeads := issue("t-4", "Original", t1)

	beadsSide := []*types.Issue{issue("t-1", "Only beads", t0), plain, olderBeads}
	fileSide := []*types.Issue{issue("t-2", "Only file", t0), decorated, newerFile}

	cs := DetectChanges(beadsSide, fileSide, DetectOptions{})

	assert.Equal(t, []string{"t-1"}, cs.DeletedFiles)
	assert.Equal(t, []string{"t-2"}, cs.DeletedFromBeads)
	assert.Equal(t, []string{"t-3"}, cs.Unchanged)
	require.Len(t, cs.ToBeads, 2)
	assert.Equal(t, "t-2", cs.ToBeads[0].ID)
	assert.Equal(t, "Edited in file", cs.ToBeads[1].Title)
	require.Len(t, cs.ToFiles, 1)
	assert.Equal(t, "t-1", cs.ToFiles[0].ID)
	assert.Empty(t, cs.Conflicts)
	assert.False(t, cs.Empty())
}

func TestDetectChanges_Ties(t *testing.T) {
	b := []*types.Issue{issue("t-1", "Beads title", t1)}
	f := []*types.Issue{issue("t-1", "File title", t1)}

	cs := DetectChanges(b, f, DetectOptions{})
	require.Len(t, cs.ToFiles, 1, "beads wins ties by default")
	assert.Empty(t, cs.ToBeads)

	cs = DetectChanges(b, f, DetectOptions{Strategy: StrategyFiles})
	require.Len(t, cs.ToBeads, 1)
	assert.Empty(t, cs.ToFiles)
}

func TestDetectChanges_SyncPoints(t *testing.T) {
	points := map[string]time.Time{"t-1": t0, "t-2": t0}

	// t-1: file edited but kept its stale timestamp, beads untouched
	// t-2: both edited since t0
	b := []*types.Issue{issue("t-1", "Same", t0), issue("t-2", "Beads edit", t1)}
	f := []*types.Issue{issue("t-1", "File edit", t0), issue("t-2", "File edit", t2)}

	cs := DetectChanges(b, f, DetectOptions{LastSynced: points})
	require.Len(t, cs.ToBeads, 1)
	assert.Equal(t, "t-1", cs.ToBeads[0].ID)
	require.Len(t, cs.Conflicts, 1)
	assert.Equal(t, "t-2", cs.Conflicts[0].ID)
	assert.Equal(t, SideBeads, cs.Conflicts[0].Winner)

	cs = DetectChanges(b, f, DetectOptions{LastSynced: points, Strategy: StrategyNewest})
	require.Len(t, cs.Conflicts, 1)
	assert.Equal(t, SideFiles, cs.Conflicts[0].Winner)
}

func TestParseOptions(t *testing.T) {
	d, err := ParseDirection("")
	require.NoError(t, err)
	assert.Equal(t, Bidirectional, d)
	_, err = ParseDirection("sideways")
	assert.Error(t, err)

	st, err := ParseConflictStrategy("newest")
	require.NoError(t, err)
	assert.Equal(t, StrategyNewest, st)
	_, err = ParseConflictStrategy("loudest")
	assert.Error(t, err)
}

func TestSync_DeletionOptIn(t *testing.T) {
	ctx := context.Background()
	b := fakeBeads{issue("t-1", "Only in beads", t0)}

	files := &fakeFiles{}
	backend := &fakeBackend{}
	res, err := newSyncer(t, b, files, backend, nil).Sync(ctx, Options{Direction: FilesToBeads})
	require.NoError(t, err)
	assert.Equal(t, []string{"t-1"}, files.written, "default options recreate the file")
	assert.Empty(t, backend.calls)
	assert.Empty(t, res.Deleted)
	assert.Equal(t, []string{"t-1"}, res.FilesWritten)

	files = &fakeFiles{}
	backend = &fakeBackend{}
	res, err = newSyncer(t, b, files, backend, nil).Sync(ctx, Options{Direction: FilesToBeads, HandleDeletions: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"delete t-1"}, backend.calls)
	assert.Empty(t, files.written)
	assert.Equal(t, []string{"t-1"}, res.Deleted)
}

func TestSync_DryRun(t *testing.T) {
	ctx := context.Background()
	b := fakeBeads{issue("t-1", "File was deleted", t0), issue("t-3", "Beads edit", t1)}
	files := &fakeFiles{issues: []*types.Issue{issue("t-2", "Beads was deleted", t0), issue("t-3", "Old", t0)}}
	backend := &fakeBackend{}
	state := &fakeState{points: map[string]time.Time{"t-1": t0, "t-2": t0, "t-3": t0}}

	res, err := newSyncer(t, b, files, backend, state).Sync(ctx, Options{DryRun: true, HandleDeletions: true})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"t-1", "t-2"}, res.Deleted)
	assert.Equal(t, []string{"t-3"}, res.FilesWritten)
	assert.True(t, res.DryRun)
	assert.True(t, res.Changed())

	assert.Empty(t, backend.calls)
	assert.Empty(t, files.written)
	assert.Empty(t, files.removed)
	assert.Empty(t, state.marked)
	assert.Empty(t, state.runs)
}

func TestSync_Bidirectional(t *testing.T) {
	ctx := context.Background()
	b := fakeBeads{issue("t-1", "Beads only", t0), issue("t-3", "Old title", t0)}
	files := &fakeFiles{issues: []*types.Issue{issue("t-2", "File only", t0), issue("t-3", "New title", t1)}}
	backend := &fakeBackend{}

	res, err := newSyncer(t, b, files, backend, nil).Sync(ctx, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"create t-2", "update t-3"}, backend.calls)
	assert.Equal(t, []string{"t-1"}, files.written)
	assert.Equal(t, []string{"t-2"}, res.Created)
	assert.Equal(t, []string{"t-3"}, res.Updated)
	assert.Equal(t, []string{"/todo/t-1.md"}, res.Paths)
	assert.NoError(t, res.Err())
}

func TestSync_BeadsToFilesOverridesFileEdits(t *testing.T) {
	b := fakeBeads{issue("t-1", "Beads", t0)}
	files := &fakeFiles{issues: []*types.Issue{issue("t-1", "Newer file", t2), issue("t-2", "File only", t0)}}
	backend := &fakeBackend{}

	res, err := newSyncer(t, b, files, backend, nil).Sync(context.Background(), Options{Direction: BeadsToFiles})
	require.NoError(t, err)
	assert.Equal(t, []string{"t-1"}, files.written)
	assert.Equal(t, []string{"create t-2"}, backend.calls, "file-only issues are still copied")
	assert.Equal(t, []string{"t-2"}, res.Created)
}

func TestSync_CloseGoesThroughClose(t *testing.T) {
	closed := issue("t-1", "Task", t1)
	closed.Status = types.StatusClosed
	retitled := issue("t-2", "Renamed", t1)
	retitled.Status = types.StatusClosed

	b := fakeBeads{issue("t-1", "Task", t0), issue("t-2", "Task", t0)}
	files := &fakeFiles{issues: []*types.Issue{closed, retitled}}
	backend := &fakeBackend{}

	_, err := newSyncer(t, b, files, backend, nil).Sync(context.Background(), Options{Direction: FilesToBeads})
	require.NoError(t, err)
	assert.Equal(t, []string{"close t-1", "update t-2", "close t-2"}, backend.calls)
}

func TestSync_ItemErrorsAreIsolated(t *testing.T) {
	files := &fakeFiles{issues: []*types.Issue{issue("t-1", "A", t0), issue("t-2", "B", t0)}}
	backend := &fakeBackend{fail: map[string]error{"create t-1": errors.New("boom")}}
	state := &fakeState{points: map[string]time.Time{}}

	res, err := newSyncer(t, nil, files, backend, state).Sync(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"create t-1", "create t-2"}, backend.calls)
	assert.Equal(t, []string{"t-2"}, res.Created)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "t-1", res.Errors[0].ID)
	assert.Equal(t, ActionCreate, res.Errors[0].Kind)
	assert.ErrorContains(t, res.Err(), "boom")

	assert.Equal(t, []string{"t-2"}, state.marked, "failed ids get no sync point")
	require.Len(t, state.runs, 1)
	assert.Equal(t, 1, state.runs[0].Errors)
	assert.Equal(t, 1, state.runs[0].Created)
}

func TestSync_NewIssuesAreNeverDeleted(t *testing.T) {
	b := fakeBeads{issue("t-1", "New in beads", t0), issue("t-9", "Synced before", t0)}
	files := &fakeFiles{issues: []*types.Issue{issue("t-2", "New file", t0)}}
	backend := &fakeBackend{}
	state := &fakeState{points: map[string]time.Time{"t-9": t0}}

	res, err := newSyncer(t, b, files, backend, state).Sync(context.Background(), Options{HandleDeletions: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"create t-2", "delete t-9"}, backend.calls)
	assert.Equal(t, []string{"t-1"}, files.written)
	assert.Equal(t, []string{"t-9"}, res.Deleted)
	assert.Equal(t, []string{"t-9"}, state.forgot)
	assert.ElementsMatch(t, []string{"t-1", "t-2"}, state.marked)
}

func TestSync_UnreadableFilesAreSkipped(t *testing.T) {
	loadErr := &frontmatter.LoadError{Files: []*frontmatter.FileError{
		{Path: "/todo/t-2.md", ID: "t-2", Err: errors.New("bad yaml")},
	}}
	b := fakeBeads{issue("t-1", "A", t0), issue("t-2", "B", t0)}
	files := &fakeFiles{issues: []*types.Issue{issue("t-1", "A", t0)}, loadErr: loadErr}
	backend := &fakeBackend{}

	res, err := newSyncer(t, b, files, backend, nil).Sync(context.Background(), Options{HandleDeletions: true})
	require.NoError(t, err)
	assert.Empty(t, backend.calls)
	assert.Empty(t, files.written)
	assert.Equal(t, []string{"t-2"}, res.Skipped)
	assert.False(t, res.Changed())
}

func TestSync_UnreadableBeadsLinesAreSkipped(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	logPath := beads.LogPath(root)
	require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0755))
	require.NoError(t, os.WriteFile(logPath, []byte(
		`{"id":"bd-1","title":"Fine","status":"open","priority":1,"updated_at":"2025-03-01T09:00:00Z"}`+"\n"+
			`{"id":"bd-2","title":"Fraction","status":"open","priority":2.5,"updated_at":"2025-03-01T09:00:00Z"}`+"\n"+
			`{"id":"bd-3","title":["not","a","string"]}`+"\n"), 0644))
	todoDir := filepath.Join(root, ".todo")
	require.NoError(t, os.MkdirAll(todoDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(todoDir, "bd-3.md"), []byte("---\nid: bd-3\ntitle: Local\n---\n"), 0644))

	dir := frontmatter.NewDir(todoDir, frontmatter.WriteOptions{}, quietLogger())
	s, err := New(Config{
		Files:   dir,
		Beads:   beads.Log{Path: logPath},
		Backend: beads.NewJSONLBackend(logPath, beads.JSONLConfig{Logger: quietLogger()}),
		Logger:  quietLogger(),
	})
	require.NoError(t, err)

	res, err := s.Sync(ctx, Options{HandleDeletions: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bd-1", "bd-2"}, res.FilesWritten)
	assert.Equal(t, []string{"bd-3"}, res.Skipped)
	assert.Empty(t, res.Created)
	assert.Empty(t, res.Errors)
	assert.FileExists(t, filepath.Join(todoDir, "bd-3.md"))

	p, ok := dir.Path("bd-2")
	require.True(t, ok)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	written, err := frontmatter.Parse(string(data))
	require.NoError(t, err)
	assert.Equal(t, 2, written.Priority)
}

func TestSync_LoadFailureAborts(t *testing.T) {
	files := &fakeFiles{loadErr: errors.New("disk gone")}
	_, err := newSyncer(t, nil, files, &fakeBackend{}, nil).Sync(context.Background(), Options{})
	assert.ErrorContains(t, err, "disk gone")
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{Files: &fakeFiles{}, Beads: fakeBeads{}, Backend: &fakeBackend{}, Strategy: "loudest"})
	assert.Error(t, err)
}

func TestSync_EndToEnd(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	logPath := beads.LogPath(root)
	require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0755))
	require.NoError(t, os.WriteFile(logPath, []byte(
		`{"id":"bd-1","title":"Write docs","description":"All of them","status":"open","issue_type":"task","priority":1,"created_at":"2025-03-01T09:00:00Z","updated_at":"2025-03-01T09:00:00Z"}`+"\n"), 0644))

	dir := frontmatter.NewDir(filepath.Join(root, ".todo"), frontmatter.WriteOptions{}, quietLogger())
	s, err := New(Config{
		Files:   dir,
		Beads:   beads.Log{Path: logPath},
		Backend: beads.NewJSONLBackend(logPath, beads.JSONLConfig{Logger: quietLogger()}),
		Logger:  quietLogger(),
	})
	require.NoError(t, err)

	res, err := s.Sync(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"bd-1"}, res.FilesWritten)
	p, ok := dir.Path("bd-1")
	require.True(t, ok)
	assert.FileExists(t, p)

	res, err = s.Sync(ctx, Options{})
	require.NoError(t, err)
	assert.False(t, res.Changed(), "second run finds nothing to do")

	require.NoError(t, os.WriteFile(filepath.Join(root, ".todo", "bd-2-new.md"),
		[]byte("---\nid: bd-2\ntitle: New from file\n---\nBody\n"), 0644))
	res, err = s.Sync(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"bd-2"}, res.Created)

	issues, err := beads.LoadLog(logPath)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "New from file", issues[1].Title)
	assert.Equal(t, "Body", issues[1].Description)
}
