package sync

import (
	"context"
	"time"

	"github.com/Mschirtzinger/todosync/internal/frontmatter"
	"github.com/Mschirtzinger/todosync/internal/statedb"
	"github.com/Mschirtzinger/todosync/internal/types"
)

// FileStore is the Markdown side of a sync.
//
// LoadIssues may return a *frontmatter.LoadError together with the issues
// that did load; the ids it names are left alone for the run.
type FileStore interface {
	LoadIssues(ctx context.Context) ([]*types.Issue, error)
	WriteIssues(ctx context.Context, issues []*types.Issue) (*frontmatter.WriteResult, error)
	RemoveIssue(ctx context.Context, id string) error
}

// BeadsSource reads the beads side of a sync.
//
// LoadIssues may return a *beads.LogError together with the issues that did
// load; the ids it names are left alone for the run.
type BeadsSource interface {
	LoadIssues(ctx context.Context) ([]*types.Issue, error)
}

// StateStore remembers when issues were last synced. It is optional; with
// one configured, an issue seen on one side only that was never synced is
// treated as new rather than deleted.
type StateStore interface {
	SyncPoints(ctx context.Context) (map[string]time.Time, error)
	MarkSynced(ctx context.Context, ids []string, at time.Time) error
	Forget(ctx context.Context, ids []string) error
	RecordRun(ctx context.Context, run statedb.Run) error
}
