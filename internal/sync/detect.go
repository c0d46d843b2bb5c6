package sync

import (
	"fmt"
	"sort"
	"time"

	"github.com/Mschirtzinger/todosync/internal/frontmatter"
	"github.com/Mschirtzinger/todosync/internal/types"
)

// Side names one end of a sync.
type Side string

const (
	SideBeads Side = "beads"
	SideFiles Side = "files"
)

// ConflictStrategy decides ties and double edits.
type ConflictStrategy string

const (
	// StrategyBeads lets beads win ties and conflicts.
	StrategyBeads ConflictStrategy = "beads"
	// StrategyFiles lets files win ties and conflicts.
	StrategyFiles ConflictStrategy = "files"
	// StrategyNewest lets the newer updatedAt win conflicts; ties go to beads.
	StrategyNewest ConflictStrategy = "newest"
)

// ParseConflictStrategy validates s. Empty means StrategyBeads.
func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	switch st := ConflictStrategy(s); st {
	case "":
		return StrategyBeads, nil
	case StrategyBeads, StrategyFiles, StrategyNewest:
		return st, nil
	default:
		return "", fmt.Errorf("invalid conflict strategy %q (want beads, files or newest)", s)
	}
}

// DetectOptions tunes DetectChanges.
type DetectOptions struct {
	// LastSynced holds the last sync time per id. Nil means unknown.
	LastSynced map[string]time.Time
	Strategy   ConflictStrategy
}

// Conflict is an issue edited on both sides since it was last synced.
type Conflict struct {
	ID     string       `json:"id"`
	Beads  *types.Issue `json:"beads"`
	File   *types.Issue `json:"file"`
	Winner Side         `json:"winner"`
}

// ChangeSet is the outcome of comparing both sides.
type ChangeSet struct {
	// ToBeads holds file versions that should be written to beads.
	ToBeads []*types.Issue
	// ToFiles holds beads versions that should be written as files.
	ToFiles []*types.Issue
	// Conflicts are double edits, kept out of ToBeads and ToFiles.
	Conflicts []Conflict
	// DeletedFiles lists ids found only in beads. They are in ToFiles too.
	DeletedFiles []string
	// DeletedFromBeads lists ids found only in files. They are in ToBeads too.
	DeletedFromBeads []string
	// Unchanged lists ids with the same content on both sides.
	Unchanged []string
}

// Empty reports whether the sides already agree.
func (c *ChangeSet) Empty() bool {
	return len(c.ToBeads) == 0 && len(c.ToFiles) == 0 && len(c.Conflicts) == 0
}

// DetectChanges compares both collections by id.
//
// An id on one side only is copied to the other and also reported as a
// possible deletion. For an id on both sides with different content the
// side with the newer updatedAt wins. With a known sync point the side that
// did not change since then loses, and an edit on both sides is a conflict.
// Ties and missing timestamps go to the strategy's side, beads by default.
func DetectChanges(beadsIssues, fileIssues []*types.Issue, opts DetectOptions) *ChangeSet {
	if opts.Strategy == "" {
		opts.Strategy = StrategyBeads
	}
	beadsByID := index(beadsIssues)
	filesByID := index(fileIssues)

	cs := &ChangeSet{}
	for _, id := range sortedIDs(beadsByID, filesByID) {
		b, inBeads := beadsByID[id]
		f, inFiles := filesByID[id]
		switch {
		case inBeads && !inFiles:
			cs.ToFiles = append(cs.ToFiles, b)
			cs.DeletedFiles = append(cs.DeletedFiles, id)
		case inFiles && !inBeads:
			cs.ToBeads = append(cs.ToBeads, f)
			cs.DeletedFromBeads = append(cs.DeletedFromBeads, id)
		case sameContent(b, f):
			cs.Unchanged = append(cs.Unchanged, id)
		default:
			point, known := opts.LastSynced[id]
			winner, conflict := decide(b, f, point, known, opts.Strategy)
			switch {
			case conflict:
				cs.Conflicts = append(cs.Conflicts, Conflict{ID: id, Beads: b, File: f, Winner: winner})
			case winner == SideFiles:
				cs.ToBeads = append(cs.ToBeads, f)
			default:
				cs.ToFiles = append(cs.ToFiles, b)
			}
		}
	}
	return cs
}

// decide picks the winning side of a differing pair.
func decide(b, f *types.Issue, point time.Time, known bool, strategy ConflictStrategy) (Side, bool) {
	bt, bok := types.ParseTime(b.UpdatedAt)
	ft, fok := types.ParseTime(f.UpdatedAt)

	if known {
		beadsChanged := !bok || bt.After(point)
		filesChanged := fok && ft.After(point)
		switch {
		case beadsChanged && filesChanged:
			return conflictWinner(bt, ft, bok && fok, strategy), true
		case !beadsChanged:
			// beads stamps every change, files often keep a stale updatedAt
			return SideFiles, false
		default:
			return SideBeads, false
		}
	}

	if bok && fok {
		switch {
		case ft.After(bt):
			return SideFiles, false
		case bt.After(ft):
			return SideBeads, false
		}
	}
	return tieWinner(strategy), false
}

func conflictWinner(bt, ft time.Time, comparable bool, strategy ConflictStrategy) Side {
	if strategy == StrategyNewest {
		if comparable && ft.After(bt) {
			return SideFiles
		}
		return SideBeads
	}
	return tieWinner(strategy)
}

func tieWinner(strategy ConflictStrategy) Side {
	if strategy == StrategyFiles {
		return SideFiles
	}
	return SideBeads
}

// sameContent compares user-visible content, ignoring the decoration the
// generator adds around file descriptions.
func sameContent(b, f *types.Issue) bool {
	return types.SameContent(normalized(b), normalized(f))
}

func normalized(issue *types.Issue) *types.Issue {
	c := issue.Clone()
	c.Description = frontmatter.StripGenerated(c.Description, c.Title)
	return c
}

func index(issues []*types.Issue) map[string]*types.Issue {
	m := make(map[string]*types.Issue, len(issues))
	for _, issue := range issues {
		if _, dup := m[issue.ID]; !dup {
			m[issue.ID] = issue
		}
	}
	return m
}

func sortedIDs(maps ...map[string]*types.Issue) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, m := range maps {
		for id := range m {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}
