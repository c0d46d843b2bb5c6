// Package beads reads and writes the beads issue log, the newline-delimited
// JSON file kept at .beads/issues.jsonl, and defines the backend the sync
// orchestrator mutates beads through.
package beads

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/Mschirtzinger/todosync/internal/types"
)

// Dependency types stored in the log.
const (
	DepBlocks      = "blocks"
	DepParentChild = "parent-child"
)

const statusTombstone = "tombstone"

// dependency is one edge in a record's dependency list.
type dependency struct {
	IssueID     string `json:"issue_id"`
	DependsOnID string `json:"depends_on_id"`
	Type        string `json:"type"`
	CreatedAt   string `json:"created_at,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
	Metadata    string `json:"metadata,omitempty"`
}

// record is one line of the log. Fields this package does not model are
// kept in extra and written back untouched.
type record struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	Status       string       `json:"status,omitempty"`
	Priority     priority     `json:"priority"`
	IssueType    string       `json:"issue_type,omitempty"`
	Assignee     string       `json:"assignee,omitempty"`
	CreatedAt    string       `json:"created_at,omitempty"`
	UpdatedAt    string       `json:"updated_at,omitempty"`
	ClosedAt     string       `json:"closed_at,omitempty"`
	Labels       []string     `json:"labels,omitempty"`
	Dependencies []dependency `json:"dependencies,omitempty"`
	DeletedAt    string       `json:"deleted_at,omitempty"`
	OriginalType string       `json:"original_type,omitempty"`

	extra map[string]json.RawMessage
	// raw holds a line that could not be decoded. It is written back as is
	// and never surfaces as an issue.
	raw []byte
}

// priority accepts any JSON number or numeric string, flooring and clamping
// it into range.
type priority int

func (p *priority) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	n, err := types.ParsePriority(v)
	if err != nil {
		return err
	}
	*p = priority(n)
	return nil
}

// plainRecord has record's fields without its methods.
type plainRecord record

var knownKeys = []string{
	"id", "title", "description", "status", "priority", "issue_type", "assignee",
	"created_at", "updated_at", "closed_at", "labels", "dependencies",
	"deleted_at", "original_type",
}

func (r *record) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, (*plainRecord)(r)); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range knownKeys {
		delete(all, k)
	}
	if len(all) > 0 {
		r.extra = all
	}
	return nil
}

func (r record) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(plainRecord(r))
	if err != nil || len(r.extra) == 0 {
		return data, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

func (r *record) isTombstone() bool {
	return r.Status == statusTombstone || r.DeletedAt != ""
}

// dependsOn lists the targets of the record's dependencies of type typ.
func (r *record) dependsOn(typ string) []string {
	var ids []string
	for _, d := range r.Dependencies {
		if d.Type == typ && d.DependsOnID != "" {
			ids = append(ids, d.DependsOnID)
		}
	}
	return ids
}

// setDeps replaces the record's dependencies of type typ with targets.
func (r *record) setDeps(typ string, targets []string, createdAt string) {
	existing := make(map[string]dependency)
	kept := r.Dependencies[:0:0]
	for _, d := range r.Dependencies {
		if d.Type == typ {
			existing[d.DependsOnID] = d
			continue
		}
		kept = append(kept, d)
	}
	for _, id := range targets {
		d, ok := existing[id]
		if !ok {
			d = dependency{IssueID: r.ID, DependsOnID: id, Type: typ, CreatedAt: createdAt}
		}
		kept = append(kept, d)
	}
	r.Dependencies = kept
}

// hasDep reports whether the record depends on target with type typ.
func (r *record) hasDep(typ, target string) bool {
	for _, d := range r.Dependencies {
		if d.Type == typ && d.DependsOnID == target {
			return true
		}
	}
	return false
}

// toIssue maps a record onto the issue model. Blocks and Children are
// derived from the other records by the caller.
func (r *record) toIssue() *types.Issue {
	issue := &types.Issue{
		ID:          strings.TrimSpace(r.ID),
		Title:       r.Title,
		Description: r.Description,
		Status:      types.NormalizeStatus(r.Status),
		Type:        types.NormalizeType(r.IssueType),
		Priority:    types.ClampPriority(float64(r.Priority)),
		Labels:      r.Labels,
		Assignee:    r.Assignee,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		ClosedAt:    r.ClosedAt,
		DependsOn:   r.dependsOn(DepBlocks),
		Source:      types.SourceBeads,
	}
	if parents := r.dependsOn(DepParentChild); len(parents) > 0 {
		issue.Parent = parents[0]
	}
	return issue
}

// fromIssue builds a new record for issue.
func fromIssue(issue *types.Issue, now string) *record {
	r := &record{
		ID:          issue.ID,
		Title:       issue.Title,
		Description: issue.Description,
		Status:      string(issue.Status),
		Priority:    priority(issue.Priority),
		IssueType:   string(issue.Type),
		Assignee:    issue.Assignee,
		CreatedAt:   issue.CreatedAt,
		UpdatedAt:   issue.UpdatedAt,
		ClosedAt:    issue.ClosedAt,
		Labels:      issue.Labels,
	}
	if r.Status == "" {
		r.Status = string(types.StatusOpen)
	}
	if r.CreatedAt == "" {
		r.CreatedAt = now
	}
	if r.UpdatedAt == "" {
		r.UpdatedAt = now
	}
	if r.Status == string(types.StatusClosed) && r.ClosedAt == "" {
		r.ClosedAt = now
	}
	r.setDeps(DepBlocks, issue.DependsOn, now)
	if issue.Parent != "" {
		r.setDeps(DepParentChild, []string{issue.Parent}, now)
	}
	return r
}
