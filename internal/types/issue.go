// Package types defines the issue model shared by the Markdown tree and the
// beads store.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of an issue.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusClosed     Status = "closed"
)

// IssueType categorizes an issue.
type IssueType string

const (
	TypeTask    IssueType = "task"
	TypeBug     IssueType = "bug"
	TypeFeature IssueType = "feature"
	TypeEpic    IssueType = "epic"
)

// Source records which loader produced an issue.
type Source string

const (
	SourceFile  Source = "file"
	SourceBeads Source = "beads"
)

const (
	MinPriority     = 0
	MaxPriority     = 4
	DefaultPriority = 2
)

// Issue is the unit of synchronization. Timestamps are kept as the ISO-8601
// strings found on disk; use ParseTime to compare them.
//
// Labels and the dependency lists are nil when the input omitted them and
// non-nil (possibly empty) when the input carried an explicit list.
type Issue struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Type        IssueType `json:"type"`
	Priority    int       `json:"priority"`
	Labels      []string  `json:"labels,omitempty"`
	Assignee    string    `json:"assignee,omitempty"`
	CreatedAt   string    `json:"created_at,omitempty"`
	UpdatedAt   string    `json:"updated_at,omitempty"`
	ClosedAt    string    `json:"closed_at,omitempty"`
	DependsOn   []string  `json:"depends_on,omitempty"`
	Blocks      []string  `json:"blocks,omitempty"`
	Children    []string  `json:"children,omitempty"`
	Parent      string    `json:"parent,omitempty"`
	Source      Source    `json:"source,omitempty"`
}

// Clone returns a deep copy of the issue.
func (i *Issue) Clone() *Issue {
	if i == nil {
		return nil
	}
	c := *i
	c.Labels = cloneList(i.Labels)
	c.DependsOn = cloneList(i.DependsOn)
	c.Blocks = cloneList(i.Blocks)
	c.Children = cloneList(i.Children)
	return &c
}

func cloneList(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}

// IsClosed reports whether the issue is in the closed state.
func (i *Issue) IsClosed() bool {
	return i.Status == StatusClosed
}

// HasRelations reports whether any dependency list is non-empty.
func (i *Issue) HasRelations() bool {
	return len(i.DependsOn) > 0 || len(i.Blocks) > 0 || len(i.Children) > 0
}

// Validate checks the invariants every stored issue must satisfy.
func (i *Issue) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if i.Priority < MinPriority || i.Priority > MaxPriority {
		return &ValidationError{Field: "priority", Reason: fmt.Sprintf("must be between %d and %d, got %d", MinPriority, MaxPriority, i.Priority)}
	}
	return nil
}

// SameContent reports whether two issues carry the same user-visible content.
// Timestamps other than closed_at and the source tag are ignored; nil and
// empty lists compare equal.
func SameContent(a, b *Issue) bool {
	return a.Title == b.Title &&
		a.Description == b.Description &&
		a.Status == b.Status &&
		a.Type == b.Type &&
		a.Priority == b.Priority &&
		a.Assignee == b.Assignee &&
		a.Parent == b.Parent &&
		a.ClosedAt == b.ClosedAt &&
		slices.Equal(a.Labels, b.Labels) &&
		slices.Equal(a.DependsOn, b.DependsOn) &&
		slices.Equal(a.Blocks, b.Blocks) &&
		slices.Equal(a.Children, b.Children)
}

var statusSynonyms = map[string]Status{
	"open":        StatusOpen,
	"todo":        StatusOpen,
	"in_progress": StatusInProgress,
	"in-progress": StatusInProgress,
	"blocked":     StatusBlocked,
	"closed":      StatusClosed,
	"done":        StatusClosed,
	"completed":   StatusClosed,
}

// NormalizeStatus maps free-form status text onto a Status. Unknown values
// pass through unchanged; an empty value becomes open.
func NormalizeStatus(s string) Status {
	s = strings.TrimSpace(s)
	if s == "" {
		return StatusOpen
	}
	if st, ok := statusSynonyms[strings.ToLower(s)]; ok {
		return st
	}
	return Status(s)
}

// NormalizeType maps type text onto an IssueType, defaulting to task.
func NormalizeType(s string) IssueType {
	switch t := IssueType(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeTask, TypeBug, TypeFeature, TypeEpic:
		return t
	default:
		return TypeTask
	}
}

// ClampPriority floors p and clamps it to [MinPriority, MaxPriority].
// NaN yields the default priority.
func ClampPriority(p float64) int {
	if math.IsNaN(p) {
		return DefaultPriority
	}
	p = math.Floor(p)
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return int(p)
}

// ParsePriority accepts numbers, numeric strings and the "P1" shorthand.
// Fractions are floored and out of range values clamped.
func ParsePriority(v any) (int, error) {
	switch p := v.(type) {
	case nil:
		return DefaultPriority, nil
	case int:
		return ClampPriority(float64(p)), nil
	case int64:
		return ClampPriority(float64(p)), nil
	case uint64:
		return ClampPriority(float64(p)), nil
	case float64:
		return ClampPriority(p), nil
	case json.Number:
		return ParsePriority(p.String())
	case string:
		s := strings.TrimSpace(p)
		if s == "" {
			return DefaultPriority, nil
		}
		if len(s) > 1 && (s[0] == 'P' || s[0] == 'p') {
			s = s[1:]
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0, &ValidationError{Field: "priority", Reason: fmt.Sprintf("not a number: %q", p)}
		}
		// out of range parses as ±Inf, which clamps
		return ClampPriority(f), nil
	default:
		return 0, &ValidationError{Field: "priority", Reason: fmt.Sprintf("unsupported value %v", v)}
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses an ISO-8601 timestamp in any of the layouts found in
// issue files. The zero time and false are returned for anything else.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTime renders t the way issue files store timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
