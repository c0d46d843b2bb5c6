package beads

import (
	"context"
	"errors"
	"slices"

	"github.com/Mschirtzinger/todosync/internal/types"
)

var (
	// ErrNotFound is returned when the issue does not exist or was deleted.
	ErrNotFound = errors.New("issue not found")
	// ErrExists is returned when creating an issue whose id is taken.
	ErrExists = errors.New("issue already exists")
)

// Backend mutates the beads store. Every call stands alone: a failure
// affects only the issue it names.
type Backend interface {
	Create(ctx context.Context, issue *types.Issue) error
	Update(ctx context.Context, id string, patch Patch) error
	Close(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// Patch lists the fields to change. Nil fields are left alone.
type Patch struct {
	Title       *string
	Description *string
	Status      *types.Status
	Type        *types.IssueType
	Priority    *int
	Assignee    *string
	Labels      []string
	DependsOn   []string
	Blocks      []string
	Children    []string
	Parent      *string

	// SetLabels and friends distinguish "clear the list" from "leave it".
	SetLabels    bool
	SetDependsOn bool
	SetBlocks    bool
	SetChildren  bool
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Type == nil &&
		p.Priority == nil && p.Assignee == nil && p.Parent == nil &&
		!p.SetLabels && !p.SetDependsOn && !p.SetBlocks && !p.SetChildren
}

// NewPatch returns the changes that turn from into to.
func NewPatch(from, to *types.Issue) Patch {
	var p Patch
	if from.Title != to.Title {
		p.Title = ptr(to.Title)
	}
	if from.Description != to.Description {
		p.Description = ptr(to.Description)
	}
	if from.Status != to.Status {
		p.Status = ptr(to.Status)
	}
	if from.Type != to.Type {
		p.Type = ptr(to.Type)
	}
	if from.Priority != to.Priority {
		p.Priority = ptr(to.Priority)
	}
	if from.Assignee != to.Assignee {
		p.Assignee = ptr(to.Assignee)
	}
	if from.Parent != to.Parent {
		p.Parent = ptr(to.Parent)
	}
	if !slices.Equal(from.Labels, to.Labels) {
		p.Labels, p.SetLabels = slices.Clone(to.Labels), true
	}
	if !slices.Equal(from.DependsOn, to.DependsOn) {
		p.DependsOn, p.SetDependsOn = slices.Clone(to.DependsOn), true
	}
	if !slices.Equal(from.Blocks, to.Blocks) {
		p.Blocks, p.SetBlocks = slices.Clone(to.Blocks), true
	}
	if !slices.Equal(from.Children, to.Children) {
		p.Children, p.SetChildren = slices.Clone(to.Children), true
	}
	return p
}

// Closes reports whether the patch moves the issue to closed.
func (p Patch) Closes() bool {
	return p.Status != nil && *p.Status == types.StatusClosed
}

func ptr[T any](v T) *T { return &v }
