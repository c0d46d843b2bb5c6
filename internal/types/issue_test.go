package types

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestClampPriority(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{-5, 0},
		{10, 4},
		{2.7, 2},
		{4.9, 4},
		{0, 0},
		{-0.5, 0},
		{math.NaN(), DefaultPriority},
	}
	for _, tt := range tests {
		if got := ClampPriority(tt.in); got != tt.want {
			t.Errorf("ClampPriority(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      any
		want    int
		wantErr bool
	}{
		{nil, 2, false},
		{3, 3, false},
		{"1", 1, false},
		{"P0", 0, false},
		{"p3", 3, false},
		{"", 2, false},
		{"2.5", 2, false},
		{"1e400", 4, false},
		{"-1e400", 0, false},
		{json.Number("2.5"), 2, false},
		{json.Number("9"), 4, false},
		{"high", 0, true},
		{[]string{"x"}, 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if tt.wantErr {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("ParsePriority(%v) error = %v, want ValidationError", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePriority(%v) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePriority(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]Status{
		"done":        StatusClosed,
		"Completed":   StatusClosed,
		"in-progress": StatusInProgress,
		"in_progress": StatusInProgress,
		"blocked":     StatusBlocked,
		"":            StatusOpen,
		"review":      Status("review"),
	}
	for in, want := range tests {
		if got := NormalizeStatus(in); got != want {
			t.Errorf("NormalizeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeType(t *testing.T) {
	if got := NormalizeType("Bug"); got != TypeBug {
		t.Errorf("NormalizeType(Bug) = %q", got)
	}
	if got := NormalizeType("chore"); got != TypeTask {
		t.Errorf("NormalizeType(chore) = %q, want task", got)
	}
}

func TestValidate(t *testing.T) {
	if err := (&Issue{ID: "  "}).Validate(); err == nil {
		t.Error("expected error for blank id")
	}
	if err := (&Issue{ID: "a-1", Priority: 7}).Validate(); err == nil {
		t.Error("expected error for priority out of range")
	}
	if err := (&Issue{ID: "a-1", Priority: 1}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestClone(t *testing.T) {
	orig := &Issue{ID: "a-1", Labels: []string{"x"}}
	c := orig.Clone()
	c.Labels[0] = "y"
	if orig.Labels[0] != "x" {
		t.Error("Clone shares label storage with the original")
	}
	if c.DependsOn != nil {
		t.Error("Clone turned an absent list into an empty one")
	}
}

func TestSameContent(t *testing.T) {
	a := &Issue{ID: "a-1", Title: "T", UpdatedAt: "2024-01-01T00:00:00Z", Source: SourceFile}
	b := &Issue{ID: "a-1", Title: "T", UpdatedAt: "2024-02-01T00:00:00Z", Source: SourceBeads, Labels: []string{}}
	if !SameContent(a, b) {
		t.Error("timestamps, source and nil vs empty lists should not count as content")
	}
	b.Title = "U"
	if SameContent(a, b) {
		t.Error("title change should count as content")
	}
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{"2024-03-01T10:00:00Z", "2024-03-01T10:00:00", "2024-03-01"} {
		if _, ok := ParseTime(s); !ok {
			t.Errorf("ParseTime(%q) failed", s)
		}
	}
	if _, ok := ParseTime("yesterday"); ok {
		t.Error("ParseTime should reject natural language")
	}
}
