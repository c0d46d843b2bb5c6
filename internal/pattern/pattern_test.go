package pattern

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mschirtzinger/todosync/internal/types"
)

func TestParse(t *testing.T) {
	tokens := Parse("[id]-[title].md")
	require.Len(t, tokens, 4)
	assert.Equal(t, Token{Kind: Variable, Value: "id", Transform: Preserve}, tokens[0])
	assert.Equal(t, Token{Kind: Literal, Value: "-"}, tokens[1])
	assert.Equal(t, Token{Kind: Variable, Value: "title", Transform: Slugify}, tokens[2])
	assert.Equal(t, Token{Kind: Literal, Value: ".md"}, tokens[3])
}

func TestParse_Transforms(t *testing.T) {
	tokens := Parse("[Title] [id].md")
	require.Len(t, tokens, 4)
	assert.Equal(t, "title", tokens[0].Value)
	assert.Equal(t, Capitalize, tokens[0].Transform)
	assert.Equal(t, Preserve, tokens[2].Transform)
}

func TestParse_UnterminatedBracket(t *testing.T) {
	tokens := Parse("[id]-[oops.md")
	require.Len(t, tokens, 2)
	assert.Equal(t, Literal, tokens[1].Kind)
	assert.Equal(t, "-[oops.md", tokens[1].Value)
}

func TestApply_Default(t *testing.T) {
	issue := &types.Issue{ID: "todo-abc", Title: "Add User Auth!"}
	assert.Equal(t, "todo-abc-add-user-auth.md", Apply(DefaultPattern, issue, nil))
}

func TestApply_Collision(t *testing.T) {
	issue := &types.Issue{ID: "todo-abc", Title: "Add User Auth"}
	existing := []string{"todo-abc-add-user-auth.md"}
	assert.Equal(t, "todo-abc-add-user-auth-1.md", Apply(DefaultPattern, issue, existing))

	existing = append(existing, "todo-abc-add-user-auth-1.md")
	assert.Equal(t, "todo-abc-add-user-auth-2.md", Apply(DefaultPattern, issue, existing))
}

func TestApply_TraversalInID(t *testing.T) {
	issue := &types.Issue{ID: "../../../etc/passwd", Title: "x"}
	name := Apply(DefaultPattern, issue, nil)
	assert.Equal(t, "etcpasswd-x.md", name)
	assert.NotContains(t, name, "..")
	assert.NotContains(t, name, "/")
}

func TestApply_ReservedCharacters(t *testing.T) {
	issue := &types.Issue{ID: "a:b<c>", Title: "what? *now* | later"}
	assert.Equal(t, "abc what now later.md", Apply("[id] [title].md", issue, nil))
}

func TestApply_EmptyValueDropsDelimiter(t *testing.T) {
	issue := &types.Issue{ID: "todo-1", Title: "Fix it"}
	assert.Equal(t, "todo-1.md", Apply("[assignee]-[id].md", issue, nil))
	assert.Equal(t, "todo-1-fix-it.md", Apply("[id]-[assignee]-[title].md", issue, nil))
	assert.Equal(t, "todo-1.md", Apply("[type]/[id].md", issue, nil))

	bare := &types.Issue{ID: "x-1"}
	assert.Equal(t, "x-1.md", Apply("[id] - [title].md", bare, nil))
	assert.Equal(t, "x-1.md", Apply("[id]--[title].md", bare, nil))
	assert.Equal(t, "x-1.md", Apply("[assignee] - [id].md", bare, nil))
	assert.Equal(t, "x-1_bug.md", Apply("[id] - [title]_[type].md", &types.Issue{ID: "x-1", Type: types.TypeBug}, nil))
}

func TestApply_EmptyTitleFallsBackToID(t *testing.T) {
	issue := &types.Issue{ID: "todo-1"}
	assert.Equal(t, "todo-1.md", Apply("[title].md", issue, nil))
}

func TestApply_Variables(t *testing.T) {
	issue := &types.Issue{
		ID:        "todo-1",
		Title:     "add user auth",
		Type:      types.TypeBug,
		Priority:  0,
		Assignee:  "alice@example.com",
		CreatedAt: "2024-03-05T10:00:00Z",
	}
	assert.Equal(t, "bug/todo-1.md", Apply("[type]/[id].md", issue, nil))
	assert.Equal(t, "alice/P0-todo-1.md", Apply("[assignee]/P[priority]-[id].md", issue, nil))
	assert.Equal(t, "2024-03-05-todo-1.md", Apply("[yyyy-mm-dd]-[id].md", issue, nil))
	assert.Equal(t, "Add User Auth.md", Apply("[Title].md", issue, nil))
}

func TestApply_DateDefaultsToToday(t *testing.T) {
	orig := now
	now = func() time.Time { return time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { now = orig })

	issue := &types.Issue{ID: "todo-1"}
	assert.Equal(t, "2025-07-01-todo-1.md", Apply("[yyyy-mm-dd]-[id].md", issue, nil))
}

func TestApply_TruncatesLongTitles(t *testing.T) {
	issue := &types.Issue{ID: "todo-1", Title: strings.Repeat("lengthy words ", 20)}
	name := Apply(DefaultPattern, issue, nil)

	assert.LessOrEqual(t, utf8.RuneCountInString(name), MaxNameLength)
	assert.True(t, strings.HasPrefix(name, "todo-1-lengthy-words"))
	assert.True(t, strings.HasSuffix(name, ".md"))
	assert.False(t, strings.HasSuffix(name, "-.md"))
	assert.True(t, strings.HasSuffix(name, "words.md") || strings.HasSuffix(name, "lengthy.md"), name)
}

func TestApply_TruncatesSingleLongWord(t *testing.T) {
	issue := &types.Issue{ID: "todo-1", Title: strings.Repeat("x", 300)}
	name := Apply(DefaultPattern, issue, nil)
	assert.Equal(t, MaxNameLength, utf8.RuneCountInString(name))
	assert.True(t, strings.HasSuffix(name, "x.md"))
}

func TestSanitizeComponent(t *testing.T) {
	tests := map[string]string{
		"plain":            "plain",
		"a/b\\c":           "abc",
		"..hidden":         "hidden",
		"....//..":         "",
		"nul\x00byte":      "nulbyte",
		"  .dotfile  ":     "dotfile",
		"keep.single.dots": "keep.single.dots",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeComponent(in), "input %q", in)
	}
}

func TestExtractID(t *testing.T) {
	tests := []struct {
		filename string
		pattern  string
		want     string
		ok       bool
	}{
		{"todo-abc-add-user-auth.md", DefaultPattern, "todo-abc", true},
		{"todo-abc.MD", "[id].md", "todo-abc", true},
		{"bug/todo-1.md", "[type]/[id].md", "todo-1", true},
		{"nested/dir/todo-9-fix.md", DefaultPattern, "todo-9", true},
		{"notes.txt", "[id].md", "", false},
		{"x.md", "[title].md", "", false},
		{"readme", DefaultPattern, "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractID(tt.filename, tt.pattern)
		assert.Equal(t, tt.ok, ok, "%s with %s", tt.filename, tt.pattern)
		assert.Equal(t, tt.want, got, "%s with %s", tt.filename, tt.pattern)
	}
}

func TestMatchID_CustomPredicate(t *testing.T) {
	known := map[string]bool{"todo-abc-add": true}
	got, ok := MatchID("todo-abc-add-user-auth.md", DefaultPattern, func(s string) bool { return known[s] })
	require.True(t, ok)
	assert.Equal(t, "todo-abc-add", got)

	got, ok = MatchID("todo-abc-add-user-auth.md", DefaultPattern, nil)
	require.True(t, ok)
	assert.Equal(t, "todo", got)
}

func TestApplyExtractRoundTrip(t *testing.T) {
	issues := []*types.Issue{
		{ID: "bd-a3f8", Title: "Crash on start", Type: types.TypeBug},
		{ID: "todo-42.1", Title: "Sub task", Type: types.TypeTask},
		{ID: "proj-7", Title: "Ünïcode títle", Type: types.TypeFeature},
	}
	for _, pat := range []string{DefaultPattern, "[type]/[id]-[title].md", "[id].md"} {
		for _, issue := range issues {
			name := Apply(pat, issue, nil)
			got, ok := ExtractID(name, pat)
			require.True(t, ok, "%s from %s", name, pat)
			assert.Equal(t, issue.ID, got, "%s from %s", name, pat)
		}
	}
}
