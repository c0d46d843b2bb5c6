package templates

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mschirtzinger/todosync/internal/types"
)

func sampleIssue() *types.Issue {
	return &types.Issue{
		ID:          "todo-abc",
		Title:       "Add user auth",
		Description: "Users need to log in.\n\nUse OAuth where possible.",
		Status:      types.StatusInProgress,
		Type:        types.TypeFeature,
		Priority:    1,
		Labels:      []string{"backend", "auth"},
		Assignee:    "alice@example.com",
		DependsOn:   []string{"todo-1", "todo-2"},
		Blocks:      []string{"todo-9"},
		Children:    []string{"todo-abc.1"},
	}
}

func TestRender(t *testing.T) {
	ctx := IssueContext(sampleIssue())
	out := Render("{issue.title} [{issue.labels}] {issue.missing}{nope}", ctx)
	assert.Equal(t, "Add user auth [backend, auth] ", out)
}

func TestRender_RecordRendersEmpty(t *testing.T) {
	assert.Equal(t, "<>", Render("<{issue}>", IssueContext(sampleIssue())))
}

func TestExtract_RoundTripPresets(t *testing.T) {
	ctx := IssueContext(sampleIssue())
	for _, name := range PresetNames() {
		t.Run(name, func(t *testing.T) {
			tmpl, err := Preset(name)
			require.NoError(t, err)

			res := Extract(tmpl, Render(tmpl, ctx))
			assert.Empty(t, res.Unmatched)
			assert.Equal(t, 1.0, res.Confidence)
			assert.False(t, res.AIAssisted)
			for _, path := range Slots(tmpl) {
				want, _ := ctx.Get(path)
				got, ok := res.Data.Get(path)
				require.True(t, ok, path)
				assert.Equal(t, want.Text(), got.Text(), path)
			}
		})
	}
}

func TestExtract_ToleratesWhitespaceEdits(t *testing.T) {
	tmpl := Builtin("feature")
	doc := "#   Add user auth\n\n\n**Status:**   open |   **Priority:** 3 | **Type:** bug\n\n##  Description\n\nBody text\n\n"
	res := Extract(tmpl, doc)

	assert.Equal(t, 1.0, res.Confidence)
	v, _ := res.Data.Get("issue.priority")
	assert.Equal(t, "3", v.Text())
	v, _ = res.Data.Get("issue.description")
	assert.Equal(t, "Body text", v.Text())
}

func TestExtract_MissingSectionLowersConfidence(t *testing.T) {
	tmpl := Builtin("feature")
	doc := "# T\n\n**Status:** open | **Priority:** 1 | **Type:** bug\n\nSome text without a heading"
	res := Extract(tmpl, doc)

	assert.InDelta(t, 0.6, res.Confidence, 1e-9)
	assert.ElementsMatch(t, []string{"issue.type", "issue.description"}, res.Unmatched)
	_, ok := res.Data.Get("issue.description")
	assert.False(t, ok)
}

func TestExtract_ResumesAfterMissingAnchor(t *testing.T) {
	res := Extract("A: {a}\nB: {b}\nC: {c}", "A: 1\nX: 2\nC: 3")

	assert.ElementsMatch(t, []string{"a", "b"}, res.Unmatched)
	v, ok := res.Data.Get("c")
	require.True(t, ok)
	assert.Equal(t, "3", v.Text())
	assert.InDelta(t, 1.0/3.0, res.Confidence, 1e-9)
}

func TestExtract_EmptySlotCountsAgainstConfidence(t *testing.T) {
	res := Extract("Name: {name}\nAge: {age}", "Name: \nAge: 42")
	assert.Empty(t, res.Unmatched)
	assert.Equal(t, 0.5, res.Confidence)
	v, _ := res.Data.Get("age")
	assert.Equal(t, "42", v.Text(), "numbers stay strings")
}

func TestExtract_NoSlots(t *testing.T) {
	res := Extract("static text", "anything")
	assert.Equal(t, 1.0, res.Confidence)
	assert.Empty(t, res.Data)
}

func TestExtract_TrailingLiteralUsesLastOccurrence(t *testing.T) {
	res := Extract("Notes:\n{notes}\n-- end --", "Notes:\nfirst -- end -- of line\n-- end --")
	v, _ := res.Data.Get("notes")
	assert.Equal(t, "first -- end -- of line", v.Text())
}

func TestDiff(t *testing.T) {
	before := Record{}
	before.Set("issue.title", String("Old"))
	before.Set("issue.status", String("open"))
	before.Set("issue.labels", List("a", "b"))

	after := Record{}
	after.Set("issue.title", String("New"))
	after.Set("issue.labels", List("a", "b"))
	after.Set("issue.assignee", String("bob"))

	d := Diff(before, after)
	assert.True(t, d.HasChanges)
	assert.Equal(t, map[string]Change{"issue.title": {From: String("Old"), To: String("New")}}, d.Modified)
	assert.Contains(t, d.Added, "issue.assignee")
	assert.Contains(t, d.Removed, "issue.status")
	assert.Equal(t, []string{"issue.assignee", "issue.status", "issue.title"}, d.Paths())

	assert.False(t, Diff(before, before.Clone()).HasChanges)
}

func TestDiff_ListsCompareElementwise(t *testing.T) {
	d := Diff(Record{"l": List("a", "b")}, Record{"l": List("b", "a")})
	assert.Contains(t, d.Modified, "l")
}

func TestApplyExtract(t *testing.T) {
	original := IssueContext(sampleIssue())
	extracted := Record{}
	extracted.Set("issue.title", String("Renamed"))

	merged := ApplyExtract(original, extracted)
	v, _ := merged.Get("issue.title")
	assert.Equal(t, "Renamed", v.Text())
	v, _ = merged.Get("issue.assignee")
	assert.Equal(t, "alice@example.com", v.Text(), "fields absent from the extraction are kept")

	v, _ = original.Get("issue.title")
	assert.Equal(t, "Add user auth", v.Text(), "original is not modified")
}

func TestFlattenUnflatten(t *testing.T) {
	r := IssueContext(sampleIssue())
	assert.True(t, Nested(r).Equal(Nested(Unflatten(Flatten(r)))))
	assert.Contains(t, Flatten(r), "issue.labels")
}

func TestIssueFromRecord(t *testing.T) {
	issue := sampleIssue()
	got, err := IssueFromRecord(IssueContext(issue))
	require.NoError(t, err)
	assert.Equal(t, issue, got)

	r := IssueContext(issue)
	r.Set("issue.labels", String("x, , y"))
	r.Set("issue.priority", String("9"))
	r.Set("issue.status", String("done"))
	got, err = IssueFromRecord(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, got.Labels)
	assert.Equal(t, 4, got.Priority)
	assert.Equal(t, types.StatusClosed, got.Status)

	r.Set("issue.id", String(" "))
	_, err = IssueFromRecord(r)
	var verr *types.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestPreset_Unknown(t *testing.T) {
	_, err := Preset("fancy")
	assert.ErrorIs(t, err, ErrUnknownPreset)
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Bug.mdx"), []byte("custom bug {issue.id}"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "presets"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "presets", "team.mdx"), []byte("team {issue.id}"), 0644))

	assert.Equal(t, "custom bug {issue.id}", Resolve("bug", ResolveConfig{Dir: dir, Preset: "team"}))
	assert.Equal(t, "team {issue.id}", Resolve("epic", ResolveConfig{Dir: dir, Preset: "team"}))

	detailed, _ := Preset("detailed")
	assert.Equal(t, detailed, Resolve("epic", ResolveConfig{Dir: dir, Preset: "detailed"}))
	assert.Equal(t, Builtin("epic"), Resolve("epic", ResolveConfig{Dir: dir, Preset: "nope"}))
	assert.Equal(t, Builtin("task"), Resolve("task", ResolveConfig{Dir: filepath.Join(dir, "missing")}))
	assert.Equal(t, Builtin("issue"), Resolve("unknown-kind", ResolveConfig{}))
}

type fakeAssistant struct {
	calls int
	reply map[string]string
	err   error
}

func (f *fakeAssistant) FillSlots(_ context.Context, req AssistRequest) (map[string]string, error) {
	f.calls++
	return f.reply, f.err
}

func TestExtractAssisted(t *testing.T) {
	tmpl := Builtin("feature")
	doc := "# T\n\n**Status:** open | **Priority:** 1 | **Type:** bug\n\nSome text without a heading"

	a := &fakeAssistant{reply: map[string]string{"issue.type": "bug", "issue.description": "Some text without a heading"}}
	res, err := ExtractAssisted(context.Background(), tmpl, doc, a, 0.9)
	require.NoError(t, err)
	assert.True(t, res.AIAssisted)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Empty(t, res.Unmatched)

	// confident results never reach the assistant
	a = &fakeAssistant{}
	res, err = ExtractAssisted(context.Background(), tmpl, doc, a, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0, a.calls)
	assert.False(t, res.AIAssisted)

	a = &fakeAssistant{err: errors.New("offline")}
	res, err = ExtractAssisted(context.Background(), tmpl, doc, a, 0.9)
	assert.Error(t, err)
	assert.InDelta(t, 0.6, res.Confidence, 1e-9)
}
