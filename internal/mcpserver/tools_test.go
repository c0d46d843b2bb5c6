package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	todosync "github.com/Mschirtzinger/todosync/internal/sync"
	"github.com/Mschirtzinger/todosync/internal/templates"
)

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

type fakeSyncer struct {
	got  todosync.Options
	res  *todosync.Result
	err  error
	runs int
}

func (f *fakeSyncer) Sync(_ context.Context, opts todosync.Options) (*todosync.Result, error) {
	f.runs++
	f.got = opts
	return f.res, f.err
}

const issueJSON = `{"id": "bd-7", "title": "Fix login", "type": "bug", "priority": 9, "status": "in-progress"}`

func TestSyncTool(t *testing.T) {
	syncer := &fakeSyncer{res: &todosync.Result{
		Direction: todosync.FilesToBeads,
		DryRun:    true,
		Created:   []string{"bd-1", "bd-2"},
		Conflicts: []todosync.Conflict{{ID: "bd-3", Winner: todosync.SideFiles}},
	}}
	tool := NewSyncTool(syncer)

	if def := tool.Definition(); def.Name != "todo_sync" {
		t.Errorf("tool name = %q", def.Name)
	}

	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"direction":        "files-to-beads",
		"handle_deletions": true,
		"dry_run":          true,
	}))
	if err != nil {
		t.Fatalf("Handle() returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}

	want := todosync.Options{Direction: todosync.FilesToBeads, HandleDeletions: true, DryRun: true}
	if syncer.got != want {
		t.Errorf("Sync options = %+v, want %+v", syncer.got, want)
	}
	text := resultText(result)
	for _, s := range []string{"dry run", "bd-1, bd-2", "bd-3: files wins"} {
		if !strings.Contains(text, s) {
			t.Errorf("summary missing %q:\n%s", s, text)
		}
	}
}

func TestSyncTool_Errors(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("beads log unreadable")}
	tool := NewSyncTool(syncer)

	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{"direction": "sideways"}))
	if !result.IsError {
		t.Error("bad direction should be a tool error")
	}
	if syncer.runs != 0 {
		t.Error("sync should not run with a bad direction")
	}

	result, _ = tool.Handle(context.Background(), makeReq(nil))
	if !result.IsError || !strings.Contains(resultText(result), "beads log unreadable") {
		t.Errorf("result = %q, want sync failure", resultText(result))
	}
}

func TestRenderTool(t *testing.T) {
	tool := NewRenderTool(templates.ResolveConfig{})

	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"issue":    issueJSON,
		"template": "{issue.id} {issue.title} p{issue.priority} {issue.status}",
	}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}
	if got := resultText(result); got != "bd-7 Fix login p4 in_progress" {
		t.Errorf("render = %q", got)
	}

	// without a template the issue type picks the built-in
	result, _ = tool.Handle(context.Background(), makeReq(map[string]interface{}{"issue": issueJSON}))
	if !strings.Contains(resultText(result), "Fix login") {
		t.Errorf("default render = %q", resultText(result))
	}

	result, _ = tool.Handle(context.Background(), makeReq(map[string]interface{}{"issue": `{"id": "  "}`}))
	if !result.IsError {
		t.Error("blank id should be rejected")
	}
	result, _ = tool.Handle(context.Background(), makeReq(map[string]interface{}{}))
	if !result.IsError {
		t.Error("missing issue should be rejected")
	}
}

func TestExtractTool(t *testing.T) {
	tool := NewExtractTool(templates.ResolveConfig{}, nil, 0)

	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"template": "# {issue.title}\n\n{issue.description}\n",
		"document": "# Renamed\n\nNew body\n",
	}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}

	var got struct {
		Data       map[string]map[string]string `json:"data"`
		Confidence float64                      `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(resultText(result)), &got); err != nil {
		t.Fatalf("result is not JSON: %v\n%s", err, resultText(result))
	}
	if got.Data["issue"]["title"] != "Renamed" || got.Data["issue"]["description"] != "New body" {
		t.Errorf("data = %+v", got.Data)
	}
	if got.Confidence != 1 {
		t.Errorf("confidence = %v", got.Confidence)
	}
}

func TestFilenameTool(t *testing.T) {
	tool := NewFilenameTool("")

	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"issue":    issueJSON,
		"existing": "bd-7-fix-login.md, other.md",
	}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}
	if got := resultText(result); got != "bd-7-fix-login-1.md" {
		t.Errorf("filename = %q", got)
	}

	result, _ = tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"filename": "bd-7-fix-login.md",
	}))
	if got := resultText(result); got != "bd-7" {
		t.Errorf("extracted id = %q", got)
	}

	result, _ = tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"filename": "notes.txt",
		"pattern":  "[id].md",
	}))
	if !result.IsError {
		t.Errorf("filename without an id should be a tool error, got %q", resultText(result))
	}
}

func TestNew_RegistersTools(t *testing.T) {
	s := New("test", Deps{Syncer: &fakeSyncer{res: &todosync.Result{}}})
	tools := s.ListTools()
	for _, name := range []string{"todo_sync", "todo_render", "todo_extract", "todo_filename"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("tool %s not registered", name)
		}
	}

	s = New("test", Deps{})
	if _, ok := s.ListTools()["todo_sync"]; ok {
		t.Error("todo_sync should need a syncer")
	}
}
