package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Mschirtzinger/todosync/internal/pattern"
	todosync "github.com/Mschirtzinger/todosync/internal/sync"
	"github.com/Mschirtzinger/todosync/internal/templates"
	"github.com/Mschirtzinger/todosync/internal/types"
)

// SyncTool handles the todo_sync MCP tool.
type SyncTool struct {
	syncer Syncer
}

// NewSyncTool creates a SyncTool running passes through syncer.
func NewSyncTool(syncer Syncer) *SyncTool {
	return &SyncTool{syncer: syncer}
}

// Definition returns the MCP tool definition for todo_sync.
func (t *SyncTool) Definition() mcp.Tool {
	return mcp.NewTool("todo_sync",
		mcp.WithDescription("Reconcile beads issues with the markdown issue files and report what changed."),
		mcp.WithString("direction",
			mcp.Description("Which side is authoritative"),
			mcp.Enum(string(todosync.Bidirectional), string(todosync.BeadsToFiles), string(todosync.FilesToBeads)),
		),
		mcp.WithBoolean("handle_deletions",
			mcp.Description("Propagate issues missing on one side as deletions on the other"),
		),
		mcp.WithBoolean("dry_run",
			mcp.Description("Report the planned changes without applying them"),
		),
	)
}

// Handle processes the todo_sync tool call.
func (t *SyncTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir, err := todosync.ParseDirection(req.GetString("direction", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := todosync.Options{
		Direction:       dir,
		HandleDeletions: req.GetBool("handle_deletions", false),
		DryRun:          req.GetBool("dry_run", false),
	}

	res, err := t.syncer.Sync(ctx, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sync failed: %v", err)), nil
	}
	return mcp.NewToolResultText(summarize(res)), nil
}

func summarize(res *todosync.Result) string {
	var sb strings.Builder
	if res.DryRun {
		sb.WriteString("## Sync preview (dry run)\n\n")
	} else {
		sb.WriteString("## Sync complete\n\n")
	}
	fmt.Fprintf(&sb, "- **Direction**: %s\n", res.Direction)
	writeIDs(&sb, "Created in beads", res.Created)
	writeIDs(&sb, "Updated in beads", res.Updated)
	writeIDs(&sb, "Deleted", res.Deleted)
	writeIDs(&sb, "Files written", res.FilesWritten)
	writeIDs(&sb, "Skipped", res.Skipped)

	if len(res.Conflicts) > 0 {
		fmt.Fprintf(&sb, "\n### Conflicts (%d)\n\n", len(res.Conflicts))
		for _, c := range res.Conflicts {
			fmt.Fprintf(&sb, "- %s: %s wins\n", c.ID, c.Winner)
		}
	}
	if len(res.Errors) > 0 {
		fmt.Fprintf(&sb, "\n### Errors (%d)\n\n", len(res.Errors))
		for _, e := range res.Errors {
			fmt.Fprintf(&sb, "- %s\n", e.Error())
		}
	}
	if !res.Changed() && len(res.Errors) == 0 {
		sb.WriteString("\nEverything is in sync.\n")
	}
	return sb.String()
}

func writeIDs(sb *strings.Builder, label string, ids []string) {
	if len(ids) == 0 {
		return
	}
	fmt.Fprintf(sb, "- **%s** (%d): %s\n", label, len(ids), strings.Join(ids, ", "))
}

// RenderTool handles the todo_render MCP tool.
type RenderTool struct {
	resolve templates.ResolveConfig
}

// NewRenderTool creates a RenderTool resolving kinds through cfg.
func NewRenderTool(cfg templates.ResolveConfig) *RenderTool {
	return &RenderTool{resolve: cfg}
}

// Definition returns the MCP tool definition for todo_render.
func (t *RenderTool) Definition() mcp.Tool {
	return mcp.NewTool("todo_render",
		mcp.WithDescription("Render an issue to markdown with a template."),
		mcp.WithString("issue",
			mcp.Required(),
			mcp.Description("The issue as a JSON object (id, title, description, status, type, priority, labels, ...)"),
		),
		mcp.WithString("template",
			mcp.Description("Template text with {issue.field} slots; defaults to the configured template for the issue's type"),
		),
	)
}

// Handle processes the todo_render tool call.
func (t *RenderTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issue, err := issueArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tmpl := req.GetString("template", "")
	if tmpl == "" {
		tmpl = templates.Resolve(string(issue.Type), t.resolve)
	}
	return mcp.NewToolResultText(templates.Render(tmpl, templates.IssueContext(issue))), nil
}

// ExtractTool handles the todo_extract MCP tool.
type ExtractTool struct {
	resolve       templates.ResolveConfig
	assistant     templates.Assistant
	minConfidence float64
}

// NewExtractTool creates an ExtractTool. A nil assistant disables
// assisted extraction.
func NewExtractTool(cfg templates.ResolveConfig, a templates.Assistant, minConfidence float64) *ExtractTool {
	return &ExtractTool{resolve: cfg, assistant: a, minConfidence: minConfidence}
}

// Definition returns the MCP tool definition for todo_extract.
func (t *ExtractTool) Definition() mcp.Tool {
	return mcp.NewTool("todo_extract",
		mcp.WithDescription("Recover issue fields from an edited markdown rendering. Returns the extracted data, a confidence score and the unmatched slots."),
		mcp.WithString("document",
			mcp.Required(),
			mcp.Description("The markdown to extract from"),
		),
		mcp.WithString("template",
			mcp.Description("Template text the document was rendered from"),
		),
		mcp.WithString("kind",
			mcp.Description("Issue type whose configured template to use when no template is given (default: task)"),
		),
	)
}

// Handle processes the todo_extract tool call.
func (t *ExtractTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tmpl := req.GetString("template", "")
	if tmpl == "" {
		tmpl = templates.Resolve(req.GetString("kind", string(types.TypeTask)), t.resolve)
	}

	res, err := templates.ExtractAssisted(ctx, tmpl, doc, t.assistant, t.minConfidence)
	if err != nil {
		// the plain extraction is still useful
		res = templates.Extract(tmpl, doc)
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// FilenameTool handles the todo_filename MCP tool.
type FilenameTool struct {
	pattern string
}

// NewFilenameTool creates a FilenameTool defaulting to pattern.
func NewFilenameTool(p string) *FilenameTool {
	if p == "" {
		p = pattern.DefaultPattern
	}
	return &FilenameTool{pattern: p}
}

// Definition returns the MCP tool definition for todo_filename.
func (t *FilenameTool) Definition() mcp.Tool {
	return mcp.NewTool("todo_filename",
		mcp.WithDescription("Compute the file name an issue is written to, or recover an issue id from a file name."),
		mcp.WithString("issue",
			mcp.Description("The issue as a JSON object; required unless filename is given"),
		),
		mcp.WithString("filename",
			mcp.Description("A file name to extract the issue id from"),
		),
		mcp.WithString("pattern",
			mcp.Description("Filename pattern such as [id]-[title].md (default: the configured pattern)"),
		),
		mcp.WithString("existing",
			mcp.Description("Comma-separated file names already taken, for collision suffixes"),
		),
	)
}

// Handle processes the todo_filename tool call.
func (t *FilenameTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p := req.GetString("pattern", t.pattern)

	if name := req.GetString("filename", ""); name != "" {
		id, ok := pattern.ExtractID(name, p)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("no issue id found in %q for pattern %q", name, p)), nil
		}
		return mcp.NewToolResultText(id), nil
	}

	issue, err := issueArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var existing []string
	for _, name := range strings.Split(req.GetString("existing", ""), ",") {
		if name = strings.TrimSpace(name); name != "" {
			existing = append(existing, name)
		}
	}
	return mcp.NewToolResultText(pattern.Apply(p, issue, existing)), nil
}

// issueArg decodes and validates the "issue" JSON argument.
func issueArg(req mcp.CallToolRequest) (*types.Issue, error) {
	raw, err := req.RequireString("issue")
	if err != nil {
		return nil, err
	}
	var issue types.Issue
	if err := json.Unmarshal([]byte(raw), &issue); err != nil {
		return nil, fmt.Errorf("invalid issue JSON: %w", err)
	}
	if err := issue.Validate(); err != nil {
		return nil, err
	}
	issue.Status = types.NormalizeStatus(string(issue.Status))
	issue.Type = types.NormalizeType(string(issue.Type))
	issue.Priority = types.ClampPriority(float64(issue.Priority))
	return &issue, nil
}
