// Package mcpserver exposes sync, rendering and filename tools over the
// Model Context Protocol so an agent can drive the issue files.
//
// Each tool is a struct holding its dependencies with a Definition that
// returns the mcp.Tool schema and a Handle that serves calls. Tool failures
// are returned as error results, never as protocol errors.
package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	todosync "github.com/Mschirtzinger/todosync/internal/sync"
	"github.com/Mschirtzinger/todosync/internal/templates"
)

// Name is the server name announced to clients.
const Name = "todo"

// Syncer runs sync passes for the todo_sync tool.
type Syncer interface {
	Sync(ctx context.Context, opts todosync.Options) (*todosync.Result, error)
}

// Deps are the collaborators the tools share.
type Deps struct {
	// Syncer backs todo_sync; the tool is not registered when nil
	Syncer Syncer

	// Templates selects the template used when a call names a kind
	// instead of passing template text
	Templates templates.ResolveConfig

	// Pattern is the default filename pattern for todo_filename
	Pattern string

	// Assistant, when set, fills slots todo_extract could not match
	Assistant     templates.Assistant
	MinConfidence float64
}

// New builds the MCP server with every tool registered.
func New(version string, deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		Name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	if deps.Syncer != nil {
		syncTool := NewSyncTool(deps.Syncer)
		s.AddTool(syncTool.Definition(), syncTool.Handle)
	}

	renderTool := NewRenderTool(deps.Templates)
	s.AddTool(renderTool.Definition(), renderTool.Handle)

	extractTool := NewExtractTool(deps.Templates, deps.Assistant, deps.MinConfidence)
	s.AddTool(extractTool.Definition(), extractTool.Handle)

	filenameTool := NewFilenameTool(deps.Pattern)
	s.AddTool(filenameTool.Definition(), filenameTool.Handle)

	return s
}

// Serve runs the server on stdin/stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

const instructions = `Issues live twice: as beads records and as markdown files with frontmatter.
Use todo_sync to reconcile them (dry_run first to preview), todo_render and
todo_extract to move between issue data and markdown, and todo_filename to see
where an issue's file will be written.`
