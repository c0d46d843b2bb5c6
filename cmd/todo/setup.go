package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/todosync/internal/config"
	"github.com/Mschirtzinger/todosync/internal/lockfile"
	"github.com/Mschirtzinger/todosync/internal/mcpserver"
	todosync "github.com/Mschirtzinger/todosync/internal/sync"
	"github.com/Mschirtzinger/todosync/internal/templates"
	"github.com/Mschirtzinger/todosync/internal/ui"
)

func newInitCmd(a *app) *cobra.Command {
	var (
		preset        string
		copyTemplates bool
	)

	cmd := &cobra.Command{
		Use:     "init",
		GroupID: GroupSetup,
		Short:   "Create .todo/config.yaml in the current directory",
		Long: `Write a config.yaml holding every default into .todo/, along with a
.gitignore that keeps the sync state out of version control.

With --templates the built-in templates are copied into .todo/templates/
for editing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root := a.startDir
			if root == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("failed to get working directory: %w", err)
				}
				root = wd
			}
			if preset != "" {
				if _, err := templates.Preset(preset); err != nil {
					return err
				}
			}

			path, err := config.WriteDefault(root, preset)
			if err != nil {
				return err
			}
			dir := filepath.Join(root, config.DirName)
			if err := ensureIgnore(dir); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s Created %s\n", ui.RenderPass(ui.IconPass), path)

			if copyTemplates {
				written, err := writeTemplates(filepath.Join(dir, "templates"))
				if err != nil {
					return err
				}
				for _, p := range written {
					fmt.Fprintf(a.out, "%s Created %s\n", ui.RenderPass(ui.IconPass), p)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&preset, "preset", "", "Built-in template preset to configure (minimal, standard, detailed)")
	cmd.Flags().BoolVar(&copyTemplates, "templates", false, "Copy the built-in templates into .todo/templates")
	return cmd
}

// writeTemplates copies the built-in template of every issue type into dir,
// leaving existing files alone.
func writeTemplates(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	var written []string
	for _, kind := range []string{"Task", "Bug", "Feature", "Epic"} {
		path := filepath.Join(dir, kind+templates.Ext)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(templates.Builtin(kind)), 0600); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "mcp",
		GroupID: GroupSetup,
		Short:   "Serve the todo tools over MCP on stdin/stdout",
		Long: `Run a Model Context Protocol server on stdin/stdout exposing:

  todo_sync      run a sync pass (dry_run to preview)
  todo_render    render issue JSON through a template
  todo_extract   recover issue fields from edited markdown
  todo_filename  compute or parse issue file names

Register it with an MCP client as: todo mcp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context(), "todo mcp", shared)
			if err != nil {
				return err
			}
			defer s.Close()

			srv := mcpserver.New(Version, mcpserver.Deps{
				Syncer:        &lockedSyncer{syncer: s.syncer, path: filepath.Join(s.cfg.Dir, lockName)},
				Templates:     a.resolveConfig(s.cfg),
				Pattern:       s.cfg.Pattern,
				Assistant:     a.assistant(s.cfg),
				MinConfidence: s.cfg.AI.MinConfidence,
			})
			return mcpserver.Serve(srv)
		},
	}
}

// lockedSyncer holds the project lock for the length of each sync, so a
// long-lived server does not block other commands between calls.
type lockedSyncer struct {
	syncer *todosync.Syncer
	path   string
}

func (l *lockedSyncer) Sync(ctx context.Context, opts todosync.Options) (*todosync.Result, error) {
	if opts.DryRun {
		return l.syncer.Sync(ctx, opts)
	}
	lock, err := lockfile.Acquire(l.path, "todo mcp")
	if err != nil {
		return nil, fmt.Errorf("another todo command is running: %w", err)
	}
	defer func() { _ = lock.Release() }()
	return l.syncer.Sync(ctx, opts)
}
