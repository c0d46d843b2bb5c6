package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/todosync/internal/config"
	"github.com/Mschirtzinger/todosync/internal/statedb"
	todosync "github.com/Mschirtzinger/todosync/internal/sync"
	"github.com/Mschirtzinger/todosync/internal/types"
	"github.com/Mschirtzinger/todosync/internal/ui"
	"github.com/Mschirtzinger/todosync/internal/vcs"
)

func newSyncCmd(a *app) *cobra.Command {
	var (
		direction       string
		handleDeletions bool
		dryRun          bool
		yes             bool
		commit          bool
	)

	cmd := &cobra.Command{
		Use:     "sync",
		GroupID: GroupSync,
		Short:   "Reconcile beads issues with the markdown issue files",
		Long: `Compare every beads issue with its markdown file and carry changes over.

Directions:
  bidirectional    newer side wins per issue (default)
  beads-to-files   beads is authoritative, files are rewritten
  files-to-beads   files are authoritative, beads is updated

Issues missing on one side are recreated there unless --handle-deletions is
set, in which case they are deleted from the other side. Issues that were
never synced before are always recreated, never deleted.

Examples:
  todo sync --dry-run
  todo sync --direction files-to-beads --handle-deletions`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mode := exclusive
			if dryRun {
				mode = readOnly
			}
			s, err := a.openSession(ctx, "todo sync", mode)
			if err != nil {
				return err
			}
			defer s.Close()

			opts, err := syncOptions(s.cfg, cmd, direction, handleDeletions, dryRun)
			if err != nil {
				return err
			}

			if opts.HandleDeletions && !opts.DryRun && !yes && ui.IsTerminal(os.Stdin) {
				ok, err := confirmDeletions(ctx, s.syncer, opts)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(a.out, "Aborted.")
					return nil
				}
			}

			res, err := s.syncer.Sync(ctx, opts)
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("commit") {
				commit = s.cfg.Sync.AutoCommit
			}
			if commit && !res.DryRun && res.Changed() {
				if err := commitResult(ctx, s.cfg, res); err != nil {
					fmt.Fprintf(a.errOut, "Warning: auto-commit failed: %v\n", err)
				}
			}

			if a.jsonOutput {
				if err := a.printJSON(res); err != nil {
					return err
				}
			} else {
				fmt.Fprint(a.out, ui.FormatResult(res))
			}
			if len(res.Errors) > 0 {
				return &exitError{code: 1}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&direction, "direction", "d", "", "bidirectional, beads-to-files or files-to-beads (default: sync.direction)")
	cmd.Flags().BoolVar(&handleDeletions, "handle-deletions", false, "Propagate deletions (default: sync.handle-deletions)")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would change without changing anything")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask before deleting")
	cmd.Flags().BoolVar(&commit, "commit", false, "Commit changed files afterwards (default: sync.auto-commit)")
	return cmd
}

// syncOptions merges flags over the configured defaults.
func syncOptions(cfg *config.Config, cmd *cobra.Command, direction string, handleDeletions, dryRun bool) (todosync.Options, error) {
	if !cmd.Flags().Changed("direction") {
		direction = cfg.Sync.Direction
	}
	dir, err := todosync.ParseDirection(direction)
	if err != nil {
		return todosync.Options{}, err
	}
	if !cmd.Flags().Changed("handle-deletions") {
		handleDeletions = cfg.Sync.HandleDeletions
	}
	return todosync.Options{Direction: dir, HandleDeletions: handleDeletions, DryRun: dryRun}, nil
}

// confirmDeletions previews the run and asks before anything is deleted.
func confirmDeletions(ctx context.Context, syncer *todosync.Syncer, opts todosync.Options) (bool, error) {
	preview := opts
	preview.DryRun = true
	res, err := syncer.Sync(ctx, preview)
	if err != nil {
		return false, err
	}
	if len(res.Deleted) == 0 {
		return true, nil
	}

	ok := false
	err = huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Delete %d issue(s)?", len(res.Deleted))).
			Description(deletionList(res)).
			Affirmative("Delete").
			Negative("Cancel").
			Value(&ok),
	)).RunWithContext(ctx)
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, fmt.Errorf("confirmation failed: %w", err)
	}
	return ok, nil
}

func deletionList(res *todosync.Result) string {
	var lines string
	for _, a := range res.Actions {
		if a.Kind != todosync.ActionDelete && a.Kind != todosync.ActionRemove {
			continue
		}
		where := "beads"
		if a.Kind == todosync.ActionRemove {
			where = "file"
		}
		lines += fmt.Sprintf("%s (%s)\n", a.ID, where)
	}
	return lines
}

// commitResult records the files a run touched in the enclosing repository.
func commitResult(ctx context.Context, cfg *config.Config, res *todosync.Result) error {
	v, err := vcs.Open(cfg.Root)
	if err != nil {
		return err
	}

	paths := append([]string(nil), res.Paths...)
	if len(res.Created)+len(res.Updated) > 0 || deletedFromBeads(res) {
		paths = append(paths, cfg.BeadsLog())
	}
	msg := fmt.Sprintf("todo: sync %s (%d created, %d updated, %d deleted, %d files)",
		res.Direction, len(res.Created), len(res.Updated), len(res.Deleted), len(res.FilesWritten))

	err = v.Commit(ctx, vcs.CommitOptions{Message: msg, Paths: paths})
	if errors.Is(err, vcs.ErrNothingToCommit) {
		return nil
	}
	return err
}

func deletedFromBeads(res *todosync.Result) bool {
	for _, a := range res.Actions {
		if a.Kind == todosync.ActionDelete && a.Error == "" {
			return true
		}
	}
	return false
}

func newStatusCmd(a *app) *cobra.Command {
	var runs int

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: GroupSync,
		Short:   "Show pending changes and recent sync runs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openSession(ctx, "todo status", readOnly)
			if err != nil {
				return err
			}
			defer s.Close()

			changes, err := s.syncer.DetectChanges(ctx)
			if err != nil {
				return err
			}
			recent, err := s.recentRuns(ctx, runs)
			if err != nil {
				return err
			}

			if a.jsonOutput {
				return a.printJSON(map[string]interface{}{
					"changes": changes,
					"runs":    recent,
				})
			}
			printChanges(a, changes)
			printRuns(a, recent)
			return nil
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of recent runs to show")
	return cmd
}

func printChanges(a *app, c *todosync.ChangeSet) {
	if c.Empty() {
		fmt.Fprintf(a.out, "%s Everything in sync\n", ui.RenderPass(ui.IconPass))
		return
	}
	missing := make(map[string]bool)
	for _, id := range c.DeletedFiles {
		missing[id] = true
	}
	for _, id := range c.DeletedFromBeads {
		missing[id] = true
	}
	section := func(title string, issues []*types.Issue) {
		if len(issues) == 0 {
			return
		}
		fmt.Fprintf(a.out, "%s (%d)\n", ui.RenderCategory(title), len(issues))
		for _, issue := range issues {
			note := ""
			if missing[issue.ID] {
				note = " " + ui.RenderMuted("(missing on the other side)")
			}
			fmt.Fprintf(a.out, "  %s %s%s\n", issue.ID, issue.Title, note)
		}
	}
	section("Beads to files", c.ToFiles)
	section("Files to beads", c.ToBeads)
	if len(c.Conflicts) > 0 {
		fmt.Fprintf(a.out, "%s (%d)\n", ui.RenderCategory("Conflicts"), len(c.Conflicts))
		for _, conflict := range c.Conflicts {
			fmt.Fprintf(a.out, "  %s %s %s\n", ui.RenderWarn(ui.IconWarn), conflict.ID, ui.RenderMuted("("+string(conflict.Winner)+" wins)"))
		}
	}
}

func printRuns(a *app, runs []statedb.Run) {
	if len(runs) == 0 {
		return
	}
	fmt.Fprintf(a.out, "\n%s\n", ui.RenderCategory("Recent runs"))
	for _, r := range runs {
		mode := ""
		if r.DryRun {
			mode = " (dry run)"
		}
		fmt.Fprintf(a.out, "  %s %s%s: %d created, %d updated, %d deleted, %d files, %d errors %s\n",
			r.StartedAt.Local().Format(time.DateTime), r.Direction, mode,
			r.Created, r.Updated, r.Deleted, r.FilesWritten, r.Errors,
			ui.RenderMuted(r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()))
	}
}
