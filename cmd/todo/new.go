package main

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/todosync/internal/beads"
	"github.com/Mschirtzinger/todosync/internal/frontmatter"
	"github.com/Mschirtzinger/todosync/internal/types"
	"github.com/Mschirtzinger/todosync/internal/ui"
)

const defaultIDPrefix = "bd"

func newNewCmd(a *app) *cobra.Command {
	var (
		id          string
		title       string
		issueType   string
		priority    int
		description string
		labels      []string
		assignee    string
	)

	cmd := &cobra.Command{
		Use:     "new",
		GroupID: GroupFiles,
		Short:   "Create an issue file",
		Long: `Create a markdown issue file under the managed directory. The issue reaches
beads on the next sync.

Without --title on a terminal an interactive form is shown.

Examples:
  todo new
  todo new --title "Fix login" --type bug --priority 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			files := frontmatter.NewDir(cfg.Dir, cfg.WriteOptions(), a.logger("files"))

			beadsIssues, err := beads.LoadLog(cfg.BeadsLog())
			var logErr *beads.LogError
			if err != nil && !errors.As(err, &logErr) {
				return err
			}
			fileIssues, err := files.LoadIssues(ctx)
			var lerr *frontmatter.LoadError
			if err != nil && !errors.As(err, &lerr) {
				return err
			}
			if id == "" {
				id = nextID(append(beadsIssues, fileIssues...))
			}

			if title == "" && ui.IsTerminal(os.Stdin) {
				prio := strconv.Itoa(priority)
				err := huh.NewForm(
					huh.NewGroup(
						huh.NewInput().Title("ID").Value(&id),
						huh.NewInput().
							Title("Title").
							Validate(func(s string) error {
								if strings.TrimSpace(s) == "" {
									return errors.New("title is required")
								}
								return nil
							}).
							Value(&title),
						huh.NewSelect[string]().
							Title("Type").
							Options(
								huh.NewOption("Task", string(types.TypeTask)),
								huh.NewOption("Bug", string(types.TypeBug)),
								huh.NewOption("Feature", string(types.TypeFeature)),
								huh.NewOption("Epic", string(types.TypeEpic)),
							).
							Value(&issueType),
						huh.NewSelect[string]().
							Title("Priority").
							Options(
								huh.NewOption("P0 - critical", "0"),
								huh.NewOption("P1 - high", "1"),
								huh.NewOption("P2 - medium", "2"),
								huh.NewOption("P3 - low", "3"),
								huh.NewOption("P4 - backlog", "4"),
							).
							Value(&prio),
						huh.NewText().Title("Description").Value(&description),
					),
				).RunWithContext(ctx)
				if err != nil {
					if errors.Is(err, huh.ErrUserAborted) {
						fmt.Fprintln(a.errOut, "Issue creation cancelled.")
						return nil
					}
					return fmt.Errorf("form error: %w", err)
				}
				if p, err := strconv.Atoi(prio); err == nil {
					priority = p
				}
			}
			if strings.TrimSpace(title) == "" {
				return errors.New("--title is required")
			}

			now := types.FormatTime(time.Now())
			issue := &types.Issue{
				ID:          strings.TrimSpace(id),
				Title:       strings.TrimSpace(title),
				Description: strings.TrimSpace(description),
				Status:      types.StatusOpen,
				Type:        types.NormalizeType(issueType),
				Priority:    types.ClampPriority(float64(priority)),
				Labels:      labels,
				Assignee:    assignee,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := issue.Validate(); err != nil {
				return err
			}
			if _, ok := files.Path(issue.ID); ok {
				return fmt.Errorf("issue %s already has a file", issue.ID)
			}
			taken := make([]string, 0, len(beadsIssues))
			for _, b := range beadsIssues {
				taken = append(taken, b.ID)
			}
			if logErr != nil {
				taken = append(taken, logErr.IDs()...)
			}
			if slices.Contains(taken, issue.ID) {
				return fmt.Errorf("issue %s already exists in beads", issue.ID)
			}

			res, err := files.WriteIssues(ctx, []*types.Issue{issue})
			if err != nil {
				return err
			}
			if werr := res.Errors[issue.ID]; werr != nil {
				return werr
			}
			if a.jsonOutput {
				return a.printJSON(map[string]string{"id": issue.ID, "path": res.Written[issue.ID]})
			}
			fmt.Fprintf(a.out, "%s Created %s: %s\n", ui.RenderPass(ui.IconPass), issue.ID, res.Written[issue.ID])
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Issue id (default: next free <prefix>-N)")
	cmd.Flags().StringVar(&title, "title", "", "Issue title")
	cmd.Flags().StringVarP(&issueType, "type", "t", string(types.TypeTask), "Issue type (task|bug|feature|epic)")
	cmd.Flags().IntVarP(&priority, "priority", "p", types.DefaultPriority, "Priority (0-4, 0=highest)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Issue description")
	cmd.Flags().StringSliceVarP(&labels, "labels", "l", nil, "Labels (comma-separated)")
	cmd.Flags().StringVarP(&assignee, "assignee", "a", "", "Assignee")
	return cmd
}

// nextID proposes <prefix>-<n+1> where n is the highest numeric suffix in
// use. The prefix is the most common one among the given ids.
func nextID(issues []*types.Issue) string {
	counts := make(map[string]int)
	highest := make(map[string]int)
	for _, issue := range issues {
		i := strings.LastIndex(issue.ID, "-")
		if i <= 0 {
			continue
		}
		prefix := issue.ID[:i]
		counts[prefix]++
		if n, err := strconv.Atoi(issue.ID[i+1:]); err == nil && n > highest[prefix] {
			highest[prefix] = n
		}
	}

	prefix := defaultIDPrefix
	best := 0
	for p, c := range counts {
		if c > best || (c == best && p < prefix) {
			prefix, best = p, c
		}
	}
	return fmt.Sprintf("%s-%d", prefix, highest[prefix]+1)
}
