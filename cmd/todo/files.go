package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/todosync/internal/config"
	"github.com/Mschirtzinger/todosync/internal/pattern"
	"github.com/Mschirtzinger/todosync/internal/templates"
	"github.com/Mschirtzinger/todosync/internal/types"
	"github.com/Mschirtzinger/todosync/internal/ui"
)

// loadTemplate reads path when given, otherwise resolves the template for
// kind from the project configuration.
func loadTemplate(cfg *config.Config, path, kind string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - user supplied template
		if err != nil {
			return "", fmt.Errorf("failed to read template %s: %w", path, err)
		}
		return string(data), nil
	}
	return templates.Resolve(kind, templates.ResolveConfig{Dir: cfg.Templates.Dir, Preset: cfg.Templates.Preset}), nil
}

// loadIssueArg returns the issue named by id in the beads log, or read from
// file (JSON or a markdown issue file) when file is set.
func loadIssueArg(cfg *config.Config, args []string, file string) (*types.Issue, error) {
	if file == "" {
		if len(args) == 0 {
			return nil, fmt.Errorf("an issue id or --file is required")
		}
		return findIssue(cfg, args[0])
	}
	if strings.EqualFold(filepath.Ext(file), ".json") {
		data, err := os.ReadFile(file) // #nosec G304 - user supplied issue file
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		var issue types.Issue
		if err := json.Unmarshal(data, &issue); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file, err)
		}
		if err := issue.Validate(); err != nil {
			return nil, err
		}
		return &issue, nil
	}
	return readIssueFile(file)
}

func newRenderCmd(a *app) *cobra.Command {
	var file, tmplPath string

	cmd := &cobra.Command{
		Use:     "render [id]",
		GroupID: GroupFiles,
		Short:   "Render an issue through its template",
		Long: `Render an issue with the template for its type.

Templates are looked up as .todo/templates/<Type>.mdx, then the configured
preset, then the built-in template. Placeholders look like {issue.title}.

Examples:
  todo render bd-12
  todo render --file issue.json --template custom.mdx`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			issue, err := loadIssueArg(cfg, args, a.abs(file))
			if err != nil {
				return err
			}
			tmpl, err := loadTemplate(cfg, a.abs(tmplPath), string(issue.Type))
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, templates.Render(tmpl, templates.IssueContext(issue)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Render this issue file (.json or .md) instead of a beads issue")
	cmd.Flags().StringVarP(&tmplPath, "template", "t", "", "Template file to use")
	return cmd
}

func newExtractCmd(a *app) *cobra.Command {
	var (
		tmplPath string
		kind     string
		merge    string
		noAI     bool
	)

	cmd := &cobra.Command{
		Use:     "extract <file>",
		GroupID: GroupFiles,
		Short:   "Recover issue fields from an edited rendering",
		Long: `Match an edited document against its template and print the recovered
values as JSON, along with a confidence score and any unmatched slots.

When ai.api-key (or ANTHROPIC_API_KEY) is set and confidence falls below
ai.min-confidence, the unmatched slots are filled by the model.

With --merge the values are overlaid on the named beads issue and the
resulting issue is printed instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(a.abs(args[0])) // #nosec G304 - user supplied document
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			tmpl, err := loadTemplate(cfg, a.abs(tmplPath), kind)
			if err != nil {
				return err
			}

			res := templates.Extract(tmpl, string(data))
			if !noAI {
				if assistant := a.assistant(cfg); assistant != nil {
					assisted, err := templates.ExtractAssisted(cmd.Context(), tmpl, string(data), assistant, cfg.AI.MinConfidence)
					if err != nil {
						fmt.Fprintf(a.errOut, "Warning: assisted extraction failed, using plain match: %v\n", err)
					} else {
						res = assisted
					}
				}
			}

			if merge == "" {
				return a.printJSON(res)
			}
			base, err := findIssue(cfg, merge)
			if err != nil {
				return err
			}
			issue, err := templates.IssueFromRecord(templates.ApplyExtract(templates.IssueContext(base), res.Data))
			if err != nil {
				return err
			}
			return a.printJSON(issue)
		},
	}
	cmd.Flags().StringVarP(&tmplPath, "template", "t", "", "Template file the document was rendered from")
	cmd.Flags().StringVarP(&kind, "kind", "k", string(types.TypeTask), "Issue type whose template to use when --template is not set")
	cmd.Flags().StringVar(&merge, "merge", "", "Overlay the values on this beads issue")
	cmd.Flags().BoolVar(&noAI, "no-ai", false, "Never call the model")
	return cmd
}

func newDiffCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "diff <file>",
		GroupID: GroupFiles,
		Short:   "Show how an issue file differs from beads",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			file, err := readIssueFile(a.abs(args[0]))
			if err != nil {
				return err
			}
			beadsIssue, err := findIssue(cfg, file.ID)
			if err != nil {
				return err
			}

			d := templates.Diff(templates.IssueContext(beadsIssue), templates.IssueContext(file))
			if a.jsonOutput {
				return a.printJSON(d)
			}
			if !d.HasChanges {
				fmt.Fprintf(a.out, "%s %s matches beads\n", ui.RenderPass(ui.IconPass), file.ID)
				return nil
			}
			for _, path := range d.Paths() {
				field := strings.TrimPrefix(path, "issue.")
				switch {
				case hasKey(d.Added, path):
					fmt.Fprintf(a.out, "%s %s: %q\n", ui.RenderPass("+"), field, d.Added[path].Text())
				case hasKey(d.Removed, path):
					fmt.Fprintf(a.out, "%s %s: %q\n", ui.RenderFail("-"), field, d.Removed[path].Text())
				default:
					c := d.Modified[path]
					fmt.Fprintf(a.out, "%s %s: %q %s %q\n", ui.RenderWarn("~"), field, c.From.Text(), ui.RenderMuted("->"), c.To.Text())
				}
			}
			return nil
		},
	}
	return cmd
}

func hasKey(m map[string]templates.Value, k string) bool {
	_, ok := m[k]
	return ok
}

func newParseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "parse <file>",
		GroupID: GroupFiles,
		Short:   "Print a markdown issue file as JSON",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issue, err := readIssueFile(a.abs(args[0]))
			if err != nil {
				return err
			}
			return a.printJSON(issue)
		},
	}
}

func newFilenameCmd(a *app) *cobra.Command {
	var (
		pat      string
		existing []string
		extract  string
	)

	cmd := &cobra.Command{
		Use:     "filename [id]",
		GroupID: GroupFiles,
		Short:   "Show the file name an issue gets, or the id a file name carries",
		Long: `Apply the file name pattern to a beads issue, or with --extract recover the
issue id from a file name.

Pattern variables: [id] [title] [type] [priority] [assignee] [yyyy-mm-dd].
Titles are slugified; [Title] keeps their words capitalized instead.

Examples:
  todo filename bd-12
  todo filename bd-12 --pattern "[type]/[id].md"
  todo filename --extract "bd-12-fix-login.md"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("pattern") {
				pat = cfg.Pattern
			}

			if extract != "" {
				id, ok := pattern.ExtractID(filepath.Base(extract), pat)
				if !ok {
					return fmt.Errorf("no issue id in %q for pattern %q", extract, pat)
				}
				fmt.Fprintln(a.out, id)
				return nil
			}

			if len(args) == 0 {
				return fmt.Errorf("an issue id or --extract is required")
			}
			issue, err := findIssue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, pattern.Apply(pat, issue, existing))
			return nil
		},
	}
	cmd.Flags().StringVarP(&pat, "pattern", "p", pattern.DefaultPattern, "File name pattern (default: pattern)")
	cmd.Flags().StringSliceVar(&existing, "existing", nil, "Names already taken, for collision suffixes")
	cmd.Flags().StringVar(&extract, "extract", "", "Recover the id from this file name")
	return cmd
}
