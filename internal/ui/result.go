package ui

import (
	"fmt"
	"strings"

	todosync "github.com/Mschirtzinger/todosync/internal/sync"
)

// FormatResult renders a sync result for the terminal, one line per
// action followed by a summary.
func FormatResult(res *todosync.Result) string {
	var b strings.Builder

	verb := "Synced"
	if res.DryRun {
		verb = "Would sync"
		b.WriteString(RenderCategory("Dry run") + RenderMuted(" (nothing was changed)") + "\n")
	}

	for _, a := range res.Actions {
		target := RenderMuted("[" + string(a.Target) + "]")
		if a.Error != "" {
			fmt.Fprintf(&b, "%s %-6s %s %s %s\n", RenderFail(IconFail), a.Kind, a.ID, target, RenderFail(a.Error))
			continue
		}
		line := fmt.Sprintf("%s %-6s %s %s", RenderPass(IconPass), a.Kind, a.ID, target)
		if a.Path != "" {
			line += " " + RenderMuted(a.Path)
		}
		b.WriteString(line + "\n")
	}
	for _, c := range res.Conflicts {
		fmt.Fprintf(&b, "%s conflict %s: edited on both sides, kept %s\n", RenderWarn(IconWarn), c.ID, c.Winner)
	}
	for _, id := range res.Skipped {
		fmt.Fprintf(&b, "%s skipped %s: unreadable file or beads record\n", RenderWarn(IconSkip), id)
	}

	if !res.Changed() && len(res.Errors) == 0 {
		fmt.Fprintf(&b, "%s Everything in sync (%s)\n", RenderPass(IconPass), res.Direction)
		return b.String()
	}

	summary := fmt.Sprintf("%s %s: %d created, %d updated, %d deleted, %d files written",
		verb, res.Direction, len(res.Created), len(res.Updated), len(res.Deleted), len(res.FilesWritten))
	if n := len(res.Conflicts); n > 0 {
		summary += fmt.Sprintf(", %d conflicts", n)
	}
	if n := len(res.Errors); n > 0 {
		summary += ", " + RenderFail(fmt.Sprintf("%d errors", n))
	}
	b.WriteString(RenderAccent(IconInfo) + " " + summary + "\n")
	return b.String()
}
