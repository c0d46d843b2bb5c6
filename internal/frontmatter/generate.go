package frontmatter

import (
	"strconv"
	"strings"

	"github.com/Mschirtzinger/todosync/internal/types"
)

// relatedHeading opens the generated relationship section.
const relatedHeading = "## Related Issues"

// Generate renders an issue as a Markdown document with a YAML metadata
// block, an H1 title and the description. Relationship lists are always
// emitted so an explicit empty list survives a round trip.
func Generate(issue *types.Issue) string {
	var b strings.Builder
	b.WriteString(yamlDelim + "\n")
	field(&b, "id", quote(issue.ID))
	field(&b, "title", quote(issue.Title))
	field(&b, "status", quote(string(issue.Status)))
	field(&b, "type", quote(string(issue.Type)))
	field(&b, "priority", strconv.Itoa(issue.Priority))
	field(&b, "labels", quoteList(issue.Labels))
	if issue.Assignee != "" {
		field(&b, "assignee", quote(issue.Assignee))
	}
	if issue.CreatedAt != "" {
		field(&b, "createdAt", quote(issue.CreatedAt))
	}
	if issue.UpdatedAt != "" {
		field(&b, "updatedAt", quote(issue.UpdatedAt))
	}
	if issue.ClosedAt != "" {
		field(&b, "closedAt", quote(issue.ClosedAt))
	}
	field(&b, "dependsOn", quoteList(issue.DependsOn))
	field(&b, "blocks", quoteList(issue.Blocks))
	field(&b, "children", quoteList(issue.Children))
	if issue.Parent != "" {
		field(&b, "parent", quote(issue.Parent))
	}
	b.WriteString(yamlDelim + "\n\n")

	b.WriteString("# " + issue.Title + "\n")
	if desc := StripGenerated(issue.Description, issue.Title); desc != "" {
		b.WriteString("\n" + desc + "\n")
	}

	if issue.HasRelations() {
		b.WriteString("\n" + relatedHeading + "\n\n")
		relation(&b, "Depends on", issue.DependsOn)
		relation(&b, "Blocks", issue.Blocks)
		relation(&b, "Children", issue.Children)
	}
	return b.String()
}

func field(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteByte('\n')
}

func relation(b *strings.Builder, label string, ids []string) {
	if len(ids) == 0 {
		return
	}
	links := make([]string, len(ids))
	for i, id := range ids {
		links[i] = "[" + id + "](./" + id + ".md)"
	}
	b.WriteString("- " + label + ": " + strings.Join(links, ", ") + "\n")
}

var quoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)

// quote produces a double-quoted YAML scalar.
func quote(s string) string {
	return `"` + quoter.Replace(s) + `"`
}

func quoteList(items []string) string {
	q := make([]string, len(items))
	for i, item := range items {
		q[i] = quote(item)
	}
	return "[" + strings.Join(q, ", ") + "]"
}

// StripGenerated removes the parts of a description that Generate adds
// around it: a leading "# title" line and a trailing Related Issues section.
// Comparing stripped descriptions keeps a freshly written file from looking
// like an edit.
func StripGenerated(desc, title string) string {
	desc = strings.TrimLeft(desc, "\r\n")
	if first, rest, _ := strings.Cut(desc, "\n"); strings.HasPrefix(first, "# ") &&
		strings.TrimSpace(first[2:]) == strings.TrimSpace(title) {
		desc = strings.TrimLeft(rest, "\r\n")
	}

	if i := strings.LastIndex(desc, relatedHeading); i >= 0 && (i == 0 || desc[i-1] == '\n') {
		if generatedRelations(desc[i+len(relatedHeading):]) {
			desc = desc[:i]
		}
	}
	return strings.TrimRight(desc, " \t\r\n")
}

// generatedRelations reports whether tail holds only the link lines
// written by relation.
func generatedRelations(tail string) bool {
	for _, line := range strings.Split(tail, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "- Depends on: ") &&
			!strings.HasPrefix(line, "- Blocks: ") &&
			!strings.HasPrefix(line, "- Children: ") {
			return false
		}
	}
	return true
}
