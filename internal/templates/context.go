package templates

import (
	"strconv"
	"strings"

	"github.com/Mschirtzinger/todosync/internal/types"
)

// IssueContext builds the rendering context for an issue. Fields live under
// the "issue" key; numbers are stringified and absent lists become empty.
func IssueContext(issue *types.Issue) Record {
	return Record{"issue": Nested(Record{
		"id":          String(issue.ID),
		"title":       String(issue.Title),
		"description": String(issue.Description),
		"status":      String(string(issue.Status)),
		"type":        String(string(issue.Type)),
		"priority":    String(strconv.Itoa(issue.Priority)),
		"labels":      List(issue.Labels...),
		"assignee":    String(issue.Assignee),
		"createdAt":   String(issue.CreatedAt),
		"updatedAt":   String(issue.UpdatedAt),
		"closedAt":    String(issue.ClosedAt),
		"dependsOn":   List(issue.DependsOn...),
		"blocks":      List(issue.Blocks...),
		"children":    List(issue.Children...),
		"parent":      String(issue.Parent),
	})}
}

// IssueFromRecord converts a context-shaped record, typically the merge of
// IssueContext and an extraction, back into an Issue. Values are normalized
// the same way frontmatter is.
func IssueFromRecord(r Record) (*types.Issue, error) {
	str := func(field string) string {
		v, _ := r.Get("issue." + field)
		return strings.TrimSpace(v.Text())
	}
	list := func(field string) []string {
		v, ok := r.Get("issue." + field)
		if !ok {
			return nil
		}
		if v.Kind() == KindList {
			return v.Items()
		}
		return splitList(v.Text())
	}

	issue := &types.Issue{
		ID:          str("id"),
		Title:       str("title"),
		Description: str("description"),
		Status:      types.NormalizeStatus(str("status")),
		Type:        types.NormalizeType(str("type")),
		Labels:      list("labels"),
		Assignee:    str("assignee"),
		CreatedAt:   str("createdAt"),
		UpdatedAt:   str("updatedAt"),
		ClosedAt:    str("closedAt"),
		DependsOn:   list("dependsOn"),
		Blocks:      list("blocks"),
		Children:    list("children"),
		Parent:      str("parent"),
	}
	p, err := types.ParsePriority(str("priority"))
	if err != nil {
		return nil, err
	}
	issue.Priority = p
	if err := issue.Validate(); err != nil {
		return nil, err
	}
	return issue, nil
}

// splitList reads back a list rendered as "a, b, c".
func splitList(s string) []string {
	out := []string{}
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
