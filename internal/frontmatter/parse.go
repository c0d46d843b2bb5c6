// Package frontmatter converts between issues and Markdown documents that
// carry the issue fields in a leading metadata block:
//
//	---
//	id: "todo-abc"
//	title: "Add user auth"
//	status: "open"
//	priority: 1
//	labels: ["backend"]
//	---
//
//	# Add user auth
//
//	Body text becomes the description.
//
// YAML blocks are delimited by "---"; TOML blocks by "+++".
package frontmatter

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"gopkg.in/yaml.v3"

	"github.com/Mschirtzinger/todosync/internal/types"
)

const (
	yamlDelim = "---"
	tomlDelim = "+++"
)

// aliases maps accepted metadata keys to canonical field names.
var aliases = map[string]string{
	"id":         "id",
	"title":      "title",
	"status":     "status",
	"state":      "status",
	"type":       "type",
	"issue_type": "type",
	"issueType":  "type",
	"priority":   "priority",
	"labels":     "labels",
	"tags":       "labels",
	"assignee":   "assignee",
	"createdAt":  "createdAt",
	"created_at": "createdAt",
	"created":    "createdAt",
	"updatedAt":  "updatedAt",
	"updated_at": "updatedAt",
	"updated":    "updatedAt",
	"closedAt":   "closedAt",
	"closed_at":  "closedAt",
	"closed":     "closedAt",
	"dependsOn":  "dependsOn",
	"depends_on": "dependsOn",
	"blocks":     "blocks",
	"children":   "children",
	"parent":     "parent",
}

// now is swapped in tests.
var now = time.Now

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// Parse reads an issue document. The description is the body after the
// metadata block, verbatim.
func Parse(content string) (*types.Issue, error) {
	meta, body, format, err := split(content)
	if err != nil {
		return nil, err
	}

	raw := make(map[string]any)
	switch format {
	case tomlDelim:
		if _, err := toml.Decode(meta, &raw); err != nil {
			return nil, &types.ValidationError{Field: "frontmatter", Reason: fmt.Sprintf("malformed TOML: %v", err)}
		}
	default:
		if err := yaml.Unmarshal([]byte(meta), &raw); err != nil {
			return nil, &types.ValidationError{Field: "frontmatter", Reason: fmt.Sprintf("malformed YAML: %v", err)}
		}
	}

	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if canon, ok := aliases[k]; ok {
			if _, dup := fields[canon]; !dup || k == canon {
				fields[canon] = v
			}
		}
	}

	for _, key := range scalarKeys {
		if err := requireScalar(key, fields[key]); err != nil {
			return nil, err
		}
	}

	issue := &types.Issue{
		ID:          strings.TrimSpace(scalar(fields["id"])),
		Title:       strings.TrimSpace(scalar(fields["title"])),
		Description: body,
		Status:      types.NormalizeStatus(scalar(fields["status"])),
		Type:        types.NormalizeType(scalar(fields["type"])),
		Assignee:    strings.TrimSpace(scalar(fields["assignee"])),
		Parent:      strings.TrimSpace(scalar(fields["parent"])),
		CreatedAt:   timestamp(fields["createdAt"]),
		UpdatedAt:   timestamp(fields["updatedAt"]),
		ClosedAt:    timestamp(fields["closedAt"]),
	}
	if issue.ID == "" {
		return nil, &types.ValidationError{Field: "id", Reason: "missing or empty"}
	}
	if issue.Title == "" {
		issue.Title = headingTitle(body)
	}

	issue.Priority, err = types.ParsePriority(fields["priority"])
	if err != nil {
		return nil, err
	}
	if issue.Labels, err = list(fields, "labels"); err != nil {
		return nil, err
	}
	if issue.DependsOn, err = list(fields, "dependsOn"); err != nil {
		return nil, err
	}
	if issue.Blocks, err = list(fields, "blocks"); err != nil {
		return nil, err
	}
	if issue.Children, err = list(fields, "children"); err != nil {
		return nil, err
	}
	return issue, nil
}

// split separates the metadata block from the body.
func split(content string) (meta, body, format string, err error) {
	content = strings.TrimPrefix(content, "\ufeff")
	first, rest, _ := strings.Cut(content, "\n")
	format = strings.TrimSpace(first)
	if format != yamlDelim && format != tomlDelim {
		return "", "", "", &types.ValidationError{Field: "id", Reason: "document has no metadata block"}
	}

	for offset := 0; offset <= len(rest); {
		line, next := rest[offset:], len(rest)
		if end := strings.IndexByte(line, '\n'); end >= 0 {
			line, next = line[:end], offset+end+1
		}
		if strings.TrimRight(line, " \t\r") == format {
			return rest[:offset], rest[next:], format, nil
		}
		if next == len(rest) {
			break
		}
		offset = next
	}
	return "", "", "", &types.ValidationError{Field: "frontmatter", Reason: "unterminated metadata block"}
}

// scalarKeys hold a single value; lists and tables are rejected for them.
var scalarKeys = []string{"id", "title", "status", "type", "assignee", "parent", "createdAt", "updatedAt", "closedAt"}

func requireScalar(key string, v any) error {
	switch v.(type) {
	case []any, []string, []map[string]any:
		return &types.ValidationError{Field: key, Reason: "expected a single value, got a list"}
	case map[string]any, map[any]any:
		return &types.ValidationError{Field: key, Reason: "expected a single value, got a mapping"}
	}
	return nil
}

func scalar(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case time.Time:
		return formatTime(s)
	default:
		return fmt.Sprint(s)
	}
}

// timestamp keeps ISO-8601 values verbatim and turns natural language such
// as "yesterday" into RFC 3339. Anything else is kept as written.
func timestamp(v any) string {
	if t, ok := v.(time.Time); ok {
		return formatTime(t)
	}
	s := strings.TrimSpace(scalar(v))
	if s == "" {
		return ""
	}
	if _, ok := types.ParseTime(s); ok {
		return s
	}
	if r, err := dateParser.Parse(s, now()); err == nil && r != nil {
		return types.FormatTime(r.Time)
	}
	return s
}

func formatTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339)
}

// list accepts a sequence or a comma separated string. Absent keys yield
// nil, explicit empty values an empty slice.
func list(fields map[string]any, key string) ([]string, error) {
	v, ok := fields[key]
	if !ok {
		return nil, nil
	}
	switch l := v.(type) {
	case nil:
		return []string{}, nil
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			if s := strings.TrimSpace(scalar(item)); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case []string:
		return append([]string{}, l...), nil
	case string:
		out := []string{}
		for _, item := range strings.Split(l, ",") {
			if s := strings.TrimSpace(item); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		return nil, &types.ValidationError{Field: key, Reason: fmt.Sprintf("expected a list, got %T", v)}
	}
}

// headingTitle returns the text of a leading H1, if any.
func headingTitle(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
		return ""
	}
	return ""
}
