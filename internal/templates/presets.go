package templates

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownPreset is returned by Preset for names that are not built in.
var ErrUnknownPreset = errors.New("unknown template preset")

// built-in presets, selectable by name
var presets = map[string]string{
	"minimal": `# {issue.title}

{issue.description}
`,
	"standard": `# {issue.title}

**Status:** {issue.status} | **Priority:** {issue.priority} | **Type:** {issue.type}

## Description

{issue.description}
`,
	"detailed": `# {issue.title}

| Field | Value |
|-------|-------|
| ID | {issue.id} |
| Status | {issue.status} |
| Type | {issue.type} |
| Priority | {issue.priority} |
| Assignee | {issue.assignee} |
| Labels | {issue.labels} |

## Description

{issue.description}

## Relationships

- Depends on: {issue.dependsOn}
- Blocks: {issue.blocks}
- Children: {issue.children}
`,
}

// minimal templates per issue kind, the last step of resolution
var kindTemplates = map[string]string{
	"issue": presets["minimal"],
	"task":  presets["minimal"],
	"bug": `# {issue.title}

**Priority:** {issue.priority}

## Description

{issue.description}
`,
	"feature": presets["standard"],
	"epic": `# {issue.title}

{issue.description}

## Children

{issue.children}
`,
}

// Preset returns the built-in preset called name.
func Preset(name string) (string, error) {
	t, ok := presets[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("%w: %q (available: %s)", ErrUnknownPreset, name, strings.Join(PresetNames(), ", "))
	}
	return t, nil
}

// PresetNames lists the built-in presets.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Builtin returns the compiled-in template for kind, falling back to the
// generic issue template.
func Builtin(kind string) string {
	if t, ok := kindTemplates[strings.ToLower(kind)]; ok {
		return t
	}
	return kindTemplates["issue"]
}
