// Package templates renders issues into free-form Markdown through slot
// templates and recovers structured fields from edited Markdown.
//
// A template is plain Markdown with {dotted.path} slots, for example
//
//	# {issue.title}
//
//	{issue.description}
//
// Render fills the slots from a Record, Extract reverses the process and
// reports how many slots it could recover as a confidence score.
package templates

import (
	"regexp"
)

var slotRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+)*)\}`)

// Render substitutes every slot in tmpl with the value found at its path in
// ctx. Missing paths render as the empty string.
func Render(tmpl string, ctx Record) string {
	return slotRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		v, ok := ctx.Get(m[1 : len(m)-1])
		if !ok {
			return ""
		}
		return v.Text()
	})
}

// part is one literal run or slot of a template.
type part struct {
	slot bool
	text string // literal text, or the slot path
}

func parseTemplate(tmpl string) []part {
	var parts []part
	last := 0
	for _, loc := range slotRe.FindAllStringSubmatchIndex(tmpl, -1) {
		if loc[0] > last {
			parts = append(parts, part{text: tmpl[last:loc[0]]})
		}
		parts = append(parts, part{slot: true, text: tmpl[loc[2]:loc[3]]})
		last = loc[1]
	}
	if last < len(tmpl) {
		parts = append(parts, part{text: tmpl[last:]})
	}
	return parts
}

// Slots lists the slot paths of tmpl in order of appearance, without
// duplicates.
func Slots(tmpl string) []string {
	var (
		out  []string
		seen = make(map[string]bool)
	)
	for _, p := range parseTemplate(tmpl) {
		if p.slot && !seen[p.text] {
			seen[p.text] = true
			out = append(out, p.text)
		}
	}
	return out
}
