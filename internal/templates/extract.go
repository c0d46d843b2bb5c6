package templates

import (
	"regexp"
	"strings"
)

// Result is the outcome of extracting a document against a template.
type Result struct {
	Data       Record   `json:"data"`
	Confidence float64  `json:"confidence"`
	Unmatched  []string `json:"unmatched,omitempty"`
	AIAssisted bool     `json:"ai_assisted"`
}

// Extract recovers slot values from doc, which is assumed to be an edited
// rendering of tmpl.
//
// Literal runs of the template are anchors that must appear in order; runs of
// whitespace match any run of whitespace. The text between two anchors is the
// value of the slot before the second one, and a template ending in a slot
// captures the rest of the document. When an anchor is missing the slots on
// both sides of it are reported in Unmatched and matching resumes at the next
// anchor that can be found. Captured values are trimmed and stored as strings.
func Extract(tmpl, doc string) Result {
	parts := parseTemplate(tmpl)
	res := Result{Data: Record{}}

	var (
		pos     int
		start   int
		pending []string
		broken  bool
	)
	settle := func(end int) {
		if len(pending) == 0 {
			return
		}
		if broken {
			res.Unmatched = append(res.Unmatched, pending...)
		} else {
			// adjacent slots with nothing between them cannot be split
			res.Unmatched = append(res.Unmatched, pending[:len(pending)-1]...)
			res.Data.Set(pending[len(pending)-1], String(strings.TrimSpace(doc[start:end])))
		}
		pending = nil
	}

	for i, p := range parts {
		if p.slot {
			if len(pending) == 0 {
				start = pos
			}
			pending = append(pending, p.text)
			continue
		}

		last := i == len(parts)-1
		re := anchorPattern(p.text, i == 0, last)
		if re == nil {
			continue
		}

		var loc []int
		if last && len(pending) > 0 {
			loc = lastIndex(re, doc, pos)
		} else {
			loc = firstIndex(re, doc, pos)
		}
		if loc == nil {
			broken = true
			continue
		}

		settle(loc[0])
		broken = false
		pos, start = loc[1], loc[1]
	}
	settle(len(doc))

	res.Unmatched = dedupe(res.Unmatched)
	res.Confidence = score(parts, res.Data, res.Unmatched)
	return res
}

// anchorPattern builds the whitespace-tolerant matcher for a literal run.
// Whitespace-only runs at either end of the template are not anchors.
func anchorPattern(text string, first, last bool) *regexp.Regexp {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		switch {
		case first || last:
			return nil
		case strings.Contains(text, "\n"):
			return regexp.MustCompile(`\s*\n\s*`)
		default:
			return regexp.MustCompile(`\s+`)
		}
	}
	for i, f := range fields {
		fields[i] = regexp.QuoteMeta(f)
	}
	return regexp.MustCompile(strings.Join(fields, `\s+`))
}

func firstIndex(re *regexp.Regexp, doc string, pos int) []int {
	loc := re.FindStringIndex(doc[pos:])
	if loc == nil {
		return nil
	}
	return []int{pos + loc[0], pos + loc[1]}
}

func lastIndex(re *regexp.Regexp, doc string, pos int) []int {
	all := re.FindAllStringIndex(doc[pos:], -1)
	if len(all) == 0 {
		return nil
	}
	loc := all[len(all)-1]
	return []int{pos + loc[0], pos + loc[1]}
}

// score is the fraction of slot occurrences that were matched and hold a
// non-empty value. A template without slots scores 1.
func score(parts []part, data Record, unmatched []string) float64 {
	miss := make(map[string]bool, len(unmatched))
	for _, u := range unmatched {
		miss[u] = true
	}
	var total, hit int
	for _, p := range parts {
		if !p.slot {
			continue
		}
		total++
		if miss[p.text] {
			continue
		}
		if v, ok := data.Get(p.text); ok && v.Text() != "" {
			hit++
		}
	}
	if total == 0 {
		return 1
	}
	return min(1, max(0, float64(hit)/float64(total)))
}

func dedupe(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
