package pattern

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Mschirtzinger/todosync/internal/types"
)

// now is swapped in tests.
var now = time.Now

const (
	// delimiters removed from the output when the variable after them is empty
	trailingDelims = "-_ ./"
	// delimiters removed from the next literal when a leading variable is empty
	leadingDelims = "-_ /"
)

// Apply renders pattern for issue. The result is a slash-separated path
// relative to the managed directory. Names listed in existing are treated as
// taken and resolved by appending -1, -2, ... before the trailing literal.
func Apply(pattern string, issue *types.Issue, existing []string) string {
	return ApplyTokens(Parse(pattern), issue, existing)
}

// ApplyTokens is Apply for an already parsed pattern.
func ApplyTokens(tokens []Token, issue *types.Issue, existing []string) string {
	values := make([]string, len(tokens))
	for i, t := range tokens {
		if t.Kind == Variable {
			values[i] = resolve(t, issue)
		}
	}

	name := join(tokens, values)
	if utf8.RuneCountInString(name) > MaxNameLength {
		name = shorten(tokens, values)
	}

	suffix := trailingLiteral(tokens)
	if strings.TrimSuffix(path.Base(name), suffix) == "" {
		name = strings.TrimSuffix(name, suffix) + SanitizeComponent(issue.ID) + suffix
	}
	return dedupe(name, suffix, existing)
}

func resolve(t Token, issue *types.Issue) string {
	var v string
	switch t.Value {
	case VarID:
		v = issue.ID
	case VarTitle:
		switch t.Transform {
		case Slugify:
			v = slugify(issue.Title)
		case Capitalize:
			v = capitalize(issue.Title)
		default:
			v = preserve(SanitizeComponent(issue.Title))
		}
	case VarDate:
		v = datePart(issue.CreatedAt)
	case VarType:
		v = string(issue.Type)
	case VarPriority:
		v = strconv.Itoa(issue.Priority)
	case VarAssignee:
		v = issue.Assignee
		if at := strings.IndexByte(v, '@'); at > 0 {
			v = v[:at]
		}
	}
	return SanitizeComponent(v)
}

func datePart(createdAt string) string {
	if t, ok := types.ParseTime(createdAt); ok {
		return t.Format(time.DateOnly)
	}
	if len(createdAt) >= 10 {
		if t, err := time.Parse(time.DateOnly, createdAt[:10]); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	return now().Format(time.DateOnly)
}

// join concatenates tokens, dropping empty variables together with the
// delimiters that introduced them.
func join(tokens []Token, values []string) string {
	var (
		out          string
		stripLeading bool
		litStart     = -1 // start of the literal just written, -1 after a variable
	)
	for i, t := range tokens {
		if t.Kind == Literal {
			text := t.Value
			if stripLeading {
				text = strings.TrimLeft(text, leadingDelims)
			}
			stripLeading = false
			litStart = len(out)
			out += text
			continue
		}

		v := values[i]
		if v == "" {
			if out == "" {
				stripLeading = true
			} else if litStart >= 0 {
				out = out[:litStart] + strings.TrimRight(out[litStart:], trailingDelims)
			}
			litStart = -1
			continue
		}
		stripLeading = false
		litStart = -1
		out += v
	}
	return out
}

// shorten trims title values, last first, until the name fits.
func shorten(tokens []Token, values []string) string {
	name := join(tokens, values)
	for over := utf8.RuneCountInString(name) - MaxNameLength; over > 0; over = utf8.RuneCountInString(name) - MaxNameLength {
		idx := -1
		for i, t := range tokens {
			if t.Kind == Variable && t.Value == VarTitle && values[i] != "" {
				idx = i
			}
		}
		if idx < 0 {
			break
		}
		values[idx] = trimWords(values[idx], over)
		name = join(tokens, values)
	}
	return name
}

// trimWords removes at least over characters from the end of v, cutting at
// the nearest earlier word boundary when there is one.
func trimWords(v string, over int) string {
	runes := []rune(v)
	keep := len(runes) - over
	if keep <= 0 {
		return ""
	}
	cut := keep
	for cut > 0 && !isWordBreak(runes[cut]) {
		cut--
	}
	if cut == 0 {
		cut = keep
	}
	return strings.TrimRight(string(runes[:cut]), "-_ ")
}

func isWordBreak(r rune) bool {
	return r == '-' || r == '_' || r == ' '
}

func dedupe(name, suffix string, existing []string) string {
	if len(existing) == 0 {
		return name
	}
	taken := make(map[string]bool, len(existing))
	for _, e := range existing {
		taken[strings.ToLower(e)] = true
	}
	if !taken[strings.ToLower(name)] {
		return name
	}
	if !strings.HasSuffix(name, suffix) {
		suffix = ""
	}
	stem := strings.TrimSuffix(name, suffix)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, n, suffix)
		if !taken[strings.ToLower(candidate)] {
			return candidate
		}
	}
}
