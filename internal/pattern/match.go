package pattern

import (
	"path/filepath"
	"regexp"
	"strings"
)

var issueIDRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*-[A-Za-z0-9]+(\.[0-9]+)*$`)

// LooksLikeIssueID reports whether s has the prefix-suffix shape of an issue
// id, e.g. "bd-a3f8" or "todo-42.1".
func LooksLikeIssueID(s string) bool {
	return issueIDRe.MatchString(s)
}

// ExtractID recovers the issue id from a filename generated with pattern.
// It returns false when the pattern has no [id] variable or the filename
// does not fit the pattern. Where the split between variables is ambiguous
// the first candidate shaped like an issue id wins.
func ExtractID(filename, pattern string) (string, bool) {
	return MatchID(filename, pattern, LooksLikeIssueID)
}

// MatchID is ExtractID with a caller supplied predicate for choosing among
// ambiguous candidates. With a nil predicate, or when no candidate passes it,
// the first candidate in non-greedy order is returned.
func MatchID(filename, pattern string, accept func(string) bool) (string, bool) {
	tokens := Parse(pattern)
	if !HasVariable(tokens, VarID) {
		return "", false
	}

	name := filepath.ToSlash(filename)
	if !strings.Contains(pattern, "/") {
		name = filepath.Base(filename)
	}

	candidates := matchAll(tokens, name)
	if len(candidates) == 0 {
		return "", false
	}
	if accept != nil {
		for _, c := range candidates {
			if accept(c) {
				return c, true
			}
		}
	}
	return candidates[0], true
}

// matchAll returns the [id] capture of every way tokens can match s, in
// non-greedy order.
func matchAll(tokens []Token, s string) []string {
	m := &matcher{tokens: tokens, s: s, caps: make([]string, len(tokens))}
	m.match(0, 0)
	return m.found
}

type matcher struct {
	tokens []Token
	s      string
	caps   []string
	found  []string
	seen   map[string]bool
}

func (m *matcher) match(ti, pos int) {
	if ti == len(m.tokens) {
		if pos == len(m.s) {
			m.record()
		}
		return
	}

	tok := m.tokens[ti]
	last := ti == len(m.tokens)-1

	if tok.Kind == Literal {
		rest := m.s[pos:]
		if last {
			// the trailing literal is usually the extension
			if strings.EqualFold(rest, tok.Value) {
				m.match(ti+1, len(m.s))
			}
			return
		}
		if strings.HasPrefix(rest, tok.Value) {
			m.match(ti+1, pos+len(tok.Value))
		}
		return
	}

	if last {
		if pos < len(m.s) {
			m.caps[ti] = m.s[pos:]
			m.match(ti+1, len(m.s))
		}
		return
	}

	next := m.tokens[ti+1]
	for end := pos + 1; end <= len(m.s); end++ {
		if next.Kind == Literal {
			rest := m.s[end:]
			if ti+1 == len(m.tokens)-1 {
				if !strings.EqualFold(rest, next.Value) {
					continue
				}
			} else if !strings.HasPrefix(rest, next.Value) {
				continue
			}
		}
		m.caps[ti] = m.s[pos:end]
		m.match(ti+1, end)
	}
}

func (m *matcher) record() {
	for i, t := range m.tokens {
		if t.Kind != Variable || t.Value != VarID {
			continue
		}
		id := m.caps[i]
		if m.seen == nil {
			m.seen = make(map[string]bool)
		}
		if !m.seen[id] {
			m.seen[id] = true
			m.found = append(m.found, id)
		}
		return
	}
}
