package pattern

import (
	"strings"
	"unicode"
)

// reserved characters are not allowed in a path component on at least one
// supported platform.
const reserved = "\x00\\/:<>|*?\""

// SanitizeComponent makes s safe to use as part of a single path component:
// separators, NUL and reserved characters are removed and ".." sequences are
// collapsed until none remain. Leading dots are trimmed so a value can never
// produce a hidden file.
func SanitizeComponent(s string) string {
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(reserved, r) || unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", "")
	}
	return strings.TrimLeft(strings.TrimSpace(s), ".")
}

// slugify lowercases s and turns every run of characters that are not
// letters or digits into a single hyphen.
func slugify(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}

// preserve keeps the words of s, separated by single spaces.
func preserve(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// capitalize title-cases every word of s.
func capitalize(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
