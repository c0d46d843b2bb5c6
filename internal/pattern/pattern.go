// Package pattern derives issue filenames from bracketed filename patterns
// such as "[id]-[title].md" or "[type]/[id].md", and recovers issue ids from
// filenames produced that way.
package pattern

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultPattern places every issue at the root of the managed directory.
const DefaultPattern = "[id]-[title].md"

// MaxNameLength is the length, in characters, above which the title part of
// a generated name is shortened.
const MaxNameLength = 100

// Kind distinguishes literal text from variables.
type Kind int

const (
	Literal Kind = iota
	Variable
)

// Transform controls how a variable value is rendered.
type Transform string

const (
	Preserve   Transform = "preserve"
	Slugify    Transform = "slugify"
	Capitalize Transform = "capitalize"
)

// Known variable names.
const (
	VarID       = "id"
	VarTitle    = "title"
	VarDate     = "yyyy-mm-dd"
	VarType     = "type"
	VarPriority = "priority"
	VarAssignee = "assignee"
)

// Token is one unit of a parsed pattern. For literals Value holds the text,
// for variables the lowercased variable name.
type Token struct {
	Kind      Kind
	Value     string
	Transform Transform
}

// Parse splits a pattern into literal and variable tokens. An unterminated
// or empty bracket pair is kept as literal text.
func Parse(pattern string) []Token {
	var (
		tokens []Token
		lit    strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			tokens = append(tokens, Token{Kind: Literal, Value: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(pattern); {
		if pattern[i] == '[' {
			end := strings.IndexByte(pattern[i+1:], ']')
			if end > 0 {
				name := pattern[i+1 : i+1+end]
				var prev byte
				if i > 0 {
					prev = pattern[i-1]
				}
				flush()
				tokens = append(tokens, Token{
					Kind:      Variable,
					Value:     strings.ToLower(name),
					Transform: transformFor(name, prev),
				})
				i += end + 2
				continue
			}
		}
		lit.WriteByte(pattern[i])
		i++
	}
	flush()
	return tokens
}

func transformFor(name string, prev byte) Transform {
	if r, _ := utf8.DecodeRuneInString(name); unicode.IsUpper(r) {
		return Capitalize
	}
	if prev == '-' {
		return Slugify
	}
	return Preserve
}

// HasVariable reports whether tokens contain the named variable.
func HasVariable(tokens []Token, name string) bool {
	for _, t := range tokens {
		if t.Kind == Variable && t.Value == name {
			return true
		}
	}
	return false
}

// trailingLiteral returns the text of the final token when it is literal.
func trailingLiteral(tokens []Token) string {
	if len(tokens) == 0 {
		return ""
	}
	if last := tokens[len(tokens)-1]; last.Kind == Literal {
		return last.Value
	}
	return ""
}
