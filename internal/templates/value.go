package templates

import (
	"encoding/json"
	"maps"
	"slices"
	"sort"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindString Kind = iota
	KindList
	KindRecord
)

// Value is a string, a list of strings, or a nested Record. Numbers are
// carried as their decimal string form.
type Value struct {
	kind Kind
	str  string
	list []string
	rec  Record
}

// String wraps s.
func String(s string) Value { return Value{kind: KindString, str: s} }

// List wraps items. A nil slice yields an empty list.
func List(items ...string) Value {
	return Value{kind: KindList, list: append([]string{}, items...)}
}

// Nested wraps a record.
func Nested(r Record) Value { return Value{kind: KindRecord, rec: r} }

func (v Value) Kind() Kind { return v.kind }

// Text is the rendered form of v: strings verbatim, lists joined with ", ",
// records empty.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindList:
		return strings.Join(v.list, ", ")
	default:
		return ""
	}
}

// Items returns the list elements, or nil for non-lists.
func (v Value) Items() []string {
	if v.kind != KindList {
		return nil
	}
	return slices.Clone(v.list)
}

// Record returns the nested record, or nil for non-records.
func (v Value) Record() Record {
	if v.kind != KindRecord {
		return nil
	}
	return v.rec
}

// Equal compares two leaf or nested values structurally.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindList:
		return slices.Equal(v.list, o.list)
	default:
		a, b := Flatten(v.rec), Flatten(o.rec)
		return maps.EqualFunc(a, b, Value.Equal)
	}
}

// MarshalJSON renders strings and lists as JSON scalars and arrays so
// records can be emitted by the CLI and the MCP tools.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindList:
		return json.Marshal(v.list)
	default:
		return json.Marshal(v.rec)
	}
}

// Record is a nested mapping addressed by dotted paths.
type Record map[string]Value

// Get walks a dotted path.
func (r Record) Get(path string) (Value, bool) {
	cur := r
	parts := strings.Split(path, ".")
	for i, p := range parts {
		v, ok := cur[p]
		if !ok {
			return Value{}, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		if v.kind != KindRecord {
			return Value{}, false
		}
		cur = v.rec
	}
	return Value{}, false
}

// Set stores v at a dotted path, creating or replacing intermediate records.
func (r Record) Set(path string, v Value) {
	cur := r
	parts := strings.Split(path, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p]
		if !ok || next.kind != KindRecord || next.rec == nil {
			next = Nested(Record{})
			cur[p] = next
		}
		cur = next.rec
	}
	cur[parts[len(parts)-1]] = v
}

// Clone deep-copies r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		switch v.kind {
		case KindRecord:
			out[k] = Nested(v.rec.Clone())
		case KindList:
			out[k] = List(v.list...)
		default:
			out[k] = v
		}
	}
	return out
}

// Flatten maps every leaf of r to its dotted path. Empty nested records
// contribute nothing.
func Flatten(r Record) map[string]Value {
	out := make(map[string]Value)
	flattenInto(out, "", r)
	return out
}

func flattenInto(out map[string]Value, prefix string, r Record) {
	for k, v := range r {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if v.kind == KindRecord {
			flattenInto(out, path, v.rec)
			continue
		}
		out[path] = v
	}
}

// Unflatten is the inverse of Flatten.
func Unflatten(m map[string]Value) Record {
	r := make(Record)
	for _, path := range sortedKeys(m) {
		r.Set(path, m[path])
	}
	return r
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
