package model

import (
	"strconv"
	"strings"
)

// IDElement is the element name holding a document's identity
const IDElement = "_id"

// Document is the decoded, schema-less representation of a stored document.
// Nested documents are Document or map[string]any, arrays are []any.
type Document map[string]any

// Entity is a model instance that lives in a collection and exposes its identity
type Entity interface {
	ModelType() *Type
	EntityID() any
}

// SplitPath splits a dotted element path into segments
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// JoinPath joins element path segments, skipping empty ones
func JoinPath(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ".")
}

// ID returns the identity element
func (d Document) ID() (any, bool) {
	v, ok := d[IDElement]
	return v, ok && v != nil
}

// Get resolves a dotted path. Numeric segments index into arrays.
func (d Document) Get(path string) (any, bool) {
	return Lookup(d, SplitPath(path))
}

// Set assigns a value at a dotted path, creating intermediate documents
func (d Document) Set(path string, value any) {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return
	}
	cur := map[string]any(d)
	for _, s := range segs[:len(segs)-1] {
		next, ok := asMap(cur[s])
		if !ok {
			next = map[string]any{}
			cur[s] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

// Delete removes the element at a dotted path if present
func (d Document) Delete(path string) {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return
	}
	parent := any(map[string]any(d))
	if len(segs) > 1 {
		var ok bool
		if parent, ok = Lookup(d, segs[:len(segs)-1]); !ok {
			return
		}
	}
	if m, ok := asMap(parent); ok {
		delete(m, segs[len(segs)-1])
	}
}

// Clone returns a deep copy of the document
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(CloneValue(map[string]any(d)).(map[string]any))
}

// Lookup walks segments through nested documents and arrays
func Lookup(value any, segs []string) (any, bool) {
	cur := value
	for _, s := range segs {
		if m, ok := asMap(cur); ok {
			v, exists := m[s]
			if !exists {
				return nil, false
			}
			cur = v
			continue
		}
		if arr, ok := cur.([]any); ok {
			i, err := strconv.Atoi(s)
			if err != nil || i < 0 || i >= len(arr) {
				return nil, false
			}
			cur = arr[i]
			continue
		}
		return nil, false
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

// CloneValue deep copies nested documents and arrays; other values are returned as is
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = CloneValue(e)
		}
		return out
	case Document:
		return Document(CloneValue(map[string]any(t)).(map[string]any))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case []int32:
		return append([]int32(nil), t...)
	default:
		return v
	}
}
