package filter

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/conduit-lang/odm/internal/orm/model"
)

// Match evaluates f against doc. A nil filter matches every document.
func (f *Filter) Match(doc model.Document) bool {
	if f == nil {
		return true
	}
	switch f.Logic {
	case LogicLeaf:
		return f.Condition.match(doc)
	case LogicAnd:
		for _, c := range f.Children {
			if !c.Match(doc) {
				return false
			}
		}
		return true
	case LogicOr:
		for _, c := range f.Children {
			if c.Match(doc) {
				return true
			}
		}
		return false
	case LogicNot:
		return !f.Children[0].Match(doc)
	default:
		return false
	}
}

func (c *Condition) match(doc model.Document) bool {
	values := resolve(map[string]any(doc), model.SplitPath(c.Path))

	if c.Operator == OpExists {
		want, _ := c.Value.(bool)
		return (len(values) > 0) == want
	}

	for _, v := range values {
		if c.matchValue(v) {
			return true
		}
		// comparisons also apply to each element of an array value
		if elems, ok := asSlice(v); ok {
			for _, e := range elems {
				if c.matchValue(e) {
					return true
				}
			}
		}
	}
	return false
}

func (c *Condition) matchValue(v any) bool {
	switch c.Operator {
	case OpEqual:
		return equal(v, c.Value)
	case OpLessThan:
		cmp, ok := compare(v, c.Value)
		return ok && cmp < 0
	case OpType:
		t, _ := c.Value.(ValueType)
		return TypeOf(v) == t
	default:
		return false
	}
}

// resolve returns every value reachable through segs, traversing arrays
func resolve(v any, segs []string) []any {
	if len(segs) == 0 {
		return []any{v}
	}
	seg, rest := segs[0], segs[1:]

	if m, ok := asMap(v); ok {
		child, ok := m[seg]
		if !ok {
			return nil
		}
		return resolve(child, rest)
	}

	elems, ok := asSlice(v)
	if !ok {
		return nil
	}
	var out []any
	if idx, err := strconv.Atoi(seg); err == nil {
		if idx >= 0 && idx < len(elems) {
			out = append(out, resolve(elems[idx], rest)...)
		}
		return out
	}
	for _, e := range elems {
		if _, ok := asMap(e); ok {
			out = append(out, resolve(e, segs)...)
		}
	}
	return out
}

// TypeOf reports the stored type of a decoded value
func TypeOf(v any) ValueType {
	switch v.(type) {
	case int32:
		return TypeInt32
	case int64, int:
		return TypeInt64
	case float32, float64:
		return TypeDouble
	case string:
		return TypeString
	case bool:
		return TypeBool
	}
	if _, ok := asMap(v); ok {
		return TypeDocument
	}
	if _, ok := asSlice(v); ok {
		return TypeArray
	}
	return ""
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case model.Document:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case nil, string, []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func equal(a, b any) bool {
	if cmp, ok := compare(a, b); ok {
		return cmp == 0
	}
	return reflect.DeepEqual(a, b)
}

// compare orders numbers with numbers and strings with strings
func compare(a, b any) (int, bool) {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		default:
			return 0, true
		}
	}
	if x, ok := a.(string); ok {
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
