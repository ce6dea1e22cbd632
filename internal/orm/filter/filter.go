// Package filter provides repository-neutral document predicates.
//
// Paths are dotted element names. A numeric segment indexes an array; any other
// segment applied to an array is applied to each of its elements, so "Crew._id"
// matches when some element of Crew has the id.
package filter

import (
	"fmt"
	"strings"
)

// Operator represents a leaf comparison
type Operator int

const (
	OpEqual Operator = iota
	OpLessThan
	OpExists
	OpType
)

// String returns the string representation of the operator
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpLessThan:
		return "<"
	case OpExists:
		return "EXISTS"
	case OpType:
		return "TYPE"
	default:
		return "UNKNOWN"
	}
}

// ValueType names the stored encoding of an element, for OpType
type ValueType string

const (
	TypeInt32    ValueType = "int"
	TypeInt64    ValueType = "long"
	TypeDouble   ValueType = "double"
	TypeString   ValueType = "string"
	TypeArray    ValueType = "array"
	TypeDocument ValueType = "object"
	TypeBool     ValueType = "bool"
)

// Logic represents how a node combines its children
type Logic int

const (
	LogicLeaf Logic = iota
	LogicAnd
	LogicOr
	LogicNot
)

// Condition is a single comparison of the value at Path
type Condition struct {
	Path     string
	Operator Operator
	Value    any
}

// Filter is a node of a predicate tree. Leaves carry a Condition; And and Or
// carry children; Not carries one child. An And without children matches every
// document.
type Filter struct {
	Logic     Logic
	Condition *Condition
	Children  []*Filter
}

// All returns a filter matching every document
func All() *Filter {
	return &Filter{Logic: LogicAnd}
}

// Eq matches documents whose value at path equals v
func Eq(path string, v any) *Filter {
	return leaf(path, OpEqual, v)
}

// ID matches the document with the given identity
func ID(id any) *Filter {
	return Eq("_id", id)
}

// Lt matches documents whose value at path is less than v
func Lt(path string, v any) *Filter {
	return leaf(path, OpLessThan, v)
}

// Exists matches documents where path is present (or absent when exists is false)
func Exists(path string, exists bool) *Filter {
	return leaf(path, OpExists, exists)
}

// TypeIs matches documents whose value at path is stored with type t
func TypeIs(path string, t ValueType) *Filter {
	return leaf(path, OpType, t)
}

// And matches documents matching every filter
func And(filters ...*Filter) *Filter {
	return &Filter{Logic: LogicAnd, Children: compact(filters)}
}

// Or matches documents matching at least one filter
func Or(filters ...*Filter) *Filter {
	return &Filter{Logic: LogicOr, Children: compact(filters)}
}

// Not matches documents not matching f
func Not(f *Filter) *Filter {
	return &Filter{Logic: LogicNot, Children: []*Filter{f}}
}

func leaf(path string, op Operator, v any) *Filter {
	return &Filter{Logic: LogicLeaf, Condition: &Condition{Path: path, Operator: op, Value: v}}
}

func compact(filters []*Filter) []*Filter {
	out := make([]*Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

// String renders the filter for log output
func (f *Filter) String() string {
	if f == nil {
		return "ALL"
	}
	switch f.Logic {
	case LogicLeaf:
		c := f.Condition
		return fmt.Sprintf("%s %s %v", c.Path, c.Operator, c.Value)
	case LogicNot:
		return fmt.Sprintf("NOT (%s)", f.Children[0])
	case LogicAnd, LogicOr:
		if len(f.Children) == 0 {
			return "ALL"
		}
		sep := " AND "
		if f.Logic == LogicOr {
			sep = " OR "
		}
		parts := make([]string, len(f.Children))
		for i, c := range f.Children {
			parts[i] = "(" + c.String() + ")"
		}
		return strings.Join(parts, sep)
	default:
		return "UNKNOWN"
	}
}
