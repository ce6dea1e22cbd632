// Package model defines the explicit type table used in place of runtime reflection:
// model types with their hierarchy, field handles, documents and entities.
package model

import "strings"

// Type is a node in the model type hierarchy. Types are created once during
// startup configuration and never mutated afterwards.
type Type struct {
	name       string
	parent     *Type
	interfaces []*Type
	iface      bool
}

// NewType declares a concrete model type. parent may be nil for a root type.
// ifaces lists capability markers the type satisfies.
func NewType(name string, parent *Type, ifaces ...*Type) *Type {
	return &Type{name: name, parent: parent, interfaces: ifaces}
}

// NewInterface declares a capability marker. Interfaces cannot be instantiated and
// cannot carry discriminators.
func NewInterface(name string) *Type {
	return &Type{name: name, iface: true}
}

// Name returns the type name
func (t *Type) Name() string { return t.name }

// Parent returns the direct base type, or nil
func (t *Type) Parent() *Type { return t.parent }

// IsInterface reports whether t is a capability marker rather than a concrete type
func (t *Type) IsInterface() bool { return t.iface }

// String implements fmt.Stringer
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.name
}

// Ancestors returns the chain of base types, nearest first
func (t *Type) Ancestors() []*Type {
	var out []*Type
	for p := t.parent; p != nil; p = p.parent {
		out = append(out, p)
	}
	return out
}

// Hierarchy returns t followed by its ancestors
func (t *Type) Hierarchy() []*Type {
	return append([]*Type{t}, t.Ancestors()...)
}

// IsAssignableTo reports whether a value of t can be used where o is expected:
// t is o, derives from o, or (transitively) declares o as an interface.
func (t *Type) IsAssignableTo(o *Type) bool {
	for c := t; c != nil; c = c.parent {
		if c == o {
			return true
		}
		for _, i := range c.interfaces {
			if i == o {
				return true
			}
		}
	}
	return false
}

// Field returns the handle of a field declared on t
func (t *Type) Field(name string) Field {
	return Field{Owner: t, Name: name}
}

// Field identifies one logical field: the type that declares it plus its name.
// Derived types share the handles of fields declared on their bases.
type Field struct {
	Owner *Type
	Name  string
}

// String returns "Owner.Name"
func (f Field) String() string {
	var b strings.Builder
	b.WriteString(f.Owner.String())
	b.WriteByte('.')
	b.WriteString(f.Name)
	return b.String()
}

// IsZero reports whether the handle is unset
func (f Field) IsZero() bool { return f.Owner == nil && f.Name == "" }
