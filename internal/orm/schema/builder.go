package schema

import (
	"errors"
	"fmt"

	"github.com/conduit-lang/odm/internal/orm/model"
)

// Builder declares the members of a descriptor inside a configuration callback.
// Errors are collected and reported when the registration completes.
//
// Field handles name the type that declares the field: a schema for a derived type
// lists inherited members with the base type's handles.
type Builder struct {
	d        *Descriptor
	inSumm   bool
	errors   []error
	elements map[string]struct{}
}

func newBuilder(d *Descriptor, inSummary bool) *Builder {
	return &Builder{
		d:        d,
		inSumm:   inSummary,
		elements: make(map[string]struct{}),
	}
}

// ID declares the identity member
func (b *Builder) ID(element string, field model.Field) *Builder {
	if b.d.idMember != nil {
		b.errorf("%s declares identity twice (%s and %s)", b.d.id, b.d.idMember.element, element)
		return b
	}
	m := b.add(element, field)
	if m != nil {
		b.d.idMember = m
	}
	return b
}

// Member declares a scalar or opaque member
func (b *Builder) Member(element string, field model.Field) *Builder {
	b.add(element, field)
	return b
}

// Embedded declares a nested value of type t without identity
func (b *Builder) Embedded(element string, field model.Field, t *model.Type, configure func(*Builder)) *Builder {
	b.nest(element, field, t, KindEmbedded, false, configure)
	return b
}

// EmbeddedMany declares an array of nested values of type t
func (b *Builder) EmbeddedMany(element string, field model.Field, t *model.Type, configure func(*Builder)) *Builder {
	b.nest(element, field, t, KindEmbedded, true, configure)
	return b
}

// Reference declares a summary copy of the referenced entity. The summary must
// declare the referenced entity's identity with ID.
func (b *Builder) Reference(element string, field model.Field, referenced *model.Type, configure func(*Builder)) *Builder {
	b.nest(element, field, referenced, KindSummary, false, configure)
	return b
}

// ReferenceMany declares an array of summary copies of the referenced entity
func (b *Builder) ReferenceMany(element string, field model.Field, referenced *model.Type, configure func(*Builder)) *Builder {
	b.nest(element, field, referenced, KindSummary, true, configure)
	return b
}

// Discriminator overrides the discriminator value of a root descriptor.
// It defaults to the type name.
func (b *Builder) Discriminator(value string) *Builder {
	if !b.d.kind.IsRoot() {
		b.errorf("%s: discriminators can only be set on root schemas", b.d.id)
		return b
	}
	b.d.discriminator = value
	return b
}

// Upgrade sets the step converting documents of the previous version into this one
func (b *Builder) Upgrade(fn UpgradeFunc) *Builder {
	if !b.d.kind.IsRoot() {
		b.errorf("%s: upgrades can only be set on root schemas", b.d.id)
		return b
	}
	b.d.upgrade = fn
	return b
}

// Err returns the collected errors joined, or nil
func (b *Builder) Err() error {
	return errors.Join(b.errors...)
}

func (b *Builder) add(element string, field model.Field) *MemberMap {
	if element == "" {
		b.errorf("%s: member element name is empty", b.d.id)
		return nil
	}
	if field.IsZero() {
		b.errorf("%s: member %s has no field handle", b.d.id, element)
		return nil
	}
	if _, dup := b.elements[element]; dup {
		b.errorf("%s: member %s declared twice", b.d.id, element)
		return nil
	}
	b.elements[element] = struct{}{}

	path := element
	if b.d.container != nil {
		path = model.JoinPath(b.d.container.path, element)
	}

	m := &MemberMap{
		id:                fmt.Sprintf("%s:%s", b.d.Root().id, path),
		path:              path,
		element:           element,
		field:             field,
		isEntityReference: b.inSumm,
		owner:             b.d,
	}
	b.d.members = append(b.d.members, m)
	return m
}

func (b *Builder) nest(element string, field model.Field, t *model.Type, kind Kind, array bool, configure func(*Builder)) {
	if t == nil {
		b.errorf("%s: nested member %s has no type", b.d.id, element)
		return
	}
	m := b.add(element, field)
	if m == nil {
		return
	}
	m.array = array

	nested := &Descriptor{
		id:        b.d.id + "/" + element,
		kind:      kind,
		modelType: t,
		version:   b.d.version,
		container: m,
		root:      b.d.Root(),
	}
	m.nested = nested

	child := newBuilder(nested, b.inSumm || kind == KindSummary)
	if configure != nil {
		configure(child)
	}
	b.errors = append(b.errors, child.errors...)
}

func (b *Builder) errorf(format string, args ...any) {
	b.errors = append(b.errors, fmt.Errorf(format, args...))
}
