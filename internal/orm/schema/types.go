// Package schema holds the registered shapes of model types: one descriptor per type
// and version, the member maps of every addressable field, and which of those
// members are denormalized copies of other entities.
package schema

import (
	"fmt"

	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/semver"
)

// Kind tags what a descriptor describes
type Kind int

const (
	// KindEntity is a root document stored in its own collection
	KindEntity Kind = iota
	// KindSummary is an embedded partial copy of another entity
	KindSummary
	// KindEmbedded is a nested value without identity
	KindEmbedded
	// KindMigrationLog describes the documents recording migration operations
	KindMigrationLog
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindEntity:
		return "entity"
	case KindSummary:
		return "summary"
	case KindEmbedded:
		return "embedded"
	case KindMigrationLog:
		return "migration-log"
	default:
		return "unknown"
	}
}

// IsRoot reports whether descriptors of this kind are stored as whole documents
func (k Kind) IsRoot() bool {
	return k == KindEntity || k == KindMigrationLog
}

// UpgradeFunc rewrites, in place, a document stored with the previous schema version
// into the shape of the version it is registered on.
type UpgradeFunc func(doc model.Document) error

// Descriptor is the registered shape of one model type at one version.
//
// Root descriptors (KindEntity, KindMigrationLog) are created by the registry.
// Nested descriptors (KindSummary, KindEmbedded) hang off the member that embeds
// them and point back to their root.
type Descriptor struct {
	id            string
	kind          Kind
	modelType     *model.Type
	version       semver.Version
	members       []*MemberMap
	idMember      *MemberMap
	discriminator string
	upgrade       UpgradeFunc

	// nested descriptors only
	container *MemberMap
	root      *Descriptor
}

// ID returns the stable descriptor id, e.g. "Video@0.2.0" or "Video@0.2.0/Owner"
func (d *Descriptor) ID() string { return d.id }

// Kind returns the descriptor kind
func (d *Descriptor) Kind() Kind { return d.kind }

// ModelType returns the described type. For summaries this is the referenced type.
func (d *Descriptor) ModelType() *model.Type { return d.modelType }

// Version returns the schema version of the root descriptor
func (d *Descriptor) Version() semver.Version { return d.version }

// MemberMaps returns the direct members in declaration order
func (d *Descriptor) MemberMaps() []*MemberMap {
	out := make([]*MemberMap, len(d.members))
	copy(out, d.members)
	return out
}

// IDMemberMap returns the identity member, if declared
func (d *Descriptor) IDMemberMap() (*MemberMap, bool) {
	return d.idMember, d.idMember != nil
}

// Discriminator returns the discriminator value registered for the type
func (d *Descriptor) Discriminator() string { return d.discriminator }

// Upgrade returns the upgrade step from the previous version, or nil
func (d *Descriptor) Upgrade() UpgradeFunc { return d.upgrade }

// Container returns the member embedding a nested descriptor, or nil for roots
func (d *Descriptor) Container() *MemberMap { return d.container }

// Root returns the root descriptor; roots return themselves
func (d *Descriptor) Root() *Descriptor {
	if d.root == nil {
		return d
	}
	return d.root
}

// Member returns the direct member with the given element name
func (d *Descriptor) Member(element string) (*MemberMap, bool) {
	for _, m := range d.members {
		if m.element == element {
			return m, true
		}
	}
	return nil, false
}

// Walk visits every member map of d and of its nested descriptors, depth first
func (d *Descriptor) Walk(fn func(*MemberMap)) {
	for _, m := range d.members {
		fn(m)
		if m.nested != nil {
			m.nested.Walk(fn)
		}
	}
}

// Summaries returns every summary descriptor nested anywhere under d
func (d *Descriptor) Summaries() []*Descriptor {
	var out []*Descriptor
	d.Walk(func(m *MemberMap) {
		if m.nested != nil && m.nested.kind == KindSummary {
			out = append(out, m.nested)
		}
	})
	return out
}

// String implements fmt.Stringer
func (d *Descriptor) String() string {
	return fmt.Sprintf("%s(%s)", d.id, d.kind)
}

// MemberMap is one addressable field of a descriptor
type MemberMap struct {
	id                string
	path              string
	element           string
	field             model.Field
	isEntityReference bool
	array             bool
	owner             *Descriptor
	nested            *Descriptor
}

// ID returns the stable member id: "<root descriptor id>:<path>"
func (m *MemberMap) ID() string { return m.id }

// Path returns the dotted element path from the document root
func (m *MemberMap) Path() string { return m.path }

// Element returns the element name inside its owner
func (m *MemberMap) Element() string { return m.element }

// Field returns the logical field handle the member stores
func (m *MemberMap) Field() model.Field { return m.field }

// IsEntityReferenceMember reports whether the member lives inside a summary of
// another entity
func (m *MemberMap) IsEntityReferenceMember() bool { return m.isEntityReference }

// IsArray reports whether the member holds an array of nested documents
func (m *MemberMap) IsArray() bool { return m.array }

// Owner returns the descriptor declaring the member. Lookup only.
func (m *MemberMap) Owner() *Descriptor { return m.owner }

// Nested returns the descriptor of an embedded value, or nil
func (m *MemberMap) Nested() *Descriptor { return m.nested }

// ReferenceOwner returns the nearest summary descriptor enclosing the member, or nil
// when the member is not part of a summary. Plain values embedded inside a summary
// resolve to that summary.
func (m *MemberMap) ReferenceOwner() *Descriptor {
	for d := m.owner; d != nil; {
		if d.kind == KindSummary {
			return d
		}
		if d.container == nil {
			return nil
		}
		d = d.container.owner
	}
	return nil
}

// ArrayPath returns the path of the closest enclosing array member, if any
func (m *MemberMap) ArrayPath() (string, bool) {
	for d := m.owner; d != nil && d.container != nil; d = d.container.owner {
		if d.container.array {
			return d.container.path, true
		}
	}
	return "", false
}

// IsID reports whether the member is its owner's identity
func (m *MemberMap) IsID() bool { return m.owner != nil && m.owner.idMember == m }

// Get reads the member's value from a root document
func (m *MemberMap) Get(doc model.Document) (any, bool) {
	return doc.Get(m.path)
}

// String implements fmt.Stringer
func (m *MemberMap) String() string { return m.id }
