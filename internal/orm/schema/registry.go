package schema

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/conduit-lang/odm/internal/orm/discriminator"
	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/odmerr"
	"github.com/conduit-lang/odm/internal/orm/semver"
)

// Registry owns every descriptor and member map of a context.
//
// It is written while the owning context configures itself and frozen afterwards;
// reads after Freeze take no lock.
type Registry struct {
	mu     sync.RWMutex
	frozen atomic.Bool

	discriminators *discriminator.Registry

	order       []*model.Type
	schemas     map[*model.Type][]*Descriptor
	descriptors map[string]*Descriptor
	memberMaps  map[string]*MemberMap
	byField     map[model.Field][]*MemberMap
}

// NewRegistry creates an empty registry. When discriminators is not nil every
// registered root schema also registers its discriminator value there.
func NewRegistry(discriminators *discriminator.Registry) *Registry {
	return &Registry{
		discriminators: discriminators,
		schemas:        make(map[*model.Type][]*Descriptor),
		descriptors:    make(map[string]*Descriptor),
		memberMaps:     make(map[string]*MemberMap),
		byField:        make(map[model.Field][]*MemberMap),
	}
}

// RegisterModelSchema registers the shape of entity type t at version.
// Versions of a type must be registered in strictly increasing order.
func (r *Registry) RegisterModelSchema(t *model.Type, version semver.Version, configure func(*Builder)) (*Descriptor, error) {
	return r.register("RegisterModelSchema", KindEntity, t, version, configure)
}

// RegisterMigrationLogSchema registers the shape of a migration log document type
func (r *Registry) RegisterMigrationLogSchema(t *model.Type, version semver.Version, configure func(*Builder)) (*Descriptor, error) {
	return r.register("RegisterMigrationLogSchema", KindMigrationLog, t, version, configure)
}

func (r *Registry) register(op string, kind Kind, t *model.Type, version semver.Version, configure func(*Builder)) (*Descriptor, error) {
	if t == nil {
		return nil, odmerr.Argument(op, "model type is nil")
	}
	if configure == nil {
		return nil, odmerr.Argument(op, "configuration of %s is nil", t)
	}
	if t.IsInterface() {
		return nil, odmerr.Configuration(op, "schemas can only be registered for concrete types, not for interface %s", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return nil, odmerr.InvalidState(op, "schema registry is frozen")
	}

	existing := r.schemas[t]
	if n := len(existing); n > 0 {
		last := existing[n-1]
		if !last.version.Less(version) {
			return nil, odmerr.Configuration(op,
				"schema for %s at version %s must be greater than the registered version %s", t, version, last.version)
		}
		if last.kind != kind {
			return nil, odmerr.Configuration(op, "%s is registered as %s, not %s", t, last.kind, kind)
		}
	}

	d := &Descriptor{
		id:        fmt.Sprintf("%s@%s", t.Name(), version),
		kind:      kind,
		modelType: t,
		version:   version,
	}
	b := newBuilder(d, false)
	configure(b)
	if err := b.Err(); err != nil {
		return nil, odmerr.Configuration(op, "invalid schema %s: %v", d.id, err)
	}
	if err := validate(d); err != nil {
		return nil, odmerr.Configuration(op, "invalid schema %s: %v", d.id, err)
	}

	value := discriminatorOf(d)
	if n := len(existing); n > 0 && discriminatorOf(existing[n-1]) != value {
		return nil, odmerr.Configuration(op, "schema %s changes the discriminator of %s from %q to %q",
			d.id, t, discriminatorOf(existing[n-1]), value)
	}
	if r.discriminators != nil {
		d.discriminator = value
		if err := r.discriminators.AddDiscriminator(t, value); err != nil {
			return nil, err
		}
	}

	if len(existing) == 0 {
		r.order = append(r.order, t)
	}
	r.schemas[t] = append(existing, d)
	r.index(d)
	return d, nil
}

// discriminatorOf is the discriminator value of a root descriptor, defaulting to
// its type name
func discriminatorOf(d *Descriptor) string {
	if d.discriminator != "" {
		return d.discriminator
	}
	return d.modelType.Name()
}

func (r *Registry) index(root *Descriptor) {
	var link func(d *Descriptor)
	link = func(d *Descriptor) {
		r.descriptors[d.id] = d
		for _, m := range d.members {
			r.memberMaps[m.id] = m
			r.byField[m.field] = append(r.byField[m.field], m)
			if m.nested != nil {
				link(m.nested)
			}
		}
	}
	link(root)
}

// Freeze makes the registry read-only
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen.Store(true)
}

// IsFrozen reports whether Freeze has been called
func (r *Registry) IsFrozen() bool { return r.frozen.Load() }

// Discriminators returns the discriminator registry the schemas register into
func (r *Registry) Discriminators() *discriminator.Registry { return r.discriminators }

// GetActiveSchema returns the highest version registered for t
func (r *Registry) GetActiveSchema(t *model.Type) (*Descriptor, error) {
	defer r.rlock()()
	versions := r.schemas[t]
	if len(versions) == 0 {
		return nil, odmerr.NotFound("GetActiveSchema", "no schema registered for %s", t)
	}
	return versions[len(versions)-1], nil
}

// Schemas returns every version registered for t, oldest first
func (r *Registry) Schemas(t *model.Type) []*Descriptor {
	defer r.rlock()()
	versions := r.schemas[t]
	out := make([]*Descriptor, len(versions))
	copy(out, versions)
	return out
}

// ActiveSchemas returns the active descriptor of every registered type in
// registration order
func (r *Registry) ActiveSchemas() []*Descriptor {
	defer r.rlock()()
	out := make([]*Descriptor, 0, len(r.order))
	for _, t := range r.order {
		versions := r.schemas[t]
		out = append(out, versions[len(versions)-1])
	}
	return out
}

// Types returns the registered types in registration order
func (r *Registry) Types() []*model.Type {
	defer r.rlock()()
	out := make([]*model.Type, len(r.order))
	copy(out, r.order)
	return out
}

// Descriptor returns a root or nested descriptor by id
func (r *Registry) Descriptor(id string) (*Descriptor, error) {
	defer r.rlock()()
	d, ok := r.descriptors[id]
	if !ok {
		return nil, odmerr.NotFound("Descriptor", "no descriptor with id %q", id)
	}
	return d, nil
}

// MemberMapByID returns a member map by its id
func (r *Registry) MemberMapByID(id string) (*MemberMap, error) {
	defer r.rlock()()
	m, ok := r.memberMaps[id]
	if !ok {
		return nil, odmerr.NotFound("MemberMapByID", "no member map with id %q", id)
	}
	return m, nil
}

// GetMemberMapsFromMemberInfo returns every member map, in any registered schema,
// storing field. A handle naming a derived type also matches members declared with
// the handle of an ancestor that declares the same field.
func (r *Registry) GetMemberMapsFromMemberInfo(field model.Field) []*MemberMap {
	if field.IsZero() {
		return nil
	}
	defer r.rlock()()

	var out []*MemberMap
	for _, owner := range field.Owner.Hierarchy() {
		out = append(out, r.byField[owner.Field(field.Name)]...)
	}
	return out
}

// Upgraders returns, oldest first, the upgrade steps of every version of t newer than from
func (r *Registry) Upgraders(t *model.Type, from semver.Version) []UpgradeFunc {
	defer r.rlock()()
	var out []UpgradeFunc
	for _, d := range r.schemas[t] {
		if !from.Less(d.version) || d.upgrade == nil {
			continue
		}
		out = append(out, d.upgrade)
	}
	return out
}

// Dependents returns the active descriptors embedding a summary whose type t can
// be stored as
func (r *Registry) Dependents(t *model.Type) []*Descriptor {
	var out []*Descriptor
	for _, d := range r.ActiveSchemas() {
		for _, s := range d.Summaries() {
			if t.IsAssignableTo(s.modelType) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// DependencyGraph builds the summary dependency graph of the active schemas
func (r *Registry) DependencyGraph() *DependencyGraph {
	return NewDependencyGraph(r.ActiveSchemas())
}

// rlock takes the read lock only while the registry is still being configured
func (r *Registry) rlock() func() {
	if r.frozen.Load() {
		return func() {}
	}
	r.mu.RLock()
	return r.mu.RUnlock
}
