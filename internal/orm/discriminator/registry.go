// Package discriminator maps model types to the wire-level discriminator values that
// identify them inside polymorphic collections.
package discriminator

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/odmerr"
)

// Registry is written during startup configuration and frozen afterwards.
// Before Freeze every access takes the lock; after Freeze reads skip it.
type Registry struct {
	mu     sync.RWMutex
	frozen atomic.Bool

	conventions    map[*model.Type]Convention
	discriminators map[string][]*model.Type
	typeValues     map[*model.Type]string
	discriminated  map[*model.Type]struct{}
	defaultConv    Convention
}

// NewRegistry creates an empty registry whose fallback convention is a scalar "_t"
func NewRegistry() *Registry {
	return &Registry{
		conventions:    make(map[*model.Type]Convention),
		discriminators: make(map[string][]*model.Type),
		typeValues:     make(map[*model.Type]string),
		discriminated:  make(map[*model.Type]struct{}),
		defaultConv:    NewScalarConvention(DefaultElementName),
	}
}

// AddDiscriminator registers value as the discriminator of t and marks every ancestor
// of t as discriminated. Registering the same pair twice is a no-op.
func (r *Registry) AddDiscriminator(t *model.Type, value string) error {
	const op = "AddDiscriminator"
	if t == nil {
		return odmerr.Argument(op, "type is nil")
	}
	if value == "" {
		return odmerr.Argument(op, "discriminator for %s is empty", t)
	}
	if t.IsInterface() {
		return odmerr.Configuration(op, "discriminators can only be registered for concrete types, not for interface %s", t)
	}

	unlock, err := r.lockForWrite(op)
	if err != nil {
		return err
	}
	defer unlock()

	for _, existing := range r.discriminators[value] {
		if existing == t {
			return nil
		}
	}
	r.discriminators[value] = append(r.discriminators[value], t)
	if _, ok := r.typeValues[t]; !ok {
		r.typeValues[t] = value
	}

	// Mark all base types so a reader knows it is worth inspecting the discriminator
	for _, base := range t.Ancestors() {
		r.discriminated[base] = struct{}{}
	}
	return nil
}

// AddDiscriminatorConvention registers the convention used for t and its descendants.
// Conventions are exclusive per type.
func (r *Registry) AddDiscriminatorConvention(t *model.Type, c Convention) error {
	const op = "AddDiscriminatorConvention"
	if t == nil {
		return odmerr.Argument(op, "type is nil")
	}
	if c == nil {
		return odmerr.Argument(op, "convention for %s is nil", t)
	}

	unlock, err := r.lockForWrite(op)
	if err != nil {
		return err
	}
	defer unlock()

	if _, exists := r.conventions[t]; exists {
		return odmerr.Configuration(op, "there is already a discriminator convention registered for type %s", t)
	}
	r.conventions[t] = c
	return nil
}

// Freeze makes the registry read-only
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen.Store(true)
}

// IsFrozen reports whether Freeze has been called
func (r *Registry) IsFrozen() bool { return r.frozen.Load() }

// IsDiscriminated reports whether some registered type derives from t
func (r *Registry) IsDiscriminated(t *model.Type) bool {
	defer r.rlock()()
	_, ok := r.discriminated[t]
	return ok
}

// Convention returns the convention registered exactly for t
func (r *Registry) Convention(t *model.Type) (Convention, bool) {
	defer r.rlock()()
	c, ok := r.conventions[t]
	return c, ok
}

// LookupConvention returns the convention for t, walking up the hierarchy and
// falling back to the default scalar convention.
func (r *Registry) LookupConvention(t *model.Type) Convention {
	defer r.rlock()()
	for _, c := range t.Hierarchy() {
		if conv, ok := r.conventions[c]; ok {
			return conv
		}
	}
	return r.defaultConv
}

// LookupTypes returns the candidate types registered under value
func (r *Registry) LookupTypes(value string) []*model.Type {
	defer r.rlock()()
	types := r.discriminators[value]
	out := make([]*model.Type, len(types))
	copy(out, types)
	return out
}

// Value returns the first discriminator registered for t
func (r *Registry) Value(t *model.Type) (string, bool) {
	defer r.rlock()()
	v, ok := r.typeValues[t]
	return v, ok
}

// Len returns the number of registered (value, type) pairs
func (r *Registry) Len() int {
	defer r.rlock()()
	n := 0
	for _, types := range r.discriminators {
		n += len(types)
	}
	return n
}

// Values returns the registered discriminator values sorted
func (r *Registry) Values() []string {
	defer r.rlock()()
	out := make([]string, 0, len(r.discriminators))
	for v := range r.discriminators {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// LookupActualType resolves value to the single registered type assignable to nominal
func (r *Registry) LookupActualType(nominal *model.Type, value string) (*model.Type, error) {
	const op = "LookupActualType"

	var matches []*model.Type
	for _, t := range r.LookupTypes(value) {
		if t.IsAssignableTo(nominal) {
			matches = append(matches, t)
		}
	}

	switch len(matches) {
	case 0:
		return nil, odmerr.NotFound(op, "unknown discriminator value %q for nominal type %s", value, nominal)
	case 1:
		return matches[0], nil
	default:
		return nil, odmerr.Configuration(op, "ambiguous discriminator value %q for nominal type %s", value, nominal)
	}
}

// ResolveActualType inspects doc to find the concrete type to decode it as.
// Types that nothing derives from resolve to themselves without reading the document.
func (r *Registry) ResolveActualType(nominal *model.Type, doc model.Document) (*model.Type, error) {
	if !r.IsDiscriminated(nominal) {
		return nominal, nil
	}

	conv := r.LookupConvention(nominal)
	value, ok := conv.Read(doc)
	if !ok {
		return nominal, nil
	}
	return r.LookupActualType(nominal, value)
}

func (r *Registry) lockForWrite(op string) (func(), error) {
	r.mu.Lock()
	if r.frozen.Load() {
		r.mu.Unlock()
		return nil, odmerr.InvalidState(op, "discriminator registry is frozen")
	}
	return r.mu.Unlock, nil
}

// rlock takes the read lock only while the registry is still being configured
func (r *Registry) rlock() func() {
	if r.frozen.Load() {
		return func() {}
	}
	r.mu.RLock()
	return r.mu.RUnlock
}
