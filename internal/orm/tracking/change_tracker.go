// Package tracking records which fields of an entity changed since it was loaded.
// It replaces proxy-based interception with an explicit recorder that entities
// embed and mark on every mutation.
package tracking

import (
	"reflect"
	"sync"

	"github.com/conduit-lang/odm/internal/orm/model"
)

// Reporter is implemented by entities that know which of their fields changed
type Reporter interface {
	ChangedFields() []model.Field
}

// Resetter is implemented by entities whose change set can be cleared after a save
type Resetter interface {
	ResetChanges()
}

// Changes records changed field handles in first-mark order.
// The zero value is ready to use; embed it in entity structs.
type Changes struct {
	mu      sync.Mutex
	order   []model.Field
	changed map[model.Field]struct{}
}

// Mark records a change to field
func (c *Changes) Mark(field model.Field) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.changed == nil {
		c.changed = make(map[model.Field]struct{})
	}
	if _, ok := c.changed[field]; ok {
		return
	}
	c.changed[field] = struct{}{}
	c.order = append(c.order, field)
}

// Changed returns true if field has been marked
func (c *Changes) Changed(field model.Field) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.changed[field]
	return ok
}

// ChangedFields returns a copy of the marked fields
func (c *Changes) ChangedFields() []model.Field {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.Field, len(c.order))
	copy(out, c.order)
	return out
}

// HasChanges returns true if any field has been marked
func (c *Changes) HasChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order) > 0
}

// ResetChanges clears the change set. Called once the entity has been saved.
func (c *Changes) ResetChanges() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	c.changed = nil
}

// Value is a tracked field value. Set marks the field only when the value differs.
type Value[T comparable] struct {
	v T
}

// NewValue returns a tracked value holding v without marking anything
func NewValue[T comparable](v T) Value[T] {
	return Value[T]{v: v}
}

// Get returns the current value
func (tv *Value[T]) Get() T { return tv.v }

// Set stores v and marks field on c if the value changed
func (tv *Value[T]) Set(c *Changes, field model.Field, v T) {
	if tv.v == v {
		return
	}
	tv.v = v
	c.Mark(field)
}

// Diff compares two document snapshots element by element and returns the handles
// of the top-level elements that differ. resolve maps an element name to its field
// handle; elements it does not know are ignored.
func Diff(original, current model.Document, resolve func(element string) (model.Field, bool)) []model.Field {
	seen := make(map[model.Field]struct{})
	var out []model.Field

	add := func(element string) {
		f, ok := resolve(element)
		if !ok {
			return
		}
		if _, dup := seen[f]; dup {
			return
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}

	// Changed or added elements
	for element, newValue := range current {
		oldValue, hadOld := original[element]
		if !hadOld || !deepEqual(oldValue, newValue) {
			add(element)
		}
	}

	// Removed elements
	for element := range original {
		if _, exists := current[element]; !exists {
			add(element)
		}
	}

	return out
}

// deepEqual compares two values for equality, handling nil
func deepEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}
