package discriminator

import (
	"github.com/conduit-lang/odm/internal/orm/model"
)

// DefaultElementName is the element holding the discriminator
const DefaultElementName = "_t"

// ValueFunc returns the discriminator registered for a type
type ValueFunc func(t *model.Type) (string, bool)

// Convention decides where a discriminator is stored and how it is encoded
type Convention interface {
	// ElementName is the document element holding the discriminator
	ElementName() string
	// Encode returns the element value written for a document of actual type
	// stored in a collection of nominal type. ok is false when nothing should be written.
	Encode(nominal, actual *model.Type, values ValueFunc) (value any, ok bool)
	// Read extracts the concrete discriminator value from a document
	Read(doc model.Document) (string, bool)
}

// ScalarConvention stores the concrete type's discriminator as a single string
type ScalarConvention struct {
	element string
}

// NewScalarConvention creates a scalar convention on element
func NewScalarConvention(element string) *ScalarConvention {
	return &ScalarConvention{element: element}
}

// ElementName implements Convention
func (c *ScalarConvention) ElementName() string { return c.element }

// Encode implements Convention. Nothing is written when actual is the nominal type.
func (c *ScalarConvention) Encode(nominal, actual *model.Type, values ValueFunc) (any, bool) {
	if actual == nominal {
		return nil, false
	}
	v, ok := values(actual)
	if !ok {
		return nil, false
	}
	return v, true
}

// Read implements Convention
func (c *ScalarConvention) Read(doc model.Document) (string, bool) {
	return readDiscriminator(doc, c.element)
}

// HierarchicalConvention stores the discriminators of the whole hierarchy, root first,
// so queries can filter on any level. The last element identifies the concrete type.
type HierarchicalConvention struct {
	element string
}

// NewHierarchicalConvention creates a hierarchical convention on element
func NewHierarchicalConvention(element string) *HierarchicalConvention {
	return &HierarchicalConvention{element: element}
}

// ElementName implements Convention
func (c *HierarchicalConvention) ElementName() string { return c.element }

// Encode implements Convention
func (c *HierarchicalConvention) Encode(nominal, actual *model.Type, values ValueFunc) (any, bool) {
	hierarchy := actual.Hierarchy()
	chain := make([]any, 0, len(hierarchy))
	for i := len(hierarchy) - 1; i >= 0; i-- {
		if v, ok := values(hierarchy[i]); ok {
			chain = append(chain, v)
		}
	}

	switch len(chain) {
	case 0:
		return nil, false
	case 1:
		return chain[0], true
	default:
		return chain, true
	}
}

// Read implements Convention
func (c *HierarchicalConvention) Read(doc model.Document) (string, bool) {
	return readDiscriminator(doc, c.element)
}

// readDiscriminator accepts either a scalar string or an array whose last element is
// the concrete discriminator
func readDiscriminator(doc model.Document, element string) (string, bool) {
	raw, ok := doc[element]
	if !ok {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, v != ""
	case []any:
		if len(v) == 0 {
			return "", false
		}
		s, ok := v[len(v)-1].(string)
		return s, ok && s != ""
	case []string:
		if len(v) == 0 {
			return "", false
		}
		return v[len(v)-1], true
	default:
		return "", false
	}
}
