package schema

import (
	"errors"
	"fmt"
)

// validate checks the structural rules a root descriptor must satisfy once configured:
// it exposes an identity, every summary declares the identity of the entity it copies,
// and every entity reference member can resolve that identity.
func validate(d *Descriptor) error {
	var errs []error

	if _, ok := d.IDMemberMap(); !ok {
		errs = append(errs, fmt.Errorf("%s: no identity member declared", d.id))
	}

	d.Walk(func(m *MemberMap) {
		if m.nested != nil && m.nested.kind == KindSummary {
			if _, ok := m.nested.IDMemberMap(); !ok {
				errs = append(errs, fmt.Errorf("%s: summary %s must declare the identity of %s",
					d.id, m.path, m.nested.modelType))
			}
			return
		}
		if !m.isEntityReference {
			return
		}
		owner := m.ReferenceOwner()
		if owner == nil {
			errs = append(errs, fmt.Errorf("%s: reference member %s is not inside a summary", d.id, m.path))
			return
		}
		if _, ok := owner.IDMemberMap(); !ok {
			errs = append(errs, fmt.Errorf("%s: reference member %s has no resolvable identity", d.id, m.path))
		}
	})

	return errors.Join(errs...)
}
