package migrate

import (
	"strconv"

	"github.com/conduit-lang/odm/internal/orm/filter"
	"github.com/conduit-lang/odm/internal/orm/semver"
)

// VersionFilter selects documents whose version element is below min: documents
// without the element, documents storing it in another encoding (legacy strings) and
// documents whose stored triple compares lower, component by component.
func VersionFilter(element string, min semver.Version) *filter.Filter {
	major := int32(min.Major())
	minor := int32(min.Minor())
	patch := int32(min.Patch())

	return filter.Or(
		filter.Exists(element, false),
		filter.Not(filter.TypeIs(element, filter.TypeInt32)),
		filter.Lt(component(element, 0), major),
		filter.And(
			filter.Eq(component(element, 0), major),
			filter.Lt(component(element, 1), minor),
		),
		filter.And(
			filter.Eq(component(element, 0), major),
			filter.Eq(component(element, 1), minor),
			filter.Lt(component(element, 2), patch),
		),
	)
}

func component(element string, i int) string {
	return element + "." + strconv.Itoa(i)
}
