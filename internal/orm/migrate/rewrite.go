package migrate

import (
	"fmt"

	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/schema"
	"github.com/conduit-lang/odm/internal/orm/semver"
)

// SchemaRewriter brings documents stored as nominal (or, through discriminators, one
// of its registered subtypes) to the active schema: every upgrade step newer than the
// stored version runs in order, then the active version is stamped on element when
// writeVersion is set.
func SchemaRewriter(schemas *schema.Registry, nominal *model.Type, element string, writeVersion bool) Rewriter {
	return func(doc model.Document) error {
		actual := nominal
		if d := schemas.Discriminators(); d != nil {
			t, err := d.ResolveActualType(nominal, doc)
			if err != nil {
				return err
			}
			actual = t
		}

		active, err := schemas.GetActiveSchema(actual)
		if err != nil {
			return err
		}

		stored, ok := semver.FromStored(doc[element])
		if !ok {
			stored = semver.Zero
		}
		for _, up := range schemas.Upgraders(actual, stored) {
			if err := up(doc); err != nil {
				return fmt.Errorf("upgrading %s document from %s: %w", actual, stored, err)
			}
		}

		if writeVersion {
			doc[element] = active.Version().Array()
		}
		return nil
	}
}
