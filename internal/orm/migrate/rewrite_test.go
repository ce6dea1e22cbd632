package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/odm/internal/orm/discriminator"
	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/odmerr"
	"github.com/conduit-lang/odm/internal/orm/repository"
	"github.com/conduit-lang/odm/internal/orm/schema"
	"github.com/conduit-lang/odm/internal/orm/semver"
)

var (
	animalType = model.NewType("Animal", nil)
	dogType    = model.NewType("Dog", animalType)
)

func animalSchemas(t *testing.T) *schema.Registry {
	t.Helper()
	r := schema.NewRegistry(discriminator.NewRegistry())

	_, err := r.RegisterModelSchema(animalType, semver.MustParse("0.1.0"), func(b *schema.Builder) {
		b.ID("_id", animalType.Field("ID")).Member("name", animalType.Field("Name"))
	})
	require.NoError(t, err)
	_, err = r.RegisterModelSchema(animalType, semver.MustParse("0.2.0"), func(b *schema.Builder) {
		b.ID("_id", animalType.Field("ID")).
			Member("Name", animalType.Field("Name")).
			Upgrade(func(doc model.Document) error {
				doc["Name"] = doc["name"]
				delete(doc, "name")
				return nil
			})
	})
	require.NoError(t, err)
	_, err = r.RegisterModelSchema(dogType, semver.MustParse("0.3.0"), func(b *schema.Builder) {
		b.ID("_id", animalType.Field("ID")).
			Member("Name", animalType.Field("Name")).
			Member("Barks", dogType.Field("Barks")).
			Discriminator("dog").
			Upgrade(func(doc model.Document) error {
				if _, ok := doc["Barks"]; !ok {
					doc["Barks"] = true
				}
				return nil
			})
	})
	require.NoError(t, err)
	return r
}

func TestSchemaRewriter(t *testing.T) {
	schemas := animalSchemas(t)
	rewrite := SchemaRewriter(schemas, animalType, DefaultVersionElement, true)

	tests := []struct {
		name string
		doc  model.Document
		want model.Document
	}{
		{
			name: "unversioned runs every step",
			doc:  model.Document{"_id": 1, "name": "Rex"},
			want: model.Document{"_id": 1, "Name": "Rex", "_v": []int32{0, 2, 0}},
		},
		{
			name: "current skips upgrades",
			doc:  model.Document{"_id": 2, "Name": "Tom", "_v": []any{int32(0), int32(2), int32(0)}},
			want: model.Document{"_id": 2, "Name": "Tom", "_v": []int32{0, 2, 0}},
		},
		{
			name: "subtype resolved through discriminator",
			doc:  model.Document{"_id": 3, "Name": "Fido", "_t": "dog", "_v": []any{int32(0), int32(2), int32(0)}},
			want: model.Document{"_id": 3, "Name": "Fido", "_t": "dog", "Barks": true, "_v": []int32{0, 3, 0}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, rewrite(tt.doc))
			assert.Equal(t, tt.want, tt.doc)
		})
	}
}

func TestSchemaRewriter_WithoutVersionWrite(t *testing.T) {
	rewrite := SchemaRewriter(animalSchemas(t), animalType, DefaultVersionElement, false)
	doc := model.Document{"_id": 1, "name": "Rex"}
	require.NoError(t, rewrite(doc))
	assert.Equal(t, model.Document{"_id": 1, "Name": "Rex"}, doc)
}

func TestSchemaRewriter_UnknownDiscriminator(t *testing.T) {
	rewrite := SchemaRewriter(animalSchemas(t), animalType, DefaultVersionElement, true)
	err := rewrite(model.Document{"_id": 1, "_t": "cat"})
	assert.True(t, odmerr.IsNotFound(err))
}

func TestSchemaRewriter_DrivesMigration(t *testing.T) {
	schemas := animalSchemas(t)
	repo := repository.NewMemory("animals", animalType)
	require.NoError(t, repo.Insert(
		model.Document{"_id": 1, "name": "Rex"},
		model.Document{"_id": 2, "Name": "Tom", "_v": []int32{0, 2, 0}},
	))

	m := NewDocumentMigration(
		Descriptor{SourceCollection: "animals", MinimumVersion: semver.MustParse("0.2.0")},
		repo, WithRewriter(SchemaRewriter(schemas, animalType, DefaultVersionElement, true)))

	res, err := m.Migrate(context.Background(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Migrated)

	doc, err := repo.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Rex", doc["Name"])
	assert.NotContains(t, doc, "name")
}
