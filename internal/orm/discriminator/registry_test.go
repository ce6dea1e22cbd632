package discriminator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/odmerr"
)

type fixture struct {
	pet    *model.Type
	animal *model.Type
	dog    *model.Type
	puppy  *model.Type
	cat    *model.Type
}

func newFixture() fixture {
	pet := model.NewInterface("IPet")
	animal := model.NewType("Animal", nil)
	dog := model.NewType("Dog", animal, pet)
	return fixture{
		pet:    pet,
		animal: animal,
		dog:    dog,
		puppy:  model.NewType("Puppy", dog),
		cat:    model.NewType("Cat", animal),
	}
}

func TestAddDiscriminator_MarksAncestors(t *testing.T) {
	f := newFixture()
	r := NewRegistry()

	require.NoError(t, r.AddDiscriminator(f.dog, "Dog"))
	assert.True(t, r.IsDiscriminated(f.animal))
	assert.False(t, r.IsDiscriminated(f.dog))
	assert.Equal(t, 1, r.Len())

	require.NoError(t, r.AddDiscriminator(f.puppy, "Puppy"))
	assert.True(t, r.IsDiscriminated(f.dog))
	assert.True(t, r.IsDiscriminated(f.animal))
}

func TestAddDiscriminator_DuplicateIsNoop(t *testing.T) {
	f := newFixture()
	r := NewRegistry()

	require.NoError(t, r.AddDiscriminator(f.dog, "Dog"))
	require.NoError(t, r.AddDiscriminator(f.dog, "Dog"))

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []*model.Type{f.dog}, r.LookupTypes("Dog"))
}

func TestAddDiscriminator_RejectsInterface(t *testing.T) {
	f := newFixture()
	r := NewRegistry()

	err := r.AddDiscriminator(f.pet, "Pet")
	assert.True(t, odmerr.IsConfiguration(err))
	assert.Equal(t, 0, r.Len())
}

func TestAddDiscriminator_Arguments(t *testing.T) {
	r := NewRegistry()
	assert.True(t, odmerr.IsArgument(r.AddDiscriminator(nil, "x")))
	assert.True(t, odmerr.IsArgument(r.AddDiscriminator(model.NewType("X", nil), "")))
}

func TestAddDiscriminatorConvention_Exclusive(t *testing.T) {
	f := newFixture()
	r := NewRegistry()
	first := NewHierarchicalConvention("_t")

	require.NoError(t, r.AddDiscriminatorConvention(f.animal, first))
	err := r.AddDiscriminatorConvention(f.animal, NewScalarConvention("kind"))
	assert.True(t, odmerr.IsConfiguration(err))

	got, ok := r.Convention(f.animal)
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestLookupConvention_WalksHierarchy(t *testing.T) {
	f := newFixture()
	r := NewRegistry()
	conv := NewHierarchicalConvention("_t")
	require.NoError(t, r.AddDiscriminatorConvention(f.animal, conv))

	assert.Same(t, conv, r.LookupConvention(f.puppy))
	assert.Equal(t, DefaultElementName, r.LookupConvention(model.NewType("Other", nil)).ElementName())
}

func TestFreeze(t *testing.T) {
	f := newFixture()
	r := NewRegistry()
	require.NoError(t, r.AddDiscriminator(f.dog, "Dog"))
	r.Freeze()

	assert.True(t, r.IsFrozen())
	assert.True(t, odmerr.IsInvalidState(r.AddDiscriminator(f.cat, "Cat")))
	assert.True(t, odmerr.IsInvalidState(r.AddDiscriminatorConvention(f.cat, NewScalarConvention("_t"))))

	// reads keep working without the lock
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, r.IsDiscriminated(f.animal))
			assert.Len(t, r.LookupTypes("Dog"), 1)
		}()
	}
	wg.Wait()
}

func TestResolveActualType(t *testing.T) {
	f := newFixture()
	r := NewRegistry()
	require.NoError(t, r.AddDiscriminator(f.dog, "Dog"))
	require.NoError(t, r.AddDiscriminator(f.cat, "Cat"))
	require.NoError(t, r.AddDiscriminator(f.puppy, "Puppy"))
	r.Freeze()

	tests := []struct {
		name     string
		nominal  *model.Type
		doc      model.Document
		want     *model.Type
		notFound bool
	}{
		{name: "scalar", nominal: f.animal, doc: model.Document{"_t": "Cat"}, want: f.cat},
		{name: "hierarchical array", nominal: f.animal, doc: model.Document{"_t": []any{"Animal", "Dog", "Puppy"}}, want: f.puppy},
		{name: "missing element", nominal: f.animal, doc: model.Document{}, want: f.animal},
		{name: "not discriminated", nominal: f.cat, doc: model.Document{"_t": "Dog"}, want: f.cat},
		{name: "not assignable", nominal: f.dog, doc: model.Document{"_t": "Cat"}, notFound: true},
		{name: "unknown value", nominal: f.animal, doc: model.Document{"_t": "Bird"}, notFound: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolveActualType(tt.nominal, tt.doc)
			if tt.notFound {
				assert.True(t, odmerr.IsNotFound(err), "%v", err)
				return
			}
			require.NoError(t, err)
			assert.Same(t, tt.want, got)
		})
	}
}

func TestLookupActualType_Ambiguous(t *testing.T) {
	f := newFixture()
	r := NewRegistry()
	require.NoError(t, r.AddDiscriminator(f.dog, "Pet"))
	require.NoError(t, r.AddDiscriminator(f.cat, "Pet"))

	_, err := r.LookupActualType(f.animal, "Pet")
	assert.True(t, odmerr.IsConfiguration(err))

	got, err := r.LookupActualType(f.dog, "Pet")
	require.NoError(t, err)
	assert.Same(t, f.dog, got)
}

func TestConventions_Encode(t *testing.T) {
	f := newFixture()
	r := NewRegistry()
	require.NoError(t, r.AddDiscriminator(f.animal, "Animal"))
	require.NoError(t, r.AddDiscriminator(f.dog, "Dog"))
	require.NoError(t, r.AddDiscriminator(f.puppy, "Puppy"))

	v, ok := NewHierarchicalConvention("_t").Encode(f.animal, f.puppy, r.Value)
	require.True(t, ok)
	assert.Equal(t, []any{"Animal", "Dog", "Puppy"}, v)

	v, ok = NewScalarConvention("_t").Encode(f.animal, f.dog, r.Value)
	require.True(t, ok)
	assert.Equal(t, "Dog", v)

	_, ok = NewScalarConvention("_t").Encode(f.dog, f.dog, r.Value)
	assert.False(t, ok)
}
