package schema

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/odm/internal/orm/discriminator"
	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/odmerr"
	"github.com/conduit-lang/odm/internal/orm/semver"
)

var (
	userType  = model.NewType("User", nil)
	videoType = model.NewType("Video", nil)

	userID      = userType.Field("ID")
	userName    = userType.Field("Name")
	userEmail   = userType.Field("Email")
	videoID     = videoType.Field("ID")
	videoTitle  = videoType.Field("Title")
	videoOwner  = videoType.Field("Owner")
	videoCrew   = videoType.Field("Crew")
	videoFormat = videoType.Field("Format")
)

func registerUser(t *testing.T, r *Registry, version string) *Descriptor {
	t.Helper()
	d, err := r.RegisterModelSchema(userType, semver.MustParse(version), func(b *Builder) {
		b.ID("_id", userID).
			Member("name", userName).
			Member("email", userEmail)
	})
	require.NoError(t, err)
	return d
}

func registerVideo(t *testing.T, r *Registry) *Descriptor {
	t.Helper()
	d, err := r.RegisterModelSchema(videoType, semver.MustParse("0.2.0"), func(b *Builder) {
		b.ID("_id", videoID).
			Member("Title", videoTitle).
			Reference("Owner", videoOwner, userType, func(s *Builder) {
				s.ID("_id", userID).Member("Name", userName)
			}).
			ReferenceMany("Crew", videoCrew, userType, func(s *Builder) {
				s.ID("_id", userID).Member("Name", userName)
			}).
			Embedded("Format", videoFormat, model.NewType("Format", nil), func(e *Builder) {
				e.Member("Width", model.NewType("Format", nil).Field("Width"))
			})
	})
	require.NoError(t, err)
	return d
}

func TestRegisterModelSchema(t *testing.T) {
	r := NewRegistry(nil)
	d := registerVideo(t, r)

	assert.Equal(t, "Video@0.2.0", d.ID())
	assert.Equal(t, KindEntity, d.Kind())
	assert.Same(t, d, d.Root())

	id, ok := d.IDMemberMap()
	require.True(t, ok)
	assert.Equal(t, "Video@0.2.0:_id", id.ID())
	assert.True(t, id.IsID())
	assert.False(t, id.IsEntityReferenceMember())

	owner, ok := d.Member("Owner")
	require.True(t, ok)
	require.NotNil(t, owner.Nested())
	assert.Equal(t, KindSummary, owner.Nested().Kind())
	assert.Equal(t, "Video@0.2.0/Owner", owner.Nested().ID())
	assert.Same(t, userType, owner.Nested().ModelType())
	assert.Same(t, d, owner.Nested().Root())

	name, ok := owner.Nested().Member("Name")
	require.True(t, ok)
	assert.Equal(t, "Owner.Name", name.Path())
	assert.Equal(t, "Video@0.2.0:Owner.Name", name.ID())
	assert.True(t, name.IsEntityReferenceMember())
	assert.Same(t, owner.Nested(), name.ReferenceOwner())

	crew, ok := d.Member("Crew")
	require.True(t, ok)
	assert.True(t, crew.IsArray())
	crewName, _ := crew.Nested().Member("Name")
	path, ok := crewName.ArrayPath()
	require.True(t, ok)
	assert.Equal(t, "Crew", path)

	format, _ := d.Member("Format")
	width, _ := format.Nested().Member("Width")
	assert.False(t, width.IsEntityReferenceMember())
	assert.Nil(t, width.ReferenceOwner())

	assert.Len(t, d.Summaries(), 2)
}

func TestRegisterModelSchema_VersionOrder(t *testing.T) {
	tests := []struct {
		name   string
		second string
		ok     bool
	}{
		{name: "greater", second: "0.2.0", ok: true},
		{name: "equal", second: "0.1.0"},
		{name: "lower", second: "0.0.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(nil)
			registerUser(t, r, "0.1.0")

			_, err := r.RegisterModelSchema(userType, semver.MustParse(tt.second), func(b *Builder) {
				b.ID("_id", userID)
			})
			if tt.ok {
				require.NoError(t, err)
				return
			}
			assert.True(t, odmerr.IsConfiguration(err), "%v", err)
			assert.Len(t, r.Schemas(userType), 1)
		})
	}
}

func TestRegisterModelSchema_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*Builder)
	}{
		{name: "no identity", configure: func(b *Builder) { b.Member("name", userName) }},
		{name: "duplicate element", configure: func(b *Builder) {
			b.ID("_id", userID).Member("name", userName).Member("name", userEmail)
		}},
		{name: "summary without identity", configure: func(b *Builder) {
			b.ID("_id", userID).Reference("Manager", userType.Field("Manager"), userType, func(s *Builder) {
				s.Member("Name", userName)
			})
		}},
		{name: "discriminator on summary", configure: func(b *Builder) {
			b.ID("_id", userID).Reference("Manager", userType.Field("Manager"), userType, func(s *Builder) {
				s.ID("_id", userID).Discriminator("x")
			})
		}},
		{name: "empty field handle", configure: func(b *Builder) {
			b.ID("_id", userID).Member("name", model.Field{})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(nil)
			_, err := r.RegisterModelSchema(userType, semver.MustParse("1.0.0"), tt.configure)
			assert.True(t, odmerr.IsConfiguration(err), "%v", err)
			_, err = r.GetActiveSchema(userType)
			assert.True(t, odmerr.IsNotFound(err))
		})
	}
}

func TestRegisterModelSchema_RejectsInterface(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.RegisterModelSchema(model.NewInterface("IVideo"), semver.MustParse("1.0.0"), func(b *Builder) {})
	assert.True(t, odmerr.IsConfiguration(err))
}

func TestGetActiveSchema(t *testing.T) {
	r := NewRegistry(nil)
	registerUser(t, r, "0.1.0")
	second := registerUser(t, r, "0.3.0")

	active, err := r.GetActiveSchema(userType)
	require.NoError(t, err)
	assert.Same(t, second, active)

	_, err = r.GetActiveSchema(videoType)
	assert.True(t, odmerr.IsNotFound(err))
}

func TestGetMemberMapsFromMemberInfo(t *testing.T) {
	r := NewRegistry(nil)
	registerUser(t, r, "0.1.0")
	registerUser(t, r, "0.2.0")
	registerVideo(t, r)

	ids := func(maps []*MemberMap) []string {
		out := make([]string, 0, len(maps))
		for _, m := range maps {
			out = append(out, m.ID())
		}
		return out
	}

	assert.ElementsMatch(t, []string{
		"User@0.1.0:name",
		"User@0.2.0:name",
		"Video@0.2.0:Owner.Name",
		"Video@0.2.0:Crew.Name",
	}, ids(r.GetMemberMapsFromMemberInfo(userName)))

	assert.ElementsMatch(t, []string{"User@0.1.0:email", "User@0.2.0:email"},
		ids(r.GetMemberMapsFromMemberInfo(userEmail)))

	assert.Empty(t, r.GetMemberMapsFromMemberInfo(model.Field{}))
	assert.Empty(t, r.GetMemberMapsFromMemberInfo(userType.Field("Unknown")))
}

func TestGetMemberMapsFromMemberInfo_InheritedFields(t *testing.T) {
	animal := model.NewType("Animal", nil)
	dog := model.NewType("Dog", animal)
	animalName := animal.Field("Name")

	r := NewRegistry(nil)
	_, err := r.RegisterModelSchema(dog, semver.MustParse("1.0.0"), func(b *Builder) {
		b.ID("_id", animal.Field("ID")).Member("name", animalName)
	})
	require.NoError(t, err)

	maps := r.GetMemberMapsFromMemberInfo(dog.Field("Name"))
	require.Len(t, maps, 1)
	assert.Equal(t, "Dog@1.0.0:name", maps[0].ID())
}

func TestMemberMapByIDAndDescriptor(t *testing.T) {
	r := NewRegistry(nil)
	registerVideo(t, r)

	m, err := r.MemberMapByID("Video@0.2.0:Owner._id")
	require.NoError(t, err)
	assert.True(t, m.IsID())
	assert.Equal(t, "Owner._id", m.Path())

	d, err := r.Descriptor("Video@0.2.0/Owner")
	require.NoError(t, err)
	assert.Same(t, m.Owner(), d)

	_, err = r.MemberMapByID("Video@9.9.9:_id")
	assert.True(t, odmerr.IsNotFound(err))
	_, err = r.Descriptor("nope")
	assert.True(t, odmerr.IsNotFound(err))
}

func TestUpgraders(t *testing.T) {
	r := NewRegistry(nil)
	var calls []string
	step := func(name string) UpgradeFunc {
		return func(doc model.Document) error {
			calls = append(calls, name)
			return nil
		}
	}

	for _, v := range []string{"0.1.0", "0.2.0", "0.3.0"} {
		v := v
		_, err := r.RegisterModelSchema(userType, semver.MustParse(v), func(b *Builder) {
			b.ID("_id", userID).Upgrade(step(v))
		})
		require.NoError(t, err)
	}

	for _, up := range r.Upgraders(userType, semver.MustParse("0.1.0")) {
		require.NoError(t, up(model.Document{}))
	}
	assert.Equal(t, []string{"0.2.0", "0.3.0"}, calls)
	assert.Len(t, r.Upgraders(userType, semver.Zero), 3)
	assert.Empty(t, r.Upgraders(userType, semver.MustParse("0.3.0")))
}

func TestDependents(t *testing.T) {
	r := NewRegistry(nil)
	registerUser(t, r, "0.1.0")
	video := registerVideo(t, r)

	assert.Equal(t, []*Descriptor{video}, r.Dependents(userType))
	assert.Empty(t, r.Dependents(videoType))
}

func TestRegistry_RegistersDiscriminators(t *testing.T) {
	animal := model.NewType("Animal", nil)
	dog := model.NewType("Dog", animal)
	disc := discriminator.NewRegistry()
	r := NewRegistry(disc)

	_, err := r.RegisterModelSchema(animal, semver.MustParse("1.0.0"), func(b *Builder) {
		b.ID("_id", animal.Field("ID"))
	})
	require.NoError(t, err)
	d, err := r.RegisterModelSchema(dog, semver.MustParse("1.0.0"), func(b *Builder) {
		b.ID("_id", animal.Field("ID")).Discriminator("dog")
	})
	require.NoError(t, err)

	assert.Equal(t, "dog", d.Discriminator())
	assert.True(t, disc.IsDiscriminated(animal))
	assert.Equal(t, []*model.Type{dog}, disc.LookupTypes("dog"))
	v, ok := disc.Value(animal)
	require.True(t, ok)
	assert.Equal(t, "Animal", v)
}

func TestRegisterModelSchema_DiscriminatorIsStableAcrossVersions(t *testing.T) {
	animal := model.NewType("Animal", nil)
	dog := model.NewType("Dog", animal)
	disc := discriminator.NewRegistry()
	r := NewRegistry(disc)

	_, err := r.RegisterModelSchema(dog, semver.MustParse("1.0.0"), func(b *Builder) {
		b.ID("_id", animal.Field("ID")).Discriminator("dog")
	})
	require.NoError(t, err)

	_, err = r.RegisterModelSchema(dog, semver.MustParse("1.1.0"), func(b *Builder) {
		b.ID("_id", animal.Field("ID")).Discriminator("canine")
	})
	assert.True(t, odmerr.IsConfiguration(err))
	assert.Empty(t, disc.LookupTypes("canine"))

	_, err = r.RegisterModelSchema(dog, semver.MustParse("1.1.0"), func(b *Builder) {
		b.ID("_id", animal.Field("ID"))
	})
	assert.True(t, odmerr.IsConfiguration(err), "an omitted discriminator defaults to the type name")

	d, err := r.RegisterModelSchema(dog, semver.MustParse("1.2.0"), func(b *Builder) {
		b.ID("_id", animal.Field("ID")).Discriminator("dog")
	})
	require.NoError(t, err)
	assert.Equal(t, "dog", d.Discriminator())
	v, ok := disc.Value(dog)
	require.True(t, ok)
	assert.Equal(t, "dog", v)
}

func TestRegistry_Freeze(t *testing.T) {
	r := NewRegistry(nil)
	registerUser(t, r, "0.1.0")
	r.Freeze()

	_, err := r.RegisterModelSchema(videoType, semver.MustParse("1.0.0"), func(b *Builder) {
		b.ID("_id", videoID)
	})
	assert.True(t, odmerr.IsInvalidState(err))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.GetActiveSchema(userType)
			assert.NoError(t, err)
			assert.Len(t, r.GetMemberMapsFromMemberInfo(userName), 1)
		}()
	}
	wg.Wait()
}
