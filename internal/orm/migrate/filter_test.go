package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/semver"
)

func TestVersionFilter(t *testing.T) {
	f := VersionFilter("_v", semver.MustParse("1.2.3"))

	v := func(major, minor, patch int32) model.Document {
		return model.Document{"_v": []any{major, minor, patch}}
	}

	tests := []struct {
		name string
		doc  model.Document
		want bool
	}{
		{name: "missing", doc: model.Document{}, want: true},
		{name: "legacy string", doc: model.Document{"_v": "1.2.3"}, want: true},
		{name: "int64 encoded", doc: model.Document{"_v": []any{int64(1), int64(2), int64(3)}}, want: true},
		{name: "lower major", doc: v(0, 9, 9), want: true},
		{name: "lower minor", doc: v(1, 1, 9), want: true},
		{name: "lower patch", doc: v(1, 2, 2), want: true},
		{name: "equal", doc: v(1, 2, 3), want: false},
		{name: "higher patch", doc: v(1, 2, 4), want: false},
		{name: "higher minor", doc: v(1, 3, 0), want: false},
		{name: "higher major", doc: v(2, 0, 0), want: false},
		{name: "typed slice", doc: model.Document{"_v": []int32{1, 2, 3}}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Match(tt.doc))
		})
	}
}

func TestVersionFilter_LargestMinimum(t *testing.T) {
	f := VersionFilter("_v", semver.MustNew(0, semver.MaxComponent, 0))

	assert.True(t, f.Match(model.Document{"_v": []any{int32(0), int32(5), int32(0)}}))
	assert.False(t, f.Match(model.Document{"_v": []any{int32(0), int32(semver.MaxComponent), int32(0)}}))
	assert.False(t, f.Match(model.Document{"_v": []any{int32(1), int32(0), int32(0)}}))
}
