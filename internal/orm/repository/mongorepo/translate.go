package mongorepo

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/conduit-lang/odm/internal/orm/filter"
	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/repository"
)

// Translate converts a filter into a MongoDB query document
func Translate(f *filter.Filter) bson.D {
	return translate(f, "")
}

// TranslateArrayFilters converts array filters, prefixing their paths with the
// identifier as "$[identifier]" updates expect
func TranslateArrayFilters(afs []repository.ArrayFilter) []any {
	out := make([]any, 0, len(afs))
	for _, af := range afs {
		out = append(out, translate(af.Filter, af.Identifier))
	}
	return out
}

func translate(f *filter.Filter, prefix string) bson.D {
	if f == nil {
		return bson.D{}
	}

	switch f.Logic {
	case filter.LogicLeaf:
		c := f.Condition
		path := c.Path
		if prefix != "" {
			path = model.JoinPath(prefix, path)
		}
		return bson.D{{Key: path, Value: bson.D{{Key: operator(c.Operator), Value: c.Value}}}}

	case filter.LogicAnd:
		switch len(f.Children) {
		case 0:
			return bson.D{}
		case 1:
			return translate(f.Children[0], prefix)
		}
		return bson.D{{Key: "$and", Value: children(f.Children, prefix)}}

	case filter.LogicOr:
		if len(f.Children) == 0 {
			// an empty disjunction matches nothing
			return bson.D{{Key: "$nor", Value: bson.A{bson.D{}}}}
		}
		return bson.D{{Key: "$or", Value: children(f.Children, prefix)}}

	case filter.LogicNot:
		return bson.D{{Key: "$nor", Value: children(f.Children, prefix)}}

	default:
		return bson.D{}
	}
}

func children(filters []*filter.Filter, prefix string) bson.A {
	out := make(bson.A, 0, len(filters))
	for _, c := range filters {
		out = append(out, translate(c, prefix))
	}
	return out
}

func operator(op filter.Operator) string {
	switch op {
	case filter.OpEqual:
		return "$eq"
	case filter.OpLessThan:
		return "$lt"
	case filter.OpExists:
		return "$exists"
	case filter.OpType:
		return "$type"
	default:
		return "$eq"
	}
}

// Normalize converts decoded BSON containers into the plain maps and slices of
// model.Document
func Normalize(m bson.M) model.Document {
	return model.Document(normalizeValue(m).(map[string]any))
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeValue(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}
