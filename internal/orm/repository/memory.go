package repository

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/conduit-lang/odm/internal/orm/filter"
	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/odmerr"
)

// Memory is a Repository keeping documents in process. Identities must be comparable.
// Documents are copied on the way in and out.
type Memory struct {
	name      string
	modelType *model.Type

	mu    sync.RWMutex
	ids   []any
	docs  map[any]model.Document
	hooks []func(op string, id any)
}

// NewMemory creates an empty in-memory collection
func NewMemory(name string, t *model.Type) *Memory {
	return &Memory{
		name:      name,
		modelType: t,
		docs:      make(map[any]model.Document),
	}
}

// Name implements Repository
func (m *Memory) Name() string { return m.name }

// ModelType implements Repository
func (m *Memory) ModelType() *model.Type { return m.modelType }

// Insert stores docs as given, replacing documents with the same identity
func (m *Memory) Insert(docs ...model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, doc := range docs {
		id, ok := doc.ID()
		if !ok {
			return odmerr.Argument("Insert", "document in %s has no %s", m.name, model.IDElement)
		}
		m.put(id, doc.Clone())
	}
	return nil
}

// Docs returns a copy of every stored document in insertion order
func (m *Memory) Docs() []model.Document {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Document, 0, len(m.ids))
	for _, id := range m.ids {
		out = append(out, m.docs[id].Clone())
	}
	return out
}

// Len returns the number of stored documents
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// OnWrite registers fn to run after every ReplaceOne and on every document an
// UpdateMany modifies
func (m *Memory) OnWrite(fn func(op string, id any)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Find implements Repository. Matching documents are captured when Find is called.
func (m *Memory) Find(ctx context.Context, f *filter.Filter, _ FindOptions) (Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Document
	for _, id := range m.ids {
		doc := m.docs[id]
		if f.Match(doc) {
			out = append(out, doc.Clone())
		}
	}
	return NewSliceCursor(out), nil
}

// FindByID implements Repository
func (m *Memory) FindByID(ctx context.Context, id any) (model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, odmerr.NotFound("FindByID", "no document %v in %s", id, m.name)
	}
	return doc.Clone(), nil
}

// ReplaceOne implements Repository
func (m *Memory) ReplaceOne(ctx context.Context, id any, doc model.Document, opts ReplaceOptions) (ReplaceResult, error) {
	if err := ctx.Err(); err != nil {
		return ReplaceResult{}, err
	}
	if docID, ok := doc.ID(); ok && !reflect.DeepEqual(docID, id) {
		return ReplaceResult{}, odmerr.Argument("ReplaceOne", "document identity %v does not match %v", docID, id)
	}

	m.mu.Lock()
	_, exists := m.docs[id]
	var res ReplaceResult
	switch {
	case exists:
		res.Matched = 1
	case opts.Upsert:
		res.Upserted = true
	default:
		m.mu.Unlock()
		return res, nil
	}

	stored := doc.Clone()
	stored[model.IDElement] = id
	m.put(id, stored)
	hooks := m.hooks
	m.mu.Unlock()

	for _, fn := range hooks {
		fn("replace", id)
	}
	return res, nil
}

// UpdateMany implements Repository
func (m *Memory) UpdateMany(ctx context.Context, f *filter.Filter, u Update) (UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return UpdateResult{}, err
	}
	arrayFilters := make(map[string]*filter.Filter, len(u.ArrayFilters))
	for _, af := range u.ArrayFilters {
		arrayFilters[af.Identifier] = af.Filter
	}

	m.mu.Lock()
	var res UpdateResult
	var modified []any
	for _, id := range m.ids {
		doc := m.docs[id]
		if !f.Match(doc) {
			continue
		}
		res.Matched++

		changed := false
		for path, value := range u.Set {
			segs := model.SplitPath(path)
			c, err := setPath(map[string]any(doc), segs, value, arrayFilters)
			if err != nil {
				m.mu.Unlock()
				return res, odmerr.Argument("UpdateMany", "%s in %s: %v", path, m.name, err)
			}
			changed = changed || c
		}
		if changed {
			res.Modified++
			modified = append(modified, id)
		}
	}
	hooks := m.hooks
	m.mu.Unlock()

	for _, id := range modified {
		for _, fn := range hooks {
			fn("update", id)
		}
	}
	return res, nil
}

func (m *Memory) put(id any, doc model.Document) {
	if _, exists := m.docs[id]; !exists {
		m.ids = append(m.ids, id)
	}
	m.docs[id] = doc
}

// setPath assigns value at segs below cur and reports whether anything changed
func setPath(cur map[string]any, segs []string, value any, arrayFilters map[string]*filter.Filter) (bool, error) {
	seg := segs[0]
	if len(segs) == 1 {
		if old, ok := cur[seg]; ok && reflect.DeepEqual(old, value) {
			return false, nil
		}
		cur[seg] = model.CloneValue(value)
		return true, nil
	}

	child, exists := cur[seg]
	next := segs[1]

	if isPositional(next) {
		arr, ok := child.([]any)
		if !ok {
			if !exists {
				return false, nil
			}
			return false, errors.New("positional update on a non-array element " + seg)
		}
		return setElements(arr, segs[1:], value, arrayFilters)
	}

	if arr, ok := child.([]any); ok {
		idx, err := strconv.Atoi(next)
		if err != nil || idx < 0 || idx >= len(arr) {
			return false, errors.New("cannot address " + next + " inside array " + seg)
		}
		if len(segs) == 2 {
			if reflect.DeepEqual(arr[idx], value) {
				return false, nil
			}
			arr[idx] = model.CloneValue(value)
			return true, nil
		}
		elem, ok := asDocument(arr[idx])
		if !ok {
			return false, errors.New("element " + next + " of " + seg + " is not a document")
		}
		return setPath(elem, segs[2:], value, arrayFilters)
	}

	nested, ok := asDocument(child)
	if !ok {
		if exists && child != nil {
			return false, errors.New("element " + seg + " is not a document")
		}
		nested = map[string]any{}
		cur[seg] = nested
	}
	return setPath(nested, segs[1:], value, arrayFilters)
}

// setElements applies a positional segment ("$[]" or "$[id]") to arr
func setElements(arr []any, segs []string, value any, arrayFilters map[string]*filter.Filter) (bool, error) {
	ident := strings.TrimSuffix(strings.TrimPrefix(segs[0], "$["), "]")
	var match *filter.Filter
	if ident != "" {
		f, ok := arrayFilters[ident]
		if !ok {
			return false, errors.New("no array filter found for identifier " + ident)
		}
		match = f
	}

	changed := false
	for i, e := range arr {
		elem, isDoc := asDocument(e)
		if match != nil && (!isDoc || !match.Match(model.Document(elem))) {
			continue
		}
		if len(segs) == 1 {
			if !reflect.DeepEqual(e, value) {
				arr[i] = model.CloneValue(value)
				changed = true
			}
			continue
		}
		if !isDoc {
			continue
		}
		c, err := setPath(elem, segs[1:], value, arrayFilters)
		if err != nil {
			return changed, err
		}
		changed = changed || c
	}
	return changed, nil
}

func isPositional(seg string) bool {
	return strings.HasPrefix(seg, "$[") && strings.HasSuffix(seg, "]")
}

func asDocument(v any) (map[string]any, bool) {
	switch d := v.(type) {
	case map[string]any:
		return d, true
	case model.Document:
		return map[string]any(d), true
	default:
		return nil, false
	}
}
