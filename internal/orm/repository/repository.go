// Package repository defines the collection access the registries and migrations
// depend on, a registry resolving repositories by name and model type, and an
// in-memory implementation.
package repository

import (
	"context"
	"sync"

	"github.com/conduit-lang/odm/internal/orm/filter"
	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/odmerr"
)

// FindOptions tunes a Find
type FindOptions struct {
	// NoCursorTimeout keeps the server from closing the cursor while idle
	NoCursorTimeout bool
	// BatchSize overrides the driver batch size when positive
	BatchSize int32
}

// ReplaceOptions tunes a ReplaceOne
type ReplaceOptions struct {
	Upsert bool
}

// ReplaceResult reports what a ReplaceOne did
type ReplaceResult struct {
	Matched  int64
	Upserted bool
}

// ArrayFilter restricts a "$[identifier]" positional update to the array elements
// matching Filter. Filter paths are relative to the element.
type ArrayFilter struct {
	Identifier string
	Filter     *filter.Filter
}

// Update sets elements on matching documents. Set paths may hold positional
// segments: "$[]" updates every element of an array, "$[id]" the elements matching
// the array filter named id.
type Update struct {
	Set          map[string]any
	ArrayFilters []ArrayFilter
}

// UpdateResult reports what an UpdateMany did
type UpdateResult struct {
	Matched  int64
	Modified int64
}

// Cursor streams the documents of a Find
type Cursor interface {
	Next(ctx context.Context) bool
	Document() model.Document
	Err() error
	Close(ctx context.Context) error
}

// Repository is one collection of documents of a model type
type Repository interface {
	Name() string
	ModelType() *model.Type
	Find(ctx context.Context, f *filter.Filter, opts FindOptions) (Cursor, error)
	// FindByID fails with a NotFound error when no document has the id
	FindByID(ctx context.Context, id any) (model.Document, error)
	ReplaceOne(ctx context.Context, id any, doc model.Document, opts ReplaceOptions) (ReplaceResult, error)
	UpdateMany(ctx context.Context, f *filter.Filter, u Update) (UpdateResult, error)
}

// Registry resolves repositories by collection name and by model type
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Repository
	byType map[*model.Type]Repository
	order  []Repository
}

// NewRegistry creates an empty repository registry
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Repository),
		byType: make(map[*model.Type]Repository),
	}
}

// Register adds repo. Names and model types are exclusive.
func (r *Registry) Register(repo Repository) error {
	const op = "Register"
	if repo == nil {
		return odmerr.Argument(op, "repository is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[repo.Name()]; exists {
		return odmerr.Configuration(op, "repository %s is already registered", repo.Name())
	}
	if existing, exists := r.byType[repo.ModelType()]; exists {
		return odmerr.Configuration(op, "model type %s is already stored in repository %s", repo.ModelType(), existing.Name())
	}
	r.byName[repo.Name()] = repo
	r.byType[repo.ModelType()] = repo
	r.order = append(r.order, repo)
	return nil
}

// ByName returns the repository of a collection
func (r *Registry) ByName(name string) (Repository, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	repo, ok := r.byName[name]
	if !ok {
		return nil, odmerr.NotFound("ByName", "no repository named %s", name)
	}
	return repo, nil
}

// ForType returns the repository storing t, walking up its ancestors so derived
// types resolve to the collection of their base type
func (r *Registry) ForType(t *model.Type) (Repository, error) {
	if t == nil {
		return nil, odmerr.Argument("ForType", "model type is nil")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range t.Hierarchy() {
		if repo, ok := r.byType[c]; ok {
			return repo, nil
		}
	}
	return nil, odmerr.NotFound("ForType", "no repository stores %s", t)
}

// All returns the registered repositories in registration order
func (r *Registry) All() []Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Repository, len(r.order))
	copy(out, r.order)
	return out
}

// SliceCursor iterates over documents already loaded in memory
type SliceCursor struct {
	docs []model.Document
	pos  int
	cur  model.Document
	err  error
}

// NewSliceCursor creates a cursor over docs
func NewSliceCursor(docs []model.Document) *SliceCursor {
	return &SliceCursor{docs: docs}
}

// Next advances the cursor. It stops when ctx is done.
func (c *SliceCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos >= len(c.docs) {
		c.cur = nil
		return false
	}
	c.cur = c.docs[c.pos]
	c.pos++
	return true
}

// Document returns the current document
func (c *SliceCursor) Document() model.Document { return c.cur }

// Err returns the error that stopped iteration
func (c *SliceCursor) Err() error { return c.err }

// Close releases the cursor
func (c *SliceCursor) Close(context.Context) error {
	c.docs = nil
	return nil
}
