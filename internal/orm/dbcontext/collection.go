package dbcontext

import (
	"context"
	"fmt"

	"github.com/conduit-lang/odm/internal/orm/filter"
	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/odmerr"
	"github.com/conduit-lang/odm/internal/orm/repository"
	"github.com/conduit-lang/odm/internal/orm/tracking"
)

// EncodeFunc converts an entity to its stored document
type EncodeFunc[T model.Entity] func(entity T) (model.Document, error)

// DecodeFunc builds an entity of the actual type resolved for a stored document
type DecodeFunc[T model.Entity] func(actual *model.Type, doc model.Document) (T, error)

// Collection is the typed access to one repository of a frozen context
type Collection[T model.Entity] struct {
	ctx    *Context
	repo   repository.Repository
	encode EncodeFunc[T]
	decode DecodeFunc[T]
}

// NewCollection binds the repository named name. The context must be frozen.
func NewCollection[T model.Entity](c *Context, name string, encode EncodeFunc[T], decode DecodeFunc[T]) (*Collection[T], error) {
	const op = "NewCollection"
	if !c.IsFrozen() {
		return nil, odmerr.InvalidState(op, "context %s is not frozen", c.opts.Name)
	}
	if encode == nil || decode == nil {
		return nil, odmerr.Argument(op, "collection %s needs an encoder and a decoder", name)
	}
	repo, err := c.repositories.ByName(name)
	if err != nil {
		return nil, err
	}
	return &Collection[T]{ctx: c, repo: repo, encode: encode, decode: decode}, nil
}

// Repository returns the underlying repository
func (col *Collection[T]) Repository() repository.Repository { return col.repo }

// Save upserts entity, then schedules the update of every summary copying one of its
// changed fields. A tracked entity's change set is reset once both succeeded.
func (col *Collection[T]) Save(ctx context.Context, entity T) error {
	const op = "Save"

	id := entity.EntityID()
	if id == nil {
		return odmerr.Argument(op, "%s entity has no identity", entity.ModelType())
	}

	doc, err := col.Encode(entity)
	if err != nil {
		return err
	}
	if _, err := col.repo.ReplaceOne(ctx, id, doc, repository.ReplaceOptions{Upsert: true}); err != nil {
		return fmt.Errorf("failed to save %s %v: %w", entity.ModelType(), id, err)
	}

	if err := col.ctx.maintainer.OnUpdatedModel(ctx, entity); err != nil {
		return err
	}
	if r, ok := any(entity).(tracking.Resetter); ok {
		r.ResetChanges()
	}
	return nil
}

// Encode converts entity to the document Save writes: the discriminator of its type is
// added when it is not the collection's type, and the schema version is stamped
// when the context writes versions in documents.
func (col *Collection[T]) Encode(entity T) (model.Document, error) {
	doc, err := col.encode(entity)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", entity.ModelType(), err)
	}
	if doc == nil {
		doc = model.Document{}
	}
	doc[model.IDElement] = entity.EntityID()

	nominal, actual := col.repo.ModelType(), entity.ModelType()
	discriminators := col.ctx.discriminators
	if conv := discriminators.LookupConvention(nominal); conv != nil {
		if v, ok := conv.Encode(nominal, actual, discriminators.Value); ok {
			doc[conv.ElementName()] = v
		}
	}

	if col.ctx.opts.WriteInDocuments {
		version := col.ctx.opts.CurrentVersion
		if active, err := col.ctx.schemas.GetActiveSchema(actual); err == nil {
			version = active.Version()
		}
		doc[col.ctx.opts.ElementName] = version.Array()
	}
	return doc, nil
}

// FindByID loads the entity with id, decoded as its actual type
func (col *Collection[T]) FindByID(ctx context.Context, id any) (T, error) {
	var zero T
	doc, err := col.repo.FindByID(ctx, id)
	if err != nil {
		return zero, err
	}
	return col.decodeDoc(doc)
}

// Find loads every entity matching f
func (col *Collection[T]) Find(ctx context.Context, f *filter.Filter) ([]T, error) {
	cur, err := col.repo.Find(ctx, f, repository.FindOptions{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []T
	for cur.Next(ctx) {
		e, err := col.decodeDoc(cur.Document())
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (col *Collection[T]) decodeDoc(doc model.Document) (T, error) {
	var zero T
	actual, err := col.ctx.discriminators.ResolveActualType(col.repo.ModelType(), doc)
	if err != nil {
		return zero, err
	}
	e, err := col.decode(actual, doc)
	if err != nil {
		return zero, fmt.Errorf("failed to decode %s: %w", actual, err)
	}
	return e, nil
}
