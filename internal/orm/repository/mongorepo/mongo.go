// Package mongorepo implements repository.Repository on a MongoDB collection.
package mongorepo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/conduit-lang/odm/internal/orm/filter"
	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/odmerr"
	"github.com/conduit-lang/odm/internal/orm/repository"
)

// Connect opens a client for uri and checks it with a ping
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// Repository is a collection of documents of one model type
type Repository struct {
	coll      *mongo.Collection
	modelType *model.Type
	logger    *zap.Logger
}

// New wraps coll
func New(coll *mongo.Collection, t *model.Type, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{
		coll:      coll,
		modelType: t,
		logger:    logger.With(zap.String("collection", coll.Name())),
	}
}

// Name implements repository.Repository
func (r *Repository) Name() string { return r.coll.Name() }

// ModelType implements repository.Repository
func (r *Repository) ModelType() *model.Type { return r.modelType }

// Find implements repository.Repository
func (r *Repository) Find(ctx context.Context, f *filter.Filter, opts repository.FindOptions) (repository.Cursor, error) {
	findOpts := options.Find().SetNoCursorTimeout(opts.NoCursorTimeout)
	if opts.BatchSize > 0 {
		findOpts.SetBatchSize(opts.BatchSize)
	}

	q := Translate(f)
	r.logger.Debug("find", zap.Stringer("filter", f), zap.Bool("no_cursor_timeout", opts.NoCursorTimeout))

	cur, err := r.coll.Find(ctx, q, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to find in %s: %w", r.Name(), err)
	}
	return &cursor{cur: cur}, nil
}

// FindByID implements repository.Repository
func (r *Repository) FindByID(ctx context.Context, id any) (model.Document, error) {
	var raw bson.M
	err := r.coll.FindOne(ctx, bson.D{{Key: model.IDElement, Value: id}}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, odmerr.NotFound("FindByID", "no document %v in %s", id, r.Name())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %v from %s: %w", id, r.Name(), err)
	}
	return Normalize(raw), nil
}

// ReplaceOne implements repository.Repository
func (r *Repository) ReplaceOne(ctx context.Context, id any, doc model.Document, opts repository.ReplaceOptions) (repository.ReplaceResult, error) {
	res, err := r.coll.ReplaceOne(ctx, bson.D{{Key: model.IDElement, Value: id}}, map[string]any(doc),
		options.Replace().SetUpsert(opts.Upsert))
	if err != nil {
		return repository.ReplaceResult{}, fmt.Errorf("failed to replace %v in %s: %w", id, r.Name(), err)
	}
	return repository.ReplaceResult{Matched: res.MatchedCount, Upserted: res.UpsertedCount > 0}, nil
}

// UpdateMany implements repository.Repository
func (r *Repository) UpdateMany(ctx context.Context, f *filter.Filter, u repository.Update) (repository.UpdateResult, error) {
	set := bson.D{}
	for path, v := range u.Set {
		set = append(set, bson.E{Key: path, Value: v})
	}

	opts := options.UpdateMany()
	if len(u.ArrayFilters) > 0 {
		opts.SetArrayFilters(TranslateArrayFilters(u.ArrayFilters))
	}

	res, err := r.coll.UpdateMany(ctx, Translate(f), bson.D{{Key: "$set", Value: set}}, opts)
	if err != nil {
		return repository.UpdateResult{}, fmt.Errorf("failed to update %s: %w", r.Name(), err)
	}
	return repository.UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

type cursor struct {
	cur *mongo.Cursor
	doc model.Document
	err error
}

func (c *cursor) Next(ctx context.Context) bool {
	if !c.cur.Next(ctx) {
		c.doc = nil
		return false
	}
	var raw bson.M
	if err := c.cur.Decode(&raw); err != nil {
		c.err = fmt.Errorf("failed to decode document: %w", err)
		return false
	}
	c.doc = Normalize(raw)
	return true
}

func (c *cursor) Document() model.Document { return c.doc }

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.cur.Err()
}

func (c *cursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }

var _ repository.Repository = (*Repository)(nil)
