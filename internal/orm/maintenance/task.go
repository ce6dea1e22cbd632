package maintenance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/odm/internal/orm/filter"
	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/odmerr"
	"github.com/conduit-lang/odm/internal/orm/repository"
	"github.com/conduit-lang/odm/internal/orm/schema"
	"github.com/conduit-lang/odm/internal/tasks"
)

// arrayIdentifier names the array filter selecting summary copies inside arrays
const arrayIdentifier = "e"

// Register adds the update-dependencies task to handlers
func (m *Maintainer) Register(handlers *tasks.Handlers) {
	handlers.Register(UpdateDependenciesKind, m.UpdateDependencies)
}

// UpdateDependencies executes an encoded DependencyUpdateJob. It reloads the entity
// and sets every summary member of every named summary from the entity's current
// state. Running it again changes nothing. A missing entity is logged and skipped.
func (m *Maintainer) UpdateDependencies(ctx context.Context, payload []byte) error {
	const op = "UpdateDependencies"

	deps, err := m.dependencies(op)
	if err != nil {
		return err
	}

	job, err := DecodeJob(payload)
	if err != nil {
		return err
	}
	logger := m.logger.With(zap.String("repository", job.Repository), zap.Any("entity", job.EntityID))

	if job.DbContext != deps.DbContext {
		logger.Warn("skipping dependency update of another context", zap.String("job_context", job.DbContext))
		return nil
	}

	source, err := deps.Repositories.ByName(job.Repository)
	if err != nil {
		return err
	}
	doc, err := source.FindByID(ctx, job.EntityID)
	if odmerr.IsNotFound(err) {
		logger.Warn("entity of dependency update not found, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load %s entity %v: %w", job.Repository, job.EntityID, err)
	}

	actual := source.ModelType()
	if d := deps.Schemas.Discriminators(); d != nil {
		if actual, err = d.ResolveActualType(source.ModelType(), doc); err != nil {
			return err
		}
	}
	sourceSchema, err := deps.Schemas.GetActiveSchema(actual)
	if err != nil {
		return err
	}

	var errs []error
	for _, path := range job.IDPaths {
		res, err := m.updateSummaries(ctx, deps, sourceSchema, doc, job.EntityID, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		logger.Debug("summaries updated",
			zap.String("id_path", path),
			zap.Int64("matched", res.Matched),
			zap.Int64("modified", res.Modified))
	}
	return errors.Join(errs...)
}

func (m *Maintainer) updateSummaries(ctx context.Context, deps Dependencies, sourceSchema *schema.Descriptor, doc model.Document, id any, idPath string) (repository.UpdateResult, error) {
	idMember, err := deps.Schemas.MemberMapByID(idPath)
	if err != nil {
		return repository.UpdateResult{}, err
	}
	summary := idMember.Owner()
	if summary == nil || summary.Kind() != schema.KindSummary {
		return repository.UpdateResult{}, odmerr.Argument("UpdateDependencies", "%s is not the identity of a summary", idPath)
	}

	target, err := deps.Repositories.ForType(summary.Root().ModelType())
	if err != nil {
		return repository.UpdateResult{}, err
	}

	update := SummaryUpdate(summary, sourceSchema, doc, id)
	if len(update.Set) == 0 {
		return repository.UpdateResult{}, nil
	}
	return target.UpdateMany(ctx, filter.Eq(idMember.Path(), id), update)
}

// SummaryUpdate builds the update setting the members of summary from the source
// document. Every array on the way to the copy is addressed with an array filter
// selecting the elements holding the copy of id.
func SummaryUpdate(summary, sourceSchema *schema.Descriptor, doc model.Document, id any) repository.Update {
	prefix, arrayFilters := positionalPrefix(summary, id)

	u := repository.Update{Set: make(map[string]any), ArrayFilters: arrayFilters}
	for _, mm := range summary.MemberMaps() {
		if mm.IsID() {
			continue
		}
		src, ok := sourceMember(sourceSchema, mm)
		if !ok {
			continue
		}
		value, ok := src.Get(doc)
		if !ok {
			continue
		}
		u.Set[model.JoinPath(prefix, mm.Element())] = value
	}
	return u
}

// positionalPrefix returns the update path of summary's members and the array
// filters it references. The array closest to the summary is "$[e]", enclosing
// ones "$[e1]", "$[e2]" and so on, each matching elements whose nested copy has id.
func positionalPrefix(summary *schema.Descriptor, id any) (string, []repository.ArrayFilter) {
	idElement := model.IDElement
	if idMember, ok := summary.IDMemberMap(); ok {
		idElement = idMember.Element()
	}

	var (
		parts   []string
		below   []string
		filters []repository.ArrayFilter
	)
	for d := summary; d.Container() != nil; d = d.Container().Owner() {
		c := d.Container()
		part := c.Element()
		if c.IsArray() {
			ident := arrayIdentifier
			if n := len(filters); n > 0 {
				ident += strconv.Itoa(n)
			}
			part += ".$[" + ident + "]"
			path := append(append([]string{}, below...), idElement)
			filters = append(filters, repository.ArrayFilter{
				Identifier: ident,
				Filter:     filter.Eq(model.JoinPath(path...), id),
			})
		}
		parts = append([]string{part}, parts...)
		below = append([]string{c.Element()}, below...)
	}
	return strings.Join(parts, "."), filters
}

// sourceMember finds the member of the source schema a summary member copies:
// same field handle first, same element name otherwise
func sourceMember(sourceSchema *schema.Descriptor, mm *schema.MemberMap) (*schema.MemberMap, bool) {
	for _, src := range sourceSchema.MemberMaps() {
		if src.Field() == mm.Field() {
			return src, true
		}
	}
	return sourceSchema.Member(mm.Element())
}

// DecodeJob decodes a DependencyUpdateJob payload. Integral numeric identities are
// decoded as int64.
func DecodeJob(payload []byte) (DependencyUpdateJob, error) {
	var job DependencyUpdateJob
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&job); err != nil {
		return job, odmerr.Argument("DecodeJob", "invalid dependency update job: %v", err)
	}
	if n, ok := job.EntityID.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			job.EntityID = i
		} else if f, err := n.Float64(); err == nil {
			job.EntityID = f
		}
	}
	if job.Repository == "" || job.EntityID == nil {
		return job, odmerr.Argument("DecodeJob", "dependency update job needs a repository and an entity id")
	}
	return job, nil
}
