// Package maintenance keeps denormalized summaries of referenced entities up to date.
//
// Saving an entity whose summarized fields changed enqueues a DependencyUpdateJob on
// the task runner; the update-dependencies task later rewrites every embedded copy
// from the entity's current state.
package maintenance

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/odmerr"
	"github.com/conduit-lang/odm/internal/orm/repository"
	"github.com/conduit-lang/odm/internal/orm/schema"
	"github.com/conduit-lang/odm/internal/orm/tracking"
	"github.com/conduit-lang/odm/internal/tasks"
)

// UpdateDependenciesKind is the task kind of DependencyUpdateJob payloads
const UpdateDependenciesKind = "odm.update-dependencies"

// DependencyUpdateJob asks the update-dependencies task to refresh the summaries
// identified by IDPaths from the current state of one entity.
// IDPaths are member map ids of the summaries' identity members.
type DependencyUpdateJob struct {
	DbContext  string   `json:"db_context"`
	Repository string   `json:"repository"`
	EntityID   any      `json:"entity_id"`
	IDPaths    []string `json:"id_paths"`
}

// Dependencies are the collaborators of a Maintainer
type Dependencies struct {
	// DbContext names the context the maintainer belongs to
	DbContext    string
	Schemas      *schema.Registry
	Repositories *repository.Registry
	Runner       tasks.Runner
	Logger       *zap.Logger
}

// Maintainer detects changes to summarized fields and schedules their propagation
type Maintainer struct {
	mu          sync.RWMutex
	initialized bool
	deps        Dependencies
	logger      *zap.Logger
}

// New creates an uninitialized maintainer
func New() *Maintainer {
	return &Maintainer{logger: zap.NewNop()}
}

// Initialize wires the maintainer. It can be called exactly once.
func (m *Maintainer) Initialize(deps Dependencies) error {
	const op = "Initialize"

	if deps.Schemas == nil || deps.Repositories == nil || deps.Runner == nil {
		return odmerr.Argument(op, "schemas, repositories and task runner are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return odmerr.InvalidState(op, "dependency maintainer of %q is already initialized", m.deps.DbContext)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	m.deps = deps
	m.logger = deps.Logger.With(zap.String("db_context", deps.DbContext))
	m.initialized = true
	return nil
}

// IsInitialized returns true once Initialize succeeded
func (m *Maintainer) IsInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

func (m *Maintainer) dependencies(op string) (Dependencies, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return Dependencies{}, odmerr.InvalidState(op, "dependency maintainer is not initialized")
	}
	return m.deps, nil
}

// OnUpdatedModel is called after entity was saved. When any changed field is copied
// into a summary of another model, one DependencyUpdateJob naming every affected
// summary is enqueued. Entities that do not report changes schedule nothing.
func (m *Maintainer) OnUpdatedModel(ctx context.Context, entity model.Entity) error {
	const op = "OnUpdatedModel"

	if entity == nil {
		return odmerr.Argument(op, "entity is nil")
	}
	id := entity.EntityID()
	if id == nil {
		return odmerr.Argument(op, "%s entity has no identity", entity.ModelType())
	}

	deps, err := m.dependencies(op)
	if err != nil {
		return err
	}

	repo, err := deps.Repositories.ForType(entity.ModelType())
	if err != nil {
		return err
	}

	reporter, ok := entity.(tracking.Reporter)
	if !ok {
		m.logger.Debug("entity does not report changes", zap.Stringer("type", entity.ModelType()))
		return nil
	}

	paths := DependentIDPaths(deps.Schemas, reporter.ChangedFields())
	if len(paths) == 0 {
		// no summary copies a changed field
		return nil
	}

	job := DependencyUpdateJob{
		DbContext:  deps.DbContext,
		Repository: repo.Name(),
		EntityID:   id,
		IDPaths:    paths,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode dependency update job: %w", err)
	}
	if err := deps.Runner.Enqueue(ctx, UpdateDependenciesKind, payload); err != nil {
		return fmt.Errorf("failed to enqueue dependency update job: %w", err)
	}

	m.logger.Debug("dependency update scheduled",
		zap.String("repository", job.Repository),
		zap.Any("entity", id),
		zap.Strings("id_paths", paths))
	return nil
}

// DependentIDPaths maps changed fields to the sorted, distinct ids of the identity
// member maps of every summary copying one of them
func DependentIDPaths(schemas *schema.Registry, changed []model.Field) []string {
	seen := make(map[string]struct{})
	for _, f := range changed {
		for _, mm := range schemas.GetMemberMapsFromMemberInfo(f) {
			if !mm.IsEntityReferenceMember() {
				continue
			}
			owner := mm.ReferenceOwner()
			if owner == nil {
				continue
			}
			idMember, ok := owner.IDMemberMap()
			if !ok {
				continue
			}
			seen[idMember.ID()] = struct{}{}
		}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
