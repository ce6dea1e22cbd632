package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/conduit-lang/odm/internal/orm/filter"
	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/repository"
	"github.com/conduit-lang/odm/internal/orm/schema"
	"github.com/conduit-lang/odm/internal/orm/semver"
)

// Model types of the documents DocumentRecorder writes
var (
	OperationType = model.NewType("MigrationOperation", nil)
	LogType       = model.NewType("MigrationLog", nil)
)

// OperationSchemaVersion is the schema version of operation documents
var OperationSchemaVersion = semver.MustNew(0, 20, 0)

// ConfigureOperationSchema declares the members of operation documents
func ConfigureOperationSchema(b *schema.Builder) {
	b.ID(model.IDElement, OperationType.Field("ID")).
		Member("StartedAt", OperationType.Field("StartedAt")).
		Member("CompletedAt", OperationType.Field("CompletedAt")).
		Member("State", OperationType.Field("State")).
		EmbeddedMany("Logs", OperationType.Field("Logs"), LogType, func(l *schema.Builder) {
			l.Member("MigrationID", LogType.Field("MigrationID")).
				Member("Collection", LogType.Field("Collection")).
				Member("MinimumVersion", LogType.Field("MinimumVersion")).
				Member("Migrated", LogType.Field("Migrated")).
				Member("Succeeded", LogType.Field("Succeeded")).
				Member("Error", LogType.Field("Error")).
				Member("CompletedAt", LogType.Field("CompletedAt"))
		})
}

// DocumentRecorder stores operations as documents of a repository, next to the
// collections they migrate. Times are stored as unix milliseconds.
type DocumentRecorder struct {
	repo    repository.Repository
	element string
	version semver.Version
}

// NewDocumentRecorder records into repo, stamping documents with the operation
// schema version on element
func NewDocumentRecorder(repo repository.Repository, element string) *DocumentRecorder {
	if element == "" {
		element = DefaultVersionElement
	}
	return &DocumentRecorder{repo: repo, element: element, version: OperationSchemaVersion}
}

// Begin implements Recorder
func (r *DocumentRecorder) Begin(ctx context.Context, op *Operation) error {
	return r.write(ctx, &Operation{ID: op.ID, StartedAt: op.StartedAt, State: op.State}, true)
}

// RecordLog implements Recorder
func (r *DocumentRecorder) RecordLog(ctx context.Context, operationID string, l Log) error {
	op, err := r.load(ctx, operationID)
	if err != nil {
		return err
	}
	op.Logs = append(op.Logs, l)
	return r.write(ctx, op, false)
}

// Complete implements Recorder
func (r *DocumentRecorder) Complete(ctx context.Context, op *Operation) error {
	stored, err := r.load(ctx, op.ID)
	if err != nil {
		return err
	}
	stored.State = op.State
	stored.CompletedAt = op.CompletedAt
	return r.write(ctx, stored, false)
}

// Last implements Recorder
func (r *DocumentRecorder) Last(ctx context.Context) (*Operation, error) {
	cur, err := r.repo.Find(ctx, filter.All(), repository.FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to query migration operations: %w", err)
	}
	defer cur.Close(ctx)

	var last *Operation
	for cur.Next(ctx) {
		op := decodeOperation(cur.Document())
		if last == nil || op.StartedAt.After(last.StartedAt) {
			last = op
		}
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration operations: %w", err)
	}
	return last, nil
}

func (r *DocumentRecorder) load(ctx context.Context, id string) (*Operation, error) {
	doc, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load migration operation %s: %w", id, err)
	}
	return decodeOperation(doc), nil
}

func (r *DocumentRecorder) write(ctx context.Context, op *Operation, upsert bool) error {
	doc := encodeOperation(op)
	doc[r.element] = r.version.Array()
	if _, err := r.repo.ReplaceOne(ctx, op.ID, doc, repository.ReplaceOptions{Upsert: upsert}); err != nil {
		return fmt.Errorf("failed to store migration operation %s: %w", op.ID, err)
	}
	return nil
}

func encodeOperation(op *Operation) model.Document {
	logs := make([]any, 0, len(op.Logs))
	for _, l := range op.Logs {
		logs = append(logs, map[string]any{
			"MigrationID":    l.MigrationID,
			"Collection":     l.Collection,
			"MinimumVersion": l.MinimumVersion,
			"Migrated":       l.Migrated,
			"Succeeded":      l.Succeeded,
			"Error":          l.Error,
			"CompletedAt":    millis(l.CompletedAt),
		})
	}
	return model.Document{
		model.IDElement: op.ID,
		"StartedAt":     millis(op.StartedAt),
		"CompletedAt":   millis(op.CompletedAt),
		"State":         op.State.String(),
		"Logs":          logs,
	}
}

func decodeOperation(doc model.Document) *Operation {
	op := &Operation{
		ID:          fmt.Sprint(doc[model.IDElement]),
		StartedAt:   fromMillis(doc["StartedAt"]),
		CompletedAt: fromMillis(doc["CompletedAt"]),
	}
	if s, ok := doc["State"].(string); ok {
		op.State = parseState(s)
	}

	logs, _ := doc["Logs"].([]any)
	for _, raw := range logs {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		l := Log{CompletedAt: fromMillis(m["CompletedAt"])}
		l.MigrationID, _ = m["MigrationID"].(string)
		l.Collection, _ = m["Collection"].(string)
		l.MinimumVersion, _ = m["MinimumVersion"].(string)
		l.Succeeded, _ = m["Succeeded"].(bool)
		l.Error, _ = m["Error"].(string)
		l.Migrated = toInt64(m["Migrated"])
		op.Logs = append(op.Logs, l)
	}
	return op
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(v any) time.Time {
	n := toInt64(v)
	if n == 0 {
		return time.Time{}
	}
	return time.UnixMilli(n)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
