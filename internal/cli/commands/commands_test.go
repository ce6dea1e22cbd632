package commands

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/conduit-lang/odm/internal/admin"
	"github.com/conduit-lang/odm/internal/cli/config"
	"github.com/conduit-lang/odm/internal/orm/maintenance"
	"github.com/conduit-lang/odm/internal/orm/model"
	"github.com/conduit-lang/odm/internal/orm/repository"
	"github.com/conduit-lang/odm/internal/orm/schema"
	"github.com/conduit-lang/odm/internal/orm/semver"
	"github.com/conduit-lang/odm/internal/tasks"
)

// memoryBackend keeps documents across bootstraps so consecutive commands see
// each other's writes
type memoryBackend struct {
	mu      sync.Mutex
	repos   map[string]*repository.Memory
	pingErr error
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{repos: make(map[string]*repository.Memory)}
}

func (b *memoryBackend) seed(t *testing.T, name string, docs ...model.Document) {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	repo, ok := b.repos[name]
	if !ok {
		repo = repository.NewMemory(name, nil)
		b.repos[name] = repo
	}
	require.NoError(t, repo.Insert(docs...))
}

func (b *memoryBackend) repo(name string) *repository.Memory {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.repos[name]
}

func (b *memoryBackend) Repository(name string, t *model.Type) repository.Repository {
	b.mu.Lock()
	defer b.mu.Unlock()
	fresh := repository.NewMemory(name, t)
	if old, ok := b.repos[name]; ok {
		if err := fresh.Insert(old.Docs()...); err != nil {
			panic(err)
		}
	}
	b.repos[name] = fresh
	return fresh
}

func (b *memoryBackend) Ping(context.Context) error { return b.pingErr }

func (b *memoryBackend) Close(context.Context) error { return nil }

func (b *memoryBackend) open(context.Context, *config.Config, *zap.Logger) (Backend, error) {
	return b, nil
}

// syncBuffer is written by a running command while the test reads it
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "odm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: error\n"+content), 0644))
	return path
}

func execute(t *testing.T, opts Options, cfgPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand(opts)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfgPath, "--no-color"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

const usersMigration = `
context:
  name: media
migrations:
  - collection: users
    minimum_version: 0.2.0
`

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand(Options{})
	assert.Equal(t, "odm", cmd.Use)
	assert.NotEmpty(t, cmd.Long)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, expected := range []string{"version", "migrate", "worker", "schema"} {
		assert.Contains(t, names, expected)
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestVersionCommand(t *testing.T) {
	Version = "1.0.0-test"
	GitCommit = "abc123"
	t.Cleanup(func() { Version, GitCommit = "dev", "unknown" })

	var out bytes.Buffer
	cmd := NewRootCommand(Options{})
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--no-color", "version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "odm version: 1.0.0-test")
	assert.Contains(t, out.String(), "Git commit: abc123")
}

func TestMigrateRun(t *testing.T) {
	backend := newMemoryBackend()
	backend.seed(t, "users",
		model.Document{"_id": "u1", "Name": "Ann"},
		model.Document{"_id": "u2", "_v": []int32{0, 1, 0}},
		model.Document{"_id": "u3", "_v": []int32{0, 2, 0}},
	)
	opts := Options{Backend: backend.open}
	cfgPath := writeConfig(t, usersMigration)

	out, err := execute(t, opts, cfgPath, "migrate", "run", "--yes", "--every", "1")
	require.NoError(t, err, out)

	assert.Contains(t, out, "users@0.2.0")
	assert.Contains(t, out, "→ users@0.2.0: 0 documents")
	assert.Contains(t, out, "1 migrations (0 failed), 2 documents migrated")
	for _, doc := range backend.repo("users").Docs() {
		assert.Equal(t, []int32{0, 2, 0}, doc["_v"], doc["_id"])
	}
	assert.Equal(t, 1, backend.repo("_migrations").Len())

	out, err = execute(t, opts, cfgPath, "migrate", "status")
	require.NoError(t, err, out)
	assert.Contains(t, out, "completed")
	assert.Regexp(t, `users@0\.2\.0\s+users\s+0\.2\.0\s+2\s+succeeded`, out)
}

func TestMigrateRun_NothingDeclared(t *testing.T) {
	backend := newMemoryBackend()
	out, err := execute(t, Options{Backend: backend.open}, writeConfig(t, ""), "migrate", "run", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "No migrations declared")
}

func TestMigrateRun_NegativeEvery(t *testing.T) {
	_, err := execute(t, Options{Backend: newMemoryBackend().open}, writeConfig(t, usersMigration), "migrate", "run", "--yes", "--every", "-1")
	assert.ErrorContains(t, err, "--every")
}

func TestMigrateStatus_Empty(t *testing.T) {
	out, err := execute(t, Options{Backend: newMemoryBackend().open}, writeConfig(t, usersMigration), "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No migration operation recorded")
}

func TestMigrateStatus_Tracker(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS odm_migration_operations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, started_at, completed_at, state FROM odm_migration_operations").
		WillReturnRows(sqlmock.NewRows([]string{"id", "started_at", "completed_at", "state"}))
	mock.ExpectClose()

	var openedURL string
	opts := Options{
		Backend: newMemoryBackend().open,
		OpenDB: func(_ context.Context, url string) (*sql.DB, error) {
			openedURL = url
			return db, nil
		},
	}
	cfgPath := writeConfig(t, usersMigration+"tracker:\n  database_url: postgres://localhost/odm\n")

	out, err := execute(t, opts, cfgPath, "migrate", "status")
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/odm", openedURL)
	assert.Contains(t, out, "No migration operation recorded")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBootstrap_Errors(t *testing.T) {
	failing := func(context.Context, *config.Config, *zap.Logger) (Backend, error) {
		return nil, errors.New("connection refused")
	}
	_, err := execute(t, Options{Backend: failing}, writeConfig(t, usersMigration), "migrate", "status")
	assert.ErrorContains(t, err, "connection refused")

	noRepo := Options{Backend: newMemoryBackend().open, Setup: func(*App) error { return nil }}
	_, err = execute(t, noRepo, writeConfig(t, usersMigration), "migrate", "status")
	assert.Error(t, err)

	badSetup := Options{Backend: newMemoryBackend().open, Setup: func(*App) error { return errors.New("boom") }}
	_, err = execute(t, badSetup, writeConfig(t, usersMigration), "migrate", "status")
	assert.ErrorContains(t, err, "setup failed: boom")
}

var (
	userType  = model.NewType("User", nil)
	videoType = model.NewType("Video", nil)
)

// mediaSetup registers videos embedding a summary of their owner
func mediaSetup(a *App) error {
	dc := a.Context
	if err := dc.RegisterRepository(a.Backend.Repository("users", userType)); err != nil {
		return err
	}
	if err := dc.RegisterRepository(a.Backend.Repository("videos", videoType)); err != nil {
		return err
	}
	if _, err := dc.RegisterModelSchema(userType, semver.MustParse("0.2.0"), func(b *schema.Builder) {
		b.ID("_id", userType.Field("ID")).Member("Name", userType.Field("Name"))
	}); err != nil {
		return err
	}
	_, err := dc.RegisterModelSchema(videoType, semver.MustParse("0.1.0"), func(b *schema.Builder) {
		b.ID("_id", videoType.Field("ID")).
			Reference("Owner", videoType.Field("Owner"), userType, func(s *schema.Builder) {
				s.ID("_id", userType.Field("ID")).Member("Name", userType.Field("Name"))
			})
	})
	return err
}

func TestSchemaDeps(t *testing.T) {
	opts := Options{Backend: newMemoryBackend().open, Setup: mediaSetup}
	cfgPath := writeConfig(t, "context:\n  name: media\n")

	out, err := execute(t, opts, cfgPath, "schema", "deps")
	require.NoError(t, err, out)
	assert.Contains(t, out, "User is embedded by:")
	assert.Contains(t, out, "Video via Owner")

	out, err = execute(t, opts, cfgPath, "schema", "deps", "--json")
	require.NoError(t, err, out)
	var report schema.DependencyReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, []string{"Video"}, report.Dependents["User"])

	out, err = execute(t, opts, cfgPath, "schema", "list")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Video@0.1.0")
	assert.Contains(t, out, "migration-log")
}

func TestWorker_RefreshesSummaries(t *testing.T) {
	mr := miniredis.RunT(t)
	backend := newMemoryBackend()
	backend.seed(t, "users", model.Document{"_id": "u1", "Name": "Ann Smith"})
	backend.seed(t, "videos", model.Document{"_id": "v1", "Owner": map[string]any{"_id": "u1", "Name": "Ann"}})

	payload, err := json.Marshal(maintenance.DependencyUpdateJob{
		DbContext:  "media",
		Repository: "users",
		EntityID:   "u1",
		IDPaths:    []string{"Video@0.1.0:Owner._id"},
	})
	require.NoError(t, err)
	job, err := json.Marshal(tasks.NewJob(maintenance.UpdateDependenciesKind, payload))
	require.NoError(t, err)
	_, err = mr.Lpush("odm:tasks", string(job))
	require.NoError(t, err)

	cfgPath := writeConfig(t, fmt.Sprintf(`
context:
  name: media
redis:
  addr: %s
worker:
  listen: 127.0.0.1:0
  concurrency: 1
`, mr.Addr()))

	out := &syncBuffer{}
	cmd := NewRootCommand(Options{Backend: backend.open, Setup: mediaSetup})
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"--config", cfgPath, "--no-color", "worker"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	assert.Eventually(t, func() bool {
		v1, err := backend.repo("videos").FindByID(context.Background(), "v1")
		if err != nil {
			return false
		}
		name, _ := v1.Get("Owner.Name")
		return name == "Ann Smith"
	}, 5*time.Second, 20*time.Millisecond)
	assert.False(t, mr.Exists("odm:tasks:dead"))

	addr := regexp.MustCompile(`listening on (\S+)`).FindStringSubmatch(out.String())
	require.Len(t, addr, 2, out.String())
	resp, err := http.Get("http://" + addr[1] + "/healthz")
	require.NoError(t, err)
	var health admin.HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"redis": "ok", "store": "ok"}, health.Checks)

	assert.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr[1] + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body strings.Builder
		_, _ = io.Copy(&body, resp.Body)
		return strings.Contains(body.String(), `odm_tasks_processed_total{kind="odm.update-dependencies",outcome="succeeded"} 1`)
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfgPath := writeConfig(t, fmt.Sprintf("redis:\n  addr: %s\n", addr))
	_, err := execute(t, Options{Backend: newMemoryBackend().open}, cfgPath, "worker")
	assert.ErrorContains(t, err, "failed to connect to redis")
}
