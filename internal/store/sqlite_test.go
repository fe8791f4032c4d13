package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tamv/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

// --- Repository CRUD ---

func TestRepositoryCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &models.Repository{
		Name:        "tamv-identity",
		URL:         "https://github.com/tamv/identity",
		Layer:       models.LayerIdentity,
		Stack:       []string{"go", "postgres"},
		Status:      models.RepoStatusActive,
		Description: "DID resolver",
	}
	require.NoError(t, s.CreateRepository(ctx, r))
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.CreatedAt.IsZero())

	got, err := s.GetRepository(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "tamv-identity", got.Name)
	assert.Equal(t, []string{"go", "postgres"}, got.Stack)
	assert.Equal(t, models.RepoStatusActive, got.Status)
	assert.Equal(t, models.LayerIdentity, got.Layer)

	got.Status = models.RepoStatusPaused
	require.NoError(t, s.UpdateRepository(ctx, got))

	got2, err := s.GetRepository(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RepoStatusPaused, got2.Status)

	repos, err := s.ListRepositories(ctx, RepositoryFilter{Layer: models.LayerIdentity})
	require.NoError(t, err)
	assert.Len(t, repos, 1)

	repos, err = s.ListRepositories(ctx, RepositoryFilter{Layer: models.LayerEconomy})
	require.NoError(t, err)
	assert.Empty(t, repos)

	require.NoError(t, s.DeleteRepository(ctx, r.ID))
	_, err = s.GetRepository(ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_RejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.CreateRepository(ctx, &models.Repository{Name: "x", URL: "https://x.io", Layer: "quantum"})
	assert.ErrorIs(t, err, models.ErrInvalid)

	repos, err := s.ListRepositories(ctx, RepositoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, repos, "invalid rows must never be written")
}

func TestRepositories_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, s.CreateRepository(ctx, &models.Repository{Name: name, URL: "https://x.io/" + name, Layer: models.LayerInformation}))
		time.Sleep(2 * time.Millisecond)
	}

	repos, err := s.ListRepositories(ctx, RepositoryFilter{})
	require.NoError(t, err)
	require.Len(t, repos, 3)
	assert.Equal(t, "third", repos[0].Name)
	assert.Equal(t, "first", repos[2].Name)
}

// --- Module CRUD ---

func TestModuleCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &models.Module{Name: "Isabella", Layer: models.LayerIntelligence, Progress: 60}
	require.NoError(t, s.CreateModule(ctx, m))
	assert.NotEmpty(t, m.ID)

	got, err := s.GetModule(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.Progress)

	got.Progress = 75
	require.NoError(t, s.UpdateModule(ctx, got))
	got2, err := s.GetModule(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 75, got2.Progress)

	got2.Progress = 150
	assert.ErrorIs(t, s.UpdateModule(ctx, got2), models.ErrInvalid)

	require.NoError(t, s.DeleteModule(ctx, m.ID))
	assert.ErrorIs(t, s.DeleteModule(ctx, m.ID), ErrNotFound)
}

func TestListModules_CanonicalLayerOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, l := range []models.Layer{models.LayerDocumentation, models.LayerEconomy, models.LayerIdentity} {
		require.NoError(t, s.CreateModule(ctx, &models.Module{Name: string(l), Layer: l}))
	}

	mods, err := s.ListModules(ctx, ModuleFilter{})
	require.NoError(t, err)
	require.Len(t, mods, 3)
	assert.Equal(t, models.LayerIdentity, mods[0].Layer)
	assert.Equal(t, models.LayerEconomy, mods[1].Layer)
	assert.Equal(t, models.LayerDocumentation, mods[2].Layer)

	mods, err = s.ListModules(ctx, ModuleFilter{Layer: models.LayerEconomy})
	require.NoError(t, err)
	assert.Len(t, mods, 1)
}

// --- Task CRUD ---

func TestTaskCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &models.Module{Name: "Ledger", Layer: models.LayerEconomy}
	require.NoError(t, s.CreateModule(ctx, m))

	task := &models.Task{ModuleID: m.ID, Title: "Reconcile balances", Priority: models.TaskPriorityHigh}
	require.NoError(t, s.CreateTask(ctx, task))
	assert.Equal(t, models.TaskStatusTodo, task.Status)

	unassigned := &models.Task{Title: "Triage inbox"}
	require.NoError(t, s.CreateTask(ctx, unassigned))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ModuleID)
	assert.Equal(t, models.TaskPriorityHigh, got.Priority)

	got, err = s.GetTask(ctx, unassigned.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ModuleID)

	task.Status = models.TaskStatusReview
	require.NoError(t, s.UpdateTask(ctx, task))

	tasks, err := s.ListTasks(ctx, TaskListFilter{Status: models.TaskStatusReview})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	tasks, err = s.ListTasks(ctx, TaskListFilter{ModuleID: m.ID})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	require.NoError(t, s.DeleteTask(ctx, task.ID))
	_, err = s.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTasks_PriorityOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, tc := range []struct {
		title    string
		priority models.TaskPriority
	}{
		{"low", models.TaskPriorityLow},
		{"crit", models.TaskPriorityCritical},
		{"medium", models.TaskPriorityMedium},
		{"high", models.TaskPriorityHigh},
	} {
		require.NoError(t, s.CreateTask(ctx, &models.Task{Title: tc.title, Priority: tc.priority}))
	}

	tasks, err := s.ListTasks(ctx, TaskListFilter{})
	require.NoError(t, err)
	var titles []string
	for _, tk := range tasks {
		titles = append(titles, tk.Title)
	}
	assert.Equal(t, []string{"crit", "high", "medium", "low"}, titles)
}

func TestDeleteModule_UnassignsTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &models.Module{Name: "Bots", Layer: models.LayerCommunication}
	require.NoError(t, s.CreateModule(ctx, m))
	task := &models.Task{ModuleID: m.ID, Title: "Telegram bridge"}
	require.NoError(t, s.CreateTask(ctx, task))

	require.NoError(t, s.DeleteModule(ctx, m.ID))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ModuleID)
}

// --- Deployments ---

func TestDeploymentCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &models.Repository{Name: "gateway", URL: "https://github.com/tamv/gateway", Layer: models.LayerInformation}
	require.NoError(t, s.CreateRepository(ctx, r))

	d := &models.Deployment{RepositoryID: r.ID, Environment: models.EnvironmentProduction, Version: "v1.4.0", Status: models.DeploymentStatusSuccess}
	require.NoError(t, s.CreateDeployment(ctx, d))

	got, err := s.GetDeployment(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "gateway", got.RepositoryName)
	assert.Equal(t, models.EnvironmentProduction, got.Environment)

	deps, err := s.ListDeployments(ctx, DeploymentFilter{Environment: models.EnvironmentStaging})
	require.NoError(t, err)
	assert.Empty(t, deps)

	require.NoError(t, s.DeleteRepository(ctx, r.ID))
	got, err = s.GetDeployment(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, got.RepositoryID)
	assert.Empty(t, got.RepositoryName)

	bad := &models.Deployment{Environment: models.EnvironmentStaging, Version: "latest"}
	assert.ErrorIs(t, s.CreateDeployment(ctx, bad), models.ErrInvalid)

	require.NoError(t, s.DeleteDeployment(ctx, d.ID))
	assert.ErrorIs(t, s.DeleteDeployment(ctx, d.ID), ErrNotFound)
}

// --- Progress history ---

func TestSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordSnapshot(ctx, &models.ProgressSnapshot{Layer: models.LayerGovernance, Progress: 40, RecordedAt: base.Add(time.Hour)}))
	require.NoError(t, s.RecordSnapshot(ctx, &models.ProgressSnapshot{Layer: models.LayerGovernance, Progress: 30, RecordedAt: base}))
	require.NoError(t, s.RecordSnapshot(ctx, &models.ProgressSnapshot{Layer: models.LayerIdentity, Progress: 10, RecordedAt: base}))

	snaps, err := s.ListSnapshots(ctx, models.LayerGovernance)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 30, snaps[0].Progress)
	assert.Equal(t, 40, snaps[1].Progress)

	all, err := s.ListSnapshots(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	err = s.RecordSnapshot(ctx, &models.ProgressSnapshot{Layer: models.LayerGovernance, Progress: 101})
	assert.ErrorIs(t, err, models.ErrInvalid)
}
