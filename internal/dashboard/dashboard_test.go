package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/joescharf/tamv/internal/models"
	"github.com/joescharf/tamv/internal/store"
)

// fakeStore serves fixed collections. Methods the service never calls are
// left to the embedded nil interface.
type fakeStore struct {
	store.Store

	repos     []*models.Repository
	modules   []*models.Module
	tasks     []*models.Task
	deploys   []*models.Deployment
	snapshots []*models.ProgressSnapshot

	failModules error
	blockTasks  bool

	mu       sync.Mutex
	recorded []*models.ProgressSnapshot
}

func (f *fakeStore) ListRepositories(_ context.Context, filter store.RepositoryFilter) ([]*models.Repository, error) {
	var out []*models.Repository
	for _, r := range f.repos {
		if filter.Layer == "" || r.Layer == filter.Layer {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) ListModules(_ context.Context, filter store.ModuleFilter) ([]*models.Module, error) {
	if f.failModules != nil {
		return nil, f.failModules
	}
	var out []*models.Module
	for _, m := range f.modules {
		if filter.Layer == "" || m.Layer == filter.Layer {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) ListTasks(ctx context.Context, _ store.TaskListFilter) ([]*models.Task, error) {
	if f.blockTasks {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.tasks, nil
}

func (f *fakeStore) ListDeployments(context.Context, store.DeploymentFilter) ([]*models.Deployment, error) {
	return f.deploys, nil
}

func (f *fakeStore) ListSnapshots(context.Context, models.Layer) ([]*models.ProgressSnapshot, error) {
	return f.snapshots, nil
}

func (f *fakeStore) RecordSnapshot(_ context.Context, s *models.ProgressSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = "snap-" + string(s.Layer)
	f.recorded = append(f.recorded, s)
	return nil
}

func seeded() *fakeStore {
	return &fakeStore{
		repos: []*models.Repository{
			{ID: "r1", Name: "id-core", Layer: models.LayerIdentity, Status: models.RepoStatusActive},
			{ID: "r2", Name: "econ", Layer: models.LayerEconomy, Status: models.RepoStatusPlanning},
		},
		modules: []*models.Module{
			{ID: "m1", Layer: models.LayerIdentity, Name: "DID", Progress: 50},
			{ID: "m2", Layer: models.LayerIdentity, Name: "Wallet", Progress: 75},
			{ID: "m3", Layer: models.LayerEconomy, Name: "Ledger", Progress: 20},
		},
		tasks: []*models.Task{
			{ID: "t1", ModuleID: "m1", Title: "issue DIDs", Status: models.TaskStatusTodo, Priority: models.TaskPriorityCritical},
			{ID: "t2", ModuleID: "m3", Title: "ledger", Status: models.TaskStatusDone, Priority: models.TaskPriorityHigh},
			{ID: "t3", Title: "orphan", Status: models.TaskStatusReview, Priority: models.TaskPriorityLow},
		},
		deploys: []*models.Deployment{
			{ID: "d1", Environment: models.EnvironmentProduction, Status: models.DeploymentStatusSuccess, Version: "v1.0.0"},
		},
	}
}

func TestSnapshot(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc := New(seeded())
	sum, err := svc.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 48, sum.OverallProgress)    // (50+75+20)/3 = 48.33
	assert.Equal(t, 63, sum.Layers[0].Progress) // identity: 62.5 rounds up
	assert.Equal(t, 2, sum.ActiveTasks)
	assert.Equal(t, 1, sum.ActiveRepositories)
	assert.Equal(t, 3, sum.TotalModules)
	require.Len(t, sum.PriorityTasks, 2)
	assert.Equal(t, "t1", sum.PriorityTasks[0].ID)
	assert.Equal(t, 1, sum.DeploymentStats[1].Success)
}

func TestSnapshot_FetchFailureCancelsOthers(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs := seeded()
	fs.failModules = errors.New("connection refused")
	fs.blockTasks = true

	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = New(fs).Snapshot(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot did not return after a fetch failure")
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch modules")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSnapshot_ContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs := seeded()
	fs.blockTasks = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(fs).Snapshot(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLayerDetail(t *testing.T) {
	svc := New(seeded())

	d, err := svc.LayerDetail(context.Background(), models.LayerIdentity)
	require.NoError(t, err)
	assert.Equal(t, "Identidad", d.Layer.Name)
	assert.Equal(t, 63, d.Progress)
	assert.Len(t, d.Modules, 2)
	assert.Len(t, d.Repositories, 1)
	require.Len(t, d.Tasks, 1)
	assert.Equal(t, "t1", d.Tasks[0].ID)

	empty, err := svc.LayerDetail(context.Background(), models.LayerGovernance)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Progress)
	assert.Empty(t, empty.Tasks)
}

func TestLayerDetail_UnknownLayer(t *testing.T) {
	_, err := New(seeded()).LayerDetail(context.Background(), models.Layer("quantum"))
	assert.ErrorIs(t, err, models.ErrInvalid)
}

func TestRecordProgress(t *testing.T) {
	fs := seeded()
	svc := New(fs)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	snaps, err := svc.RecordProgress(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, len(models.Layers))

	byLayer := map[models.Layer]int{}
	for _, s := range fs.recorded {
		assert.Equal(t, fixed, s.RecordedAt)
		byLayer[s.Layer] = s.Progress
	}
	assert.Equal(t, 63, byLayer[models.LayerIdentity])
	assert.Equal(t, 20, byLayer[models.LayerEconomy])
	assert.Equal(t, 0, byLayer[models.LayerGovernance])
}

func TestStatusText(t *testing.T) {
	sum, err := New(seeded()).Snapshot(context.Background())
	require.NoError(t, err)

	text := StatusText(sum)
	assert.Contains(t, text, "Progreso general: 48%")
	assert.Contains(t, text, "- Identidad: 63% (2 módulos)")
	assert.Contains(t, text, "Tareas activas: 2 de")
}
