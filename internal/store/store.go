package store

import (
	"context"
	"errors"

	"github.com/joescharf/tamv/internal/models"
)

// ErrNotFound is wrapped by every lookup or mutation that targets a missing row.
var ErrNotFound = errors.New("not found")

// RepositoryFilter narrows ListRepositories.
type RepositoryFilter struct {
	Layer  models.Layer
	Status models.RepoStatus
}

// ModuleFilter narrows ListModules.
type ModuleFilter struct {
	Layer models.Layer
}

// TaskListFilter specifies filters for listing tasks.
type TaskListFilter struct {
	ModuleID string
	Status   models.TaskStatus
	Priority models.TaskPriority
}

// DeploymentFilter narrows ListDeployments.
type DeploymentFilter struct {
	RepositoryID string
	Environment  models.Environment
}

// Store defines the persistence interface for tamv.
type Store interface {
	// Repositories
	CreateRepository(ctx context.Context, r *models.Repository) error
	GetRepository(ctx context.Context, id string) (*models.Repository, error)
	ListRepositories(ctx context.Context, filter RepositoryFilter) ([]*models.Repository, error)
	UpdateRepository(ctx context.Context, r *models.Repository) error
	DeleteRepository(ctx context.Context, id string) error

	// Modules
	CreateModule(ctx context.Context, m *models.Module) error
	GetModule(ctx context.Context, id string) (*models.Module, error)
	ListModules(ctx context.Context, filter ModuleFilter) ([]*models.Module, error)
	UpdateModule(ctx context.Context, m *models.Module) error
	DeleteModule(ctx context.Context, id string) error

	// Tasks
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, filter TaskListFilter) ([]*models.Task, error)
	UpdateTask(ctx context.Context, t *models.Task) error
	DeleteTask(ctx context.Context, id string) error

	// Deployments
	CreateDeployment(ctx context.Context, d *models.Deployment) error
	GetDeployment(ctx context.Context, id string) (*models.Deployment, error)
	ListDeployments(ctx context.Context, filter DeploymentFilter) ([]*models.Deployment, error)
	DeleteDeployment(ctx context.Context, id string) error

	// Progress history
	RecordSnapshot(ctx context.Context, s *models.ProgressSnapshot) error
	ListSnapshots(ctx context.Context, layer models.Layer) ([]*models.ProgressSnapshot, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
