// Package dashboard fetches every entity collection for one refresh cycle
// and hands the results to the metrics layer.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joescharf/tamv/internal/metrics"
	"github.com/joescharf/tamv/internal/models"
	"github.com/joescharf/tamv/internal/store"
)

// Service computes dashboard views over a Store.
type Service struct {
	store store.Store
	now   func() time.Time
}

// New creates a Service reading from s.
func New(s store.Store) *Service {
	return &Service{store: s, now: time.Now}
}

// LayerDetail is the drill-down view of a single layer.
type LayerDetail struct {
	Layer        models.LayerInfo     `json:"layer"`
	Progress     int                  `json:"progress"`
	Modules      []*models.Module     `json:"modules"`
	Repositories []*models.Repository `json:"repositories"`
	Tasks        []*models.Task       `json:"tasks"`
}

// Fetch loads all five collections concurrently. The fetches are
// independent; the first failure cancels the rest and is returned.
func (s *Service) Fetch(ctx context.Context) (metrics.Input, error) {
	var in metrics.Input
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		repos, err := s.store.ListRepositories(egCtx, store.RepositoryFilter{})
		if err != nil {
			return fmt.Errorf("fetch repositories: %w", err)
		}
		in.Repositories = repos
		return nil
	})
	eg.Go(func() error {
		mods, err := s.store.ListModules(egCtx, store.ModuleFilter{})
		if err != nil {
			return fmt.Errorf("fetch modules: %w", err)
		}
		in.Modules = mods
		return nil
	})
	eg.Go(func() error {
		tasks, err := s.store.ListTasks(egCtx, store.TaskListFilter{})
		if err != nil {
			return fmt.Errorf("fetch tasks: %w", err)
		}
		in.Tasks = tasks
		return nil
	})
	eg.Go(func() error {
		deps, err := s.store.ListDeployments(egCtx, store.DeploymentFilter{})
		if err != nil {
			return fmt.Errorf("fetch deployments: %w", err)
		}
		in.Deployments = deps
		return nil
	})
	eg.Go(func() error {
		snaps, err := s.store.ListSnapshots(egCtx, "")
		if err != nil {
			return fmt.Errorf("fetch progress history: %w", err)
		}
		in.Snapshots = snaps
		return nil
	})

	if err := eg.Wait(); err != nil {
		return metrics.Input{}, err
	}
	return in, nil
}

// Snapshot fetches everything and returns the aggregated summary.
func (s *Service) Snapshot(ctx context.Context) (*metrics.Summary, error) {
	in, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return metrics.Summarize(in), nil
}

// LayerDetail returns the modules, repositories and tasks of one layer.
// Tasks are joined through their module; unassigned tasks never appear.
func (s *Service) LayerDetail(ctx context.Context, layer models.Layer) (*LayerDetail, error) {
	if !layer.Valid() {
		return nil, fmt.Errorf("%w: unknown layer %q", models.ErrInvalid, layer)
	}

	var (
		modules []*models.Module
		repos   []*models.Repository
		tasks   []*models.Task
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		modules, err = s.store.ListModules(egCtx, store.ModuleFilter{Layer: layer})
		return err
	})
	eg.Go(func() error {
		var err error
		repos, err = s.store.ListRepositories(egCtx, store.RepositoryFilter{Layer: layer})
		return err
	})
	eg.Go(func() error {
		var err error
		tasks, err = s.store.ListTasks(egCtx, store.TaskListFilter{})
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("layer %s: %w", layer, err)
	}

	return &LayerDetail{
		Layer:        layer.Info(),
		Progress:     metrics.LayerProgress(modules, layer),
		Modules:      modules,
		Repositories: repos,
		Tasks:        metrics.LayerTasks(modules, tasks, layer),
	}, nil
}

// RecordProgress appends one snapshot per layer holding the layer's current
// progress, all stamped with the same time.
func (s *Service) RecordProgress(ctx context.Context) ([]*models.ProgressSnapshot, error) {
	modules, err := s.store.ListModules(ctx, store.ModuleFilter{})
	if err != nil {
		return nil, fmt.Errorf("fetch modules: %w", err)
	}

	at := s.now().UTC()
	out := make([]*models.ProgressSnapshot, 0, len(models.Layers))
	for _, entry := range metrics.LayerProgressMap(modules) {
		snap := &models.ProgressSnapshot{
			Layer:      entry.Layer,
			Progress:   entry.Progress,
			RecordedAt: at,
		}
		if err := s.store.RecordSnapshot(ctx, snap); err != nil {
			return out, fmt.Errorf("record %s: %w", entry.Layer, err)
		}
		out = append(out, snap)
	}
	return out, nil
}

// StatusText renders sum as the short Spanish status block handed to the
// chat assistant as context.
func StatusText(sum *metrics.Summary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Progreso general: %d%%\n", sum.OverallProgress)
	for _, l := range sum.Layers {
		fmt.Fprintf(&sb, "- %s: %d%% (%d módulos)\n", l.Name, l.Progress, l.Modules)
	}
	fmt.Fprintf(&sb, "Tareas activas: %d de %d\n", sum.ActiveTasks, sum.TotalTasks)
	return sb.String()
}
