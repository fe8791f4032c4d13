// Package metrics derives dashboard figures from raw entity collections.
//
// Every function here is pure: it reads the slices it is given, never mutates
// them, and keeps no state between calls, so callers may invoke them
// concurrently on their own snapshots. Inputs are assumed to have passed
// models validation at the store boundary.
package metrics

import (
	"cmp"
	"slices"

	"github.com/joescharf/tamv/internal/models"
)

// PriorityTaskLimit caps the number of tasks returned by PriorityTasks.
const PriorityTaskLimit = 5

// LayerProgressEntry is one cell of the per-layer progress grid.
type LayerProgressEntry struct {
	Layer    models.Layer `json:"layer"`
	Name     string       `json:"name"`
	Progress int          `json:"progress"`
	Modules  int          `json:"modules"`
}

// StatusCount is the number of tasks in one status.
type StatusCount struct {
	Status models.TaskStatus `json:"status"`
	Count  int               `json:"count"`
}

// EnvironmentStats counts deployment outcomes for one environment.
type EnvironmentStats struct {
	Environment models.Environment `json:"environment"`
	Success     int                `json:"success"`
	Failed      int                `json:"failed"`
	Pending     int                `json:"pending"`
}

// Total returns the number of deployments counted for the environment.
func (e EnvironmentStats) Total() int {
	return e.Success + e.Failed + e.Pending
}

// roundMean returns sum/n rounded half-up (toward +inf on .5), computed in
// integers. n must be positive.
func roundMean(sum, n int) int {
	num := 2*sum + n
	den := 2 * n
	q := num / den
	if num%den != 0 && num < 0 {
		q--
	}
	return q
}

// LayerProgress returns the rounded mean progress of the modules in layer,
// or 0 when no module belongs to it.
func LayerProgress(modules []*models.Module, layer models.Layer) int {
	sum, n := 0, 0
	for _, m := range modules {
		if m.Layer != layer {
			continue
		}
		sum += m.Progress
		n++
	}
	if n == 0 {
		return 0
	}
	return roundMean(sum, n)
}

// LayerProgressMap calls LayerProgress once per layer, in canonical layer order.
func LayerProgressMap(modules []*models.Module) []LayerProgressEntry {
	counts := make(map[models.Layer]int, len(models.Layers))
	for _, m := range modules {
		counts[m.Layer]++
	}

	out := make([]LayerProgressEntry, 0, len(models.Layers))
	for _, l := range models.Layers {
		out = append(out, LayerProgressEntry{
			Layer:    l,
			Name:     l.Info().Name,
			Progress: LayerProgress(modules, l),
			Modules:  counts[l],
		})
	}
	return out
}

// OverallProgress returns the flat rounded mean of every module's progress.
// It is not the mean of the per-layer figures: a layer with many modules
// weighs proportionally more.
func OverallProgress(modules []*models.Module) int {
	if len(modules) == 0 {
		return 0
	}
	sum := 0
	for _, m := range modules {
		sum += m.Progress
	}
	return roundMean(sum, len(modules))
}

// TaskDistribution counts tasks per status. Only statuses that occur are
// emitted, in order of first occurrence.
func TaskDistribution(tasks []*models.Task) []StatusCount {
	out := []StatusCount{}
	index := make(map[models.TaskStatus]int)
	for _, t := range tasks {
		i, ok := index[t.Status]
		if !ok {
			i = len(out)
			index[t.Status] = i
			out = append(out, StatusCount{Status: t.Status})
		}
		out[i].Count++
	}
	return out
}

// SortCanonical returns a copy of dist ordered todo, in_progress, review, done.
func SortCanonical(dist []StatusCount) []StatusCount {
	rank := make(map[models.TaskStatus]int, len(models.TaskStatuses))
	for i, s := range models.TaskStatuses {
		rank[s] = i
	}
	out := slices.Clone(dist)
	slices.SortStableFunc(out, func(a, b StatusCount) int {
		ra, oka := rank[a.Status]
		rb, okb := rank[b.Status]
		if !oka {
			ra = len(rank)
		}
		if !okb {
			rb = len(rank)
		}
		return cmp.Compare(ra, rb)
	})
	return out
}

// DeploymentStats counts outcomes per environment. Both environments are
// always present, staging first, even when they have no deployments.
func DeploymentStats(deployments []*models.Deployment) []EnvironmentStats {
	out := make([]EnvironmentStats, len(models.Environments))
	index := make(map[models.Environment]int, len(models.Environments))
	for i, env := range models.Environments {
		out[i] = EnvironmentStats{Environment: env}
		index[env] = i
	}

	for _, d := range deployments {
		i, ok := index[d.Environment]
		if !ok {
			continue
		}
		switch d.Status {
		case models.DeploymentStatusSuccess:
			out[i].Success++
		case models.DeploymentStatusFailed:
			out[i].Failed++
		case models.DeploymentStatusPending:
			out[i].Pending++
		}
	}
	return out
}

// PriorityTasks returns up to PriorityTaskLimit open tasks, most urgent
// first. Tasks of equal priority keep their input order.
func PriorityTasks(tasks []*models.Task) []*models.Task {
	open := make([]*models.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status != models.TaskStatusDone {
			open = append(open, t)
		}
	}
	slices.SortStableFunc(open, func(a, b *models.Task) int {
		return cmp.Compare(a.Priority.Rank(), b.Priority.Rank())
	})
	if len(open) > PriorityTaskLimit {
		open = open[:PriorityTaskLimit]
	}
	return open
}

// ActiveTaskCount returns the number of tasks not yet done.
func ActiveTaskCount(tasks []*models.Task) int {
	n := 0
	for _, t := range tasks {
		if t.Status != models.TaskStatusDone {
			n++
		}
	}
	return n
}

// ActiveRepositoryCount returns the number of repositories in active status.
func ActiveRepositoryCount(repos []*models.Repository) int {
	n := 0
	for _, r := range repos {
		if r.Status == models.RepoStatusActive {
			n++
		}
	}
	return n
}

// LayerTasks returns the tasks attached to a module of the given layer.
// Unassigned tasks and tasks pointing at unknown modules are excluded.
func LayerTasks(modules []*models.Module, tasks []*models.Task, layer models.Layer) []*models.Task {
	ids := make(map[string]bool)
	for _, m := range modules {
		if m.Layer == layer {
			ids[m.ID] = true
		}
	}
	out := []*models.Task{}
	for _, t := range tasks {
		if t.ModuleID != "" && ids[t.ModuleID] {
			out = append(out, t)
		}
	}
	return out
}
