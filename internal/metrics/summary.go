package metrics

import "github.com/joescharf/tamv/internal/models"

// Input is one fetch cycle's worth of borrowed, read-only collections.
type Input struct {
	Repositories []*models.Repository
	Modules      []*models.Module
	Tasks        []*models.Task
	Deployments  []*models.Deployment
	Snapshots    []*models.ProgressSnapshot
}

// Summary bundles every figure the dashboard displays.
type Summary struct {
	OverallProgress    int                  `json:"overall_progress"`
	Layers             []LayerProgressEntry `json:"layers"`
	TaskDistribution   []StatusCount        `json:"task_distribution"`
	DeploymentStats    []EnvironmentStats   `json:"deployment_stats"`
	PriorityTasks      []*models.Task       `json:"priority_tasks"`
	ActiveTasks        int                  `json:"active_tasks"`
	ActiveRepositories int                  `json:"active_repositories"`
	TotalRepositories  int                  `json:"total_repositories"`
	TotalModules       int                  `json:"total_modules"`
	TotalTasks         int                  `json:"total_tasks"`
	Trend              []TrendPoint         `json:"trend"`
}

// Summarize computes the full dashboard summary from in.
func Summarize(in Input) *Summary {
	return &Summary{
		OverallProgress:    OverallProgress(in.Modules),
		Layers:             LayerProgressMap(in.Modules),
		TaskDistribution:   TaskDistribution(in.Tasks),
		DeploymentStats:    DeploymentStats(in.Deployments),
		PriorityTasks:      PriorityTasks(in.Tasks),
		ActiveTasks:        ActiveTaskCount(in.Tasks),
		ActiveRepositories: ActiveRepositoryCount(in.Repositories),
		TotalRepositories:  len(in.Repositories),
		TotalModules:       len(in.Modules),
		TotalTasks:         len(in.Tasks),
		Trend:              ProgressTrend(in.Snapshots),
	}
}
