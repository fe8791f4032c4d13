package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/tamv/internal/dashboard"
	"github.com/joescharf/tamv/internal/metrics"
	"github.com/joescharf/tamv/internal/models"
	"github.com/joescharf/tamv/internal/output"
)

const barWidth = 20

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	Aliases: []string{"dash", "status"},
	Short:   "Show ecosystem progress across all layers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return dashboardRun()
	},
}

var layerCmd = &cobra.Command{
	Use:   "layer <layer>",
	Short: "Show modules, repositories and tasks of one layer",
	Long:  "Show the drill-down view of a layer: " + layerNames() + ".",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return layerRun(args[0])
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(layerCmd)
}

func layerNames() string {
	names := make([]string, len(models.Layers))
	for i, l := range models.Layers {
		names[i] = string(l)
	}
	return strings.Join(names, ", ")
}

func dashboardRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	sum, err := dashboard.New(s).Snapshot(context.Background())
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "Overall progress  %s %s\n\n",
		output.ProgressBar(sum.OverallProgress, barWidth), output.ProgressColor(sum.OverallProgress))

	fmt.Fprintf(ui.Out, "Repositories: %d (%d active)   Modules: %d   Tasks: %d (%d active)\n\n",
		sum.TotalRepositories, sum.ActiveRepositories, sum.TotalModules, sum.TotalTasks, sum.ActiveTasks)

	renderLayerGrid(sum.Layers)
	fmt.Fprintln(ui.Out)

	if len(sum.TaskDistribution) > 0 {
		parts := make([]string, 0, len(sum.TaskDistribution))
		for _, sc := range metrics.SortCanonical(sum.TaskDistribution) {
			parts = append(parts, fmt.Sprintf("%s %d", output.StatusColor(string(sc.Status)), sc.Count))
		}
		fmt.Fprintf(ui.Out, "Tasks: %s\n", strings.Join(parts, "  "))
	}

	for _, env := range sum.DeploymentStats {
		fmt.Fprintf(ui.Out, "Deploys %-10s %s %d  %s %d  %s %d\n", env.Environment,
			output.Green("success"), env.Success,
			output.Red("failed"), env.Failed,
			output.Yellow("pending"), env.Pending)
	}

	if len(sum.PriorityTasks) > 0 {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "Priority tasks:")
		renderTasks(sum.PriorityTasks)
	}
	return nil
}

func renderLayerGrid(entries []metrics.LayerProgressEntry) {
	table := ui.Table([]string{"LAYER", "NAME", "MODULES", "PROGRESS", ""})
	for _, e := range entries {
		_ = table.Append([]string{
			string(e.Layer),
			e.Name,
			fmt.Sprintf("%d", e.Modules),
			output.ProgressBar(e.Progress, barWidth),
			output.ProgressColor(e.Progress),
		})
	}
	_ = table.Render()
}

func layerRun(raw string) error {
	layer, err := models.ParseLayer(strings.ToLower(raw))
	if err != nil {
		return fmt.Errorf("%w (valid: %s)", err, layerNames())
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	d, err := dashboard.New(s).LayerDetail(context.Background(), layer)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(d.Layer.Name), d.Layer.Description)
	fmt.Fprintf(ui.Out, "Progress  %s %s\n\n", output.ProgressBar(d.Progress, barWidth), output.ProgressColor(d.Progress))

	if len(d.Modules) == 0 {
		ui.Info("No modules in this layer")
	} else {
		renderModules(d.Modules)
	}

	if len(d.Repositories) > 0 {
		fmt.Fprintln(ui.Out)
		renderRepositories(d.Repositories)
	}

	if len(d.Tasks) > 0 {
		fmt.Fprintln(ui.Out)
		renderTasks(d.Tasks)
	}
	return nil
}
