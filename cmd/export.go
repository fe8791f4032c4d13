package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/tamv/internal/dashboard"
	"github.com/joescharf/tamv/internal/metrics"
	"github.com/joescharf/tamv/internal/store"
)

var (
	exportFormat string
	exportType   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export data as JSON, CSV, or Markdown",
	Long:  "Export repositories, modules, tasks, deployments, or the dashboard summary in various formats.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun()
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Output format: json, csv, markdown")
	exportCmd.Flags().StringVar(&exportType, "type", "summary", "Data type: repositories, modules, tasks, deployments, summary")
	rootCmd.AddCommand(exportCmd)
}

// exportTable is an export-ready rendition of one collection.
type exportTable struct {
	title   string
	headers []string
	rows    [][]string
	raw     any
}

func exportRun() error {
	switch exportFormat {
	case "json", "csv", "markdown", "md":
	default:
		return fmt.Errorf("unknown format: %s (use: json, csv, markdown)", exportFormat)
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var t *exportTable
	switch exportType {
	case "repositories", "repos":
		t, err = repositoriesTable(ctx, s)
	case "modules":
		t, err = modulesTable(ctx, s)
	case "tasks":
		t, err = tasksTable(ctx, s)
	case "deployments":
		t, err = deploymentsTable(ctx, s)
	case "summary":
		t, err = summaryTable(ctx, s)
	default:
		return fmt.Errorf("unknown export type: %s (use: repositories, modules, tasks, deployments, summary)", exportType)
	}
	if err != nil {
		return err
	}
	return writeTable(t)
}

func writeTable(t *exportTable) error {
	switch exportFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(t.raw)
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write(t.headers)
		for _, row := range t.rows {
			_ = w.Write(row)
		}
		w.Flush()
		return w.Error()
	default:
		fmt.Fprintf(ui.Out, "# %s\n\n", t.title)
		fmt.Fprintf(ui.Out, "| %s |\n", strings.Join(t.headers, " | "))
		seps := make([]string, len(t.headers))
		for i, h := range t.headers {
			seps[i] = strings.Repeat("-", len(h))
		}
		fmt.Fprintf(ui.Out, "|%s|\n", strings.Join(seps, "|"))
		for _, row := range t.rows {
			fmt.Fprintf(ui.Out, "| %s |\n", strings.Join(row, " | "))
		}
		return nil
	}
}

func repositoriesTable(ctx context.Context, s store.Store) (*exportTable, error) {
	repos, err := s.ListRepositories(ctx, store.RepositoryFilter{})
	if err != nil {
		return nil, err
	}
	t := &exportTable{title: "Repositories", headers: []string{"ID", "Name", "Layer", "Status", "Stack", "URL", "Created"}, raw: repos}
	for _, r := range repos {
		t.rows = append(t.rows, []string{r.ID, r.Name, string(r.Layer), string(r.Status),
			strings.Join(r.Stack, ";"), r.URL, r.CreatedAt.Format("2006-01-02")})
	}
	return t, nil
}

func modulesTable(ctx context.Context, s store.Store) (*exportTable, error) {
	mods, err := s.ListModules(ctx, store.ModuleFilter{})
	if err != nil {
		return nil, err
	}
	t := &exportTable{title: "Modules", headers: []string{"ID", "Name", "Layer", "Progress"}, raw: mods}
	for _, m := range mods {
		t.rows = append(t.rows, []string{m.ID, m.Name, string(m.Layer), strconv.Itoa(m.Progress)})
	}
	return t, nil
}

func tasksTable(ctx context.Context, s store.Store) (*exportTable, error) {
	tasks, err := s.ListTasks(ctx, store.TaskListFilter{})
	if err != nil {
		return nil, err
	}
	t := &exportTable{title: "Tasks", headers: []string{"ID", "ModuleID", "Title", "Status", "Priority", "Assignee", "Created"}, raw: tasks}
	for _, task := range tasks {
		t.rows = append(t.rows, []string{task.ID, task.ModuleID, task.Title, string(task.Status),
			string(task.Priority), task.Assignee, task.CreatedAt.Format("2006-01-02")})
	}
	return t, nil
}

func deploymentsTable(ctx context.Context, s store.Store) (*exportTable, error) {
	deps, err := s.ListDeployments(ctx, store.DeploymentFilter{})
	if err != nil {
		return nil, err
	}
	t := &exportTable{title: "Deployments", headers: []string{"ID", "Repository", "Environment", "Version", "Status", "Created"}, raw: deps}
	for _, d := range deps {
		t.rows = append(t.rows, []string{d.ID, d.RepositoryName, string(d.Environment), d.Version,
			string(d.Status), d.CreatedAt.Format("2006-01-02T15:04:05Z")})
	}
	return t, nil
}

// summaryTable flattens the dashboard into one row per layer. JSON output
// carries the whole summary.
func summaryTable(ctx context.Context, s store.Store) (*exportTable, error) {
	sum, err := dashboard.New(s).Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	t := &exportTable{
		title:   fmt.Sprintf("TAMV Progress (overall %d%%)", sum.OverallProgress),
		headers: []string{"Layer", "Name", "Modules", "Progress"},
		raw:     sum,
	}
	for _, e := range sum.Layers {
		t.rows = append(t.rows, []string{string(e.Layer), e.Name, strconv.Itoa(e.Modules), strconv.Itoa(e.Progress)})
	}
	t.rows = append(t.rows, []string{"overall", "", strconv.Itoa(sum.TotalModules), strconv.Itoa(sum.OverallProgress)})
	return t, nil
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a Markdown status report per layer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportRun()
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func reportRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	svc := dashboard.New(s)
	in, err := svc.Fetch(ctx)
	if err != nil {
		return err
	}
	sum := metrics.Summarize(in)

	fmt.Fprintln(ui.Out, "# TAMV Status Report")
	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "Overall progress: %d%%\n\n", sum.OverallProgress)

	for _, e := range sum.Layers {
		layerTasks := metrics.LayerTasks(in.Modules, in.Tasks, e.Layer)
		open := metrics.ActiveTaskCount(layerTasks)

		fmt.Fprintf(ui.Out, "## %s (%d%%)\n", e.Name, e.Progress)
		fmt.Fprintf(ui.Out, "- Modules: %d\n", e.Modules)
		fmt.Fprintf(ui.Out, "- Tasks: %d open, %d done\n", open, len(layerTasks)-open)
		if top := metrics.PriorityTasks(layerTasks); len(top) > 0 {
			titles := make([]string, len(top))
			for i, t := range top {
				titles[i] = fmt.Sprintf("%s [%s]", t.Title, t.Priority)
			}
			fmt.Fprintf(ui.Out, "- Next up: %s\n", strings.Join(titles, ", "))
		}
		fmt.Fprintln(ui.Out)
	}
	return nil
}
