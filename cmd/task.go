package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/tamv/internal/models"
	"github.com/joescharf/tamv/internal/output"
	"github.com/joescharf/tamv/internal/store"
)

var (
	taskModule   string
	taskPriority string
	taskStatus   string
	taskAssignee string

	taskFilterModule   string
	taskFilterStatus   string
	taskFilterPriority string
)

var taskCmd = &cobra.Command{
	Use:     "task",
	Aliases: []string{"tasks"},
	Short:   "Manage tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskListRun()
	},
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskAddRun(args[0])
	},
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks, highest priority first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskListRun()
	},
}

var taskSetStatusCmd = &cobra.Command{
	Use:   "set-status <task-id> <status>",
	Short: "Move a task to todo, in_progress, review or done",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskSetStatusRun(args[0], args[1])
	},
}

var taskRmCmd = &cobra.Command{
	Use:     "rm <task-id>",
	Aliases: []string{"remove"},
	Short:   "Delete a task",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskRmRun(args[0])
	},
}

func init() {
	taskAddCmd.Flags().StringVar(&taskModule, "module", "", "Module (ID or name)")
	taskAddCmd.Flags().StringVar(&taskPriority, "priority", "medium", "Priority: critical, high, medium, low")
	taskAddCmd.Flags().StringVar(&taskStatus, "status", "todo", "Status: todo, in_progress, review, done")
	taskAddCmd.Flags().StringVar(&taskAssignee, "assignee", "", "Assignee")

	taskListCmd.Flags().StringVar(&taskFilterModule, "module", "", "Filter by module (ID or name)")
	taskListCmd.Flags().StringVar(&taskFilterStatus, "status", "", "Filter by status")
	taskListCmd.Flags().StringVar(&taskFilterPriority, "priority", "", "Filter by priority")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskSetStatusCmd)
	taskCmd.AddCommand(taskRmCmd)
	rootCmd.AddCommand(taskCmd)
}

func taskAddRun(title string) error {
	priority, err := models.ParseTaskPriority(taskPriority)
	if err != nil {
		return err
	}
	status, err := models.ParseTaskStatus(taskStatus)
	if err != nil {
		return err
	}

	t := &models.Task{
		Title:    title,
		Priority: priority,
		Status:   status,
		Assignee: taskAssignee,
	}
	if err := t.Validate(); err != nil {
		return err
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	moduleName := "unassigned"
	if taskModule != "" {
		m, err := resolveModule(ctx, s, taskModule)
		if err != nil {
			return err
		}
		t.ModuleID = m.ID
		moduleName = m.Name
	}

	if dryRun {
		ui.DryRunMsg("Would add task: %s [%s/%s] to %s", t.Title, t.Priority, t.Status, moduleName)
		return nil
	}

	if err := s.CreateTask(ctx, t); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	ui.Success("Created task %s: %s", output.Cyan(shortID(t.ID)), t.Title)
	return nil
}

func taskListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var filter store.TaskListFilter
	if taskFilterStatus != "" {
		if filter.Status, err = models.ParseTaskStatus(taskFilterStatus); err != nil {
			return err
		}
	}
	if taskFilterPriority != "" {
		if filter.Priority, err = models.ParseTaskPriority(taskFilterPriority); err != nil {
			return err
		}
	}
	if taskFilterModule != "" {
		m, err := resolveModule(ctx, s, taskFilterModule)
		if err != nil {
			return err
		}
		filter.ModuleID = m.ID
	}

	tasks, err := s.ListTasks(ctx, filter)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		ui.Info("No tasks found.")
		return nil
	}

	renderTasks(tasks)
	return nil
}

func renderTasks(tasks []*models.Task) {
	table := ui.Table([]string{"ID", "PRIORITY", "STATUS", "TITLE", "ASSIGNEE"})
	for _, t := range tasks {
		_ = table.Append([]string{
			shortID(t.ID),
			output.PriorityColor(string(t.Priority)),
			output.StatusColor(string(t.Status)),
			t.Title,
			t.Assignee,
		})
	}
	_ = table.Render()
}

func taskSetStatusRun(id, raw string) error {
	status, err := models.ParseTaskStatus(raw)
	if err != nil {
		return err
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	t, err := findTask(ctx, s, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would move task %s: %s -> %s", shortID(t.ID), t.Status, status)
		return nil
	}

	t.Status = status
	if err := s.UpdateTask(ctx, t); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	ui.Success("Task %s is now %s", output.Cyan(shortID(t.ID)), output.StatusColor(string(status)))
	return nil
}

func taskRmRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	t, err := findTask(ctx, s, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete task %s: %s", shortID(t.ID), t.Title)
		return nil
	}

	if err := s.DeleteTask(ctx, t.ID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	ui.Success("Deleted task: %s", t.Title)
	return nil
}
