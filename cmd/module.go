package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/tamv/internal/metrics"
	"github.com/joescharf/tamv/internal/models"
	"github.com/joescharf/tamv/internal/output"
	"github.com/joescharf/tamv/internal/store"
)

var (
	moduleLayer    string
	moduleDesc     string
	moduleProgress int
)

var moduleCmd = &cobra.Command{
	Use:     "module",
	Aliases: []string{"modules", "mod"},
	Short:   "Manage layer modules and their progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		return moduleListRun()
	},
}

var moduleAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a module to a layer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return moduleAddRun(args[0])
	},
}

var moduleListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List modules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return moduleListRun()
	},
}

var moduleSetProgressCmd = &cobra.Command{
	Use:   "set-progress <module> <percent>",
	Short: "Set a module's completion percentage (clamped to 0-100)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid progress %q: %w", args[1], err)
		}
		return moduleSetProgressRun(args[0], p)
	},
}

var moduleRmCmd = &cobra.Command{
	Use:     "rm <module>",
	Aliases: []string{"remove"},
	Short:   "Remove a module (its tasks become unassigned)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return moduleRmRun(args[0])
	},
}

func init() {
	moduleAddCmd.Flags().StringVar(&moduleLayer, "layer", "", "Layer: "+layerNames()+" (required)")
	moduleAddCmd.Flags().StringVar(&moduleDesc, "desc", "", "Description")
	moduleAddCmd.Flags().IntVar(&moduleProgress, "progress", 0, "Initial progress percentage")
	_ = moduleAddCmd.MarkFlagRequired("layer")

	moduleListCmd.Flags().StringVar(&moduleLayer, "layer", "", "Filter by layer")

	moduleCmd.AddCommand(moduleAddCmd)
	moduleCmd.AddCommand(moduleListCmd)
	moduleCmd.AddCommand(moduleSetProgressCmd)
	moduleCmd.AddCommand(moduleRmCmd)
	rootCmd.AddCommand(moduleCmd)
}

func moduleAddRun(name string) error {
	layer, err := models.ParseLayer(moduleLayer)
	if err != nil {
		return err
	}

	m := &models.Module{
		Name:        name,
		Layer:       layer,
		Description: moduleDesc,
		Progress:    models.ClampProgress(moduleProgress),
	}
	if err := m.Validate(); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would add module: %s [%s] at %d%%", m.Name, m.Layer, m.Progress)
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.CreateModule(context.Background(), m); err != nil {
		return fmt.Errorf("create module: %w", err)
	}

	ui.Success("Added module %s: %s", output.Cyan(shortID(m.ID)), m.Name)
	return nil
}

func moduleListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	var filter store.ModuleFilter
	if moduleLayer != "" {
		if filter.Layer, err = models.ParseLayer(moduleLayer); err != nil {
			return err
		}
	}

	mods, err := s.ListModules(context.Background(), filter)
	if err != nil {
		return err
	}
	if len(mods) == 0 {
		ui.Info("No modules found. Use 'tamv module add' to add one.")
		return nil
	}

	renderModules(mods)
	return nil
}

func renderModules(mods []*models.Module) {
	table := ui.Table([]string{"ID", "NAME", "LAYER", "PROGRESS", ""})
	for _, m := range mods {
		_ = table.Append([]string{
			shortID(m.ID),
			m.Name,
			string(m.Layer),
			output.ProgressBar(m.Progress, barWidth),
			output.ProgressColor(m.Progress),
		})
	}
	_ = table.Render()
}

func moduleSetProgressRun(ref string, progress int) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	m, err := resolveModule(ctx, s, ref)
	if err != nil {
		return err
	}

	clamped := models.ClampProgress(progress)
	if clamped != progress {
		ui.Warning("Progress %d clamped to %d", progress, clamped)
	}

	if dryRun {
		ui.DryRunMsg("Would set %s progress: %d%% -> %d%%", m.Name, m.Progress, clamped)
		return nil
	}

	m.Progress = clamped
	if err := s.UpdateModule(ctx, m); err != nil {
		return fmt.Errorf("update module: %w", err)
	}

	mods, err := s.ListModules(ctx, store.ModuleFilter{Layer: m.Layer})
	if err != nil {
		return err
	}
	ui.Success("%s progress set to %s (layer %s now %s)", m.Name,
		output.ProgressColor(clamped), m.Layer, output.ProgressColor(metrics.LayerProgress(mods, m.Layer)))
	return nil
}

func moduleRmRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	m, err := resolveModule(ctx, s, ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would remove module: %s (%s)", m.Name, shortID(m.ID))
		return nil
	}

	if err := s.DeleteModule(ctx, m.ID); err != nil {
		return fmt.Errorf("delete module: %w", err)
	}
	ui.Success("Removed module: %s", m.Name)
	return nil
}
