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
	deployRepo   string
	deployEnv    string
	deployStatus string
	deployNotes  string
)

var deployCmd = &cobra.Command{
	Use:     "deploy",
	Aliases: []string{"deployments"},
	Short:   "Record and list deployments",
	RunE: func(cmd *cobra.Command, args []string) error {
		return deployListRun()
	},
}

var deployAddCmd = &cobra.Command{
	Use:   "add <version>",
	Short: "Record a deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return deployAddRun(args[0])
	},
}

var deployListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List deployments, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return deployListRun()
	},
}

func init() {
	deployAddCmd.Flags().StringVar(&deployRepo, "repo", "", "Repository (ID or name)")
	deployAddCmd.Flags().StringVar(&deployEnv, "env", "", "Environment: staging, production (required)")
	deployAddCmd.Flags().StringVar(&deployStatus, "status", "pending", "Status: success, pending, failed")
	deployAddCmd.Flags().StringVar(&deployNotes, "notes", "", "Release notes")
	_ = deployAddCmd.MarkFlagRequired("env")

	deployListCmd.Flags().StringVar(&deployRepo, "repo", "", "Filter by repository (ID or name)")
	deployListCmd.Flags().StringVar(&deployEnv, "env", "", "Filter by environment")

	deployCmd.AddCommand(deployAddCmd)
	deployCmd.AddCommand(deployListCmd)
	rootCmd.AddCommand(deployCmd)
}

func deployAddRun(version string) error {
	env, err := models.ParseEnvironment(deployEnv)
	if err != nil {
		return err
	}
	status, err := models.ParseDeploymentStatus(deployStatus)
	if err != nil {
		return err
	}

	d := &models.Deployment{
		Environment: env,
		Version:     version,
		Status:      status,
		Notes:       deployNotes,
	}
	if err := d.Validate(); err != nil {
		return err
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if deployRepo != "" {
		r, err := resolveRepository(ctx, s, deployRepo)
		if err != nil {
			return err
		}
		d.RepositoryID = r.ID
		d.RepositoryName = r.Name
	}

	if dryRun {
		ui.DryRunMsg("Would record deployment %s of %s to %s (%s)", d.Version, d.RepositoryName, d.Environment, d.Status)
		return nil
	}

	if err := s.CreateDeployment(ctx, d); err != nil {
		return fmt.Errorf("create deployment: %w", err)
	}
	ui.Success("Recorded deployment %s: %s to %s", output.Cyan(shortID(d.ID)), d.Version, d.Environment)
	return nil
}

func deployListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var filter store.DeploymentFilter
	if deployEnv != "" {
		if filter.Environment, err = models.ParseEnvironment(deployEnv); err != nil {
			return err
		}
	}
	if deployRepo != "" {
		r, err := resolveRepository(ctx, s, deployRepo)
		if err != nil {
			return err
		}
		filter.RepositoryID = r.ID
	}

	deps, err := s.ListDeployments(ctx, filter)
	if err != nil {
		return err
	}
	if len(deps) == 0 {
		ui.Info("No deployments recorded.")
		return nil
	}

	table := ui.Table([]string{"ID", "REPOSITORY", "ENV", "VERSION", "STATUS", "WHEN"})
	for _, d := range deps {
		_ = table.Append([]string{
			shortID(d.ID),
			d.RepositoryName,
			string(d.Environment),
			d.Version,
			output.StatusColor(string(d.Status)),
			d.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	_ = table.Render()
	return nil
}
