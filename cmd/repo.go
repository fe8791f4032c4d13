package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/tamv/internal/models"
	"github.com/joescharf/tamv/internal/output"
	"github.com/joescharf/tamv/internal/store"
)

var (
	repoURL    string
	repoLayer  string
	repoStatus string
	repoStack  []string
	repoDesc   string

	repoFilterLayer  string
	repoFilterStatus string
)

var repoCmd = &cobra.Command{
	Use:     "repo",
	Aliases: []string{"repos", "repository"},
	Short:   "Manage tracked repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoListRun()
	},
}

var repoAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Track a new repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoAddRun(args[0])
	},
}

var repoListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoListRun()
	},
}

var repoRmCmd = &cobra.Command{
	Use:     "rm <repository>",
	Aliases: []string{"remove"},
	Short:   "Stop tracking a repository",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoRmRun(args[0])
	},
}

func init() {
	repoAddCmd.Flags().StringVar(&repoURL, "url", "", "Repository URL (required)")
	repoAddCmd.Flags().StringVar(&repoLayer, "layer", "", "Layer: "+layerNames()+" (required)")
	repoAddCmd.Flags().StringVar(&repoStatus, "status", "planning", "Status: active, development, planning, paused")
	repoAddCmd.Flags().StringSliceVar(&repoStack, "stack", nil, "Technologies, comma separated")
	repoAddCmd.Flags().StringVar(&repoDesc, "desc", "", "Description")
	_ = repoAddCmd.MarkFlagRequired("url")
	_ = repoAddCmd.MarkFlagRequired("layer")

	repoListCmd.Flags().StringVar(&repoFilterLayer, "layer", "", "Filter by layer")
	repoListCmd.Flags().StringVar(&repoFilterStatus, "status", "", "Filter by status")

	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoListCmd)
	repoCmd.AddCommand(repoRmCmd)
	rootCmd.AddCommand(repoCmd)
}

func repoAddRun(name string) error {
	layer, err := models.ParseLayer(repoLayer)
	if err != nil {
		return err
	}
	status, err := models.ParseRepoStatus(repoStatus)
	if err != nil {
		return err
	}

	r := &models.Repository{
		Name:        name,
		URL:         repoURL,
		Layer:       layer,
		Status:      status,
		Stack:       repoStack,
		Description: repoDesc,
	}
	if err := r.Validate(); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would add repository: %s [%s] %s", r.Name, r.Layer, r.URL)
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.CreateRepository(context.Background(), r); err != nil {
		return fmt.Errorf("create repository: %w", err)
	}

	ui.Success("Added repository %s: %s", output.Cyan(shortID(r.ID)), r.Name)
	return nil
}

func repoListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	var filter store.RepositoryFilter
	if repoFilterLayer != "" {
		if filter.Layer, err = models.ParseLayer(repoFilterLayer); err != nil {
			return err
		}
	}
	if repoFilterStatus != "" {
		if filter.Status, err = models.ParseRepoStatus(repoFilterStatus); err != nil {
			return err
		}
	}

	repos, err := s.ListRepositories(context.Background(), filter)
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		ui.Info("No repositories tracked. Use 'tamv repo add' to add one.")
		return nil
	}

	renderRepositories(repos)
	return nil
}

func renderRepositories(repos []*models.Repository) {
	table := ui.Table([]string{"ID", "NAME", "LAYER", "STATUS", "STACK", "URL"})
	for _, r := range repos {
		_ = table.Append([]string{
			shortID(r.ID),
			r.Name,
			string(r.Layer),
			output.StatusColor(string(r.Status)),
			strings.Join(r.Stack, ","),
			r.URL,
		})
	}
	_ = table.Render()
}

func repoRmRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	r, err := resolveRepository(ctx, s, ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would remove repository: %s (%s)", r.Name, shortID(r.ID))
		return nil
	}

	if err := s.DeleteRepository(ctx, r.ID); err != nil {
		return fmt.Errorf("delete repository: %w", err)
	}
	ui.Success("Removed repository: %s", r.Name)
	return nil
}
