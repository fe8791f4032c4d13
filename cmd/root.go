package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/joescharf/tamv/internal/gateway"
	"github.com/joescharf/tamv/internal/models"
	"github.com/joescharf/tamv/internal/output"
	"github.com/joescharf/tamv/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "tamv",
	Short: "TAMV Command Center - track the seven layers of the ecosystem",
	Long: `tamv tracks repositories, modules, tasks and deployments across the
seven layers of the TAMV ecosystem and aggregates them into progress
metrics, a REST API with a live feed, and an MCP server.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/tamv/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(filepath.Join(home, ".config", "tamv"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TAMV")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	setDefaults(filepath.Join(home, ".config", "tamv"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default value.
func setDefaults(configDir string) {
	viper.SetDefault("db_path", filepath.Join(configDir, "tamv.db"))
	viper.SetDefault("port", 8080)
	viper.SetDefault("live.interval", "5s")
	viper.SetDefault("snapshot.interval", "24h")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("gateway.timeout", "3s")
	for _, svc := range gateway.DefaultServices {
		viper.SetDefault("gateway.services."+svc.Name, svc.URL)
	}
	viper.SetDefault("log.level", "info")
}

func initDeps() {
	if ui == nil {
		ui = output.New()
	}
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Initialize store lazily, only when commands actually need it.
	// This allows config/version commands to run without a db.
}

// rootRun handles `tamv` with no subcommand: show the dashboard.
func rootRun(cmd *cobra.Command) error {
	if _, err := getStore(); err != nil {
		return cmd.Help()
	}
	return dashboardRun()
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// newLogger builds the structured logger used by long-running commands.
// --verbose forces debug level; otherwise log.level applies.
func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	} else if err := level.UnmarshalText([]byte(viper.GetString("log.level"))); err != nil {
		return nil, fmt.Errorf("invalid log.level %q: %w", viper.GetString("log.level"), err)
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// resolveModule finds a module by ID, unique ID prefix, or case-insensitive name.
func resolveModule(ctx context.Context, s store.Store, ref string) (*models.Module, error) {
	if m, err := s.GetModule(ctx, ref); err == nil {
		return m, nil
	}
	mods, err := s.ListModules(ctx, store.ModuleFilter{})
	if err != nil {
		return nil, err
	}
	var matches []*models.Module
	for _, m := range mods {
		if strings.EqualFold(m.Name, ref) {
			return m, nil
		}
		if strings.HasPrefix(m.ID, strings.ToUpper(ref)) {
			matches = append(matches, m)
		}
	}
	return pickOne("module", ref, matches)
}

// resolveRepository finds a repository by ID, unique ID prefix, or case-insensitive name.
func resolveRepository(ctx context.Context, s store.Store, ref string) (*models.Repository, error) {
	if r, err := s.GetRepository(ctx, ref); err == nil {
		return r, nil
	}
	repos, err := s.ListRepositories(ctx, store.RepositoryFilter{})
	if err != nil {
		return nil, err
	}
	var matches []*models.Repository
	for _, r := range repos {
		if strings.EqualFold(r.Name, ref) {
			return r, nil
		}
		if strings.HasPrefix(r.ID, strings.ToUpper(ref)) {
			matches = append(matches, r)
		}
	}
	return pickOne("repository", ref, matches)
}

// findTask finds a task by full ID or unique prefix.
func findTask(ctx context.Context, s store.Store, id string) (*models.Task, error) {
	if t, err := s.GetTask(ctx, id); err == nil {
		return t, nil
	}
	tasks, err := s.ListTasks(ctx, store.TaskListFilter{})
	if err != nil {
		return nil, err
	}
	var matches []*models.Task
	for _, t := range tasks {
		if strings.HasPrefix(t.ID, strings.ToUpper(id)) {
			matches = append(matches, t)
		}
	}
	return pickOne("task", id, matches)
}

func pickOne[T any](kind, ref string, matches []*T) (*T, error) {
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%s not found: %s", kind, ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous %s ID %s: matches %d", kind, ref, len(matches))
	}
}
