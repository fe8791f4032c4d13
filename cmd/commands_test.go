package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tamv/internal/llm"
	"github.com/joescharf/tamv/internal/models"
	"github.com/joescharf/tamv/internal/store"
)

// captureOutput redirects ui output into a buffer for the rest of the test.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	ui.Out = &buf
	ui.ErrOut = &buf
	return &buf
}

// resetFlags restores every flag variable to the default it was registered
// with, walking the whole command tree the way cobra parses it.
func resetFlags() {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	var walk func(c *cobra.Command)
	walk = func(c *cobra.Command) {
		c.PersistentFlags().VisitAll(reset)
		c.Flags().VisitAll(reset)
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(rootCmd)
}

// cliEnv prepares an isolated config dir, a migrated store and captured output.
func cliEnv(t *testing.T) (store.Store, *bytes.Buffer) {
	t.Helper()
	testEnv(t)
	resetFlags()
	t.Cleanup(resetFlags)

	s, err := getStore()
	require.NoError(t, err)
	return s, captureOutput(t)
}

func addModule(t *testing.T, name string, layer models.Layer, progress int) {
	t.Helper()
	moduleLayer, moduleProgress = string(layer), progress
	require.NoError(t, moduleAddRun(name))
	moduleLayer, moduleProgress = "", 0
}

func TestRepoCommands(t *testing.T) {
	s, buf := cliEnv(t)
	ctx := context.Background()

	repoURL, repoLayer, repoStatus = "https://github.com/tamv/identity-core", "identity", "active"
	repoStack = []string{"go", "postgres", "go"}
	require.NoError(t, repoAddRun("identity-core"))
	assert.Contains(t, buf.String(), "Added repository")

	repos, err := s.ListRepositories(ctx, store.RepositoryFilter{})
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, []string{"go", "postgres"}, repos[0].Stack)
	assert.Equal(t, models.RepoStatusActive, repos[0].Status)

	resetFlags()
	buf.Reset()
	require.NoError(t, repoListRun())
	assert.Contains(t, buf.String(), "identity-core")

	repoFilterLayer = "economy"
	buf.Reset()
	require.NoError(t, repoListRun())
	assert.Contains(t, buf.String(), "No repositories")

	resetFlags()
	require.NoError(t, repoRmRun("IDENTITY-CORE"))
	repos, err = s.ListRepositories(ctx, store.RepositoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, repos)
}

func TestRepoAdd_Invalid(t *testing.T) {
	_, _ = cliEnv(t)

	repoURL, repoLayer, repoStatus = "ftp://example.com", "identity", "planning"
	err := repoAddRun("bad")
	assert.ErrorIs(t, err, models.ErrInvalid)

	repoURL, repoLayer = "https://example.com", "quantum"
	err = repoAddRun("bad")
	assert.ErrorIs(t, err, models.ErrInvalid)
}

func TestModuleCommands_ClampProgress(t *testing.T) {
	s, buf := cliEnv(t)
	ctx := context.Background()

	addModule(t, "DID", models.LayerIdentity, 150)
	addModule(t, "Wallet", models.LayerIdentity, 25)

	m, err := resolveModule(ctx, s, "did")
	require.NoError(t, err)
	assert.Equal(t, 100, m.Progress)

	buf.Reset()
	require.NoError(t, moduleSetProgressRun("wallet", -20))
	assert.Contains(t, buf.String(), "clamped to 0")
	assert.Contains(t, buf.String(), "50%") // (100+0)/2

	m, err = resolveModule(ctx, s, "Wallet")
	require.NoError(t, err)
	assert.Equal(t, 0, m.Progress)

	buf.Reset()
	moduleLayer = "identity"
	require.NoError(t, moduleListRun())
	assert.Contains(t, buf.String(), "DID")
	assert.Contains(t, buf.String(), "Wallet")

	require.NoError(t, moduleRmRun("DID"))
	_, err = resolveModule(ctx, s, "DID")
	assert.Error(t, err)
}

func TestModuleAdd_DryRun(t *testing.T) {
	s, buf := cliEnv(t)
	dryRun, ui.DryRun = true, true

	moduleLayer = "economy"
	require.NoError(t, moduleAddRun("Ledger"))
	assert.Contains(t, buf.String(), "Would add module")

	mods, err := s.ListModules(context.Background(), store.ModuleFilter{})
	require.NoError(t, err)
	assert.Empty(t, mods)
}

func TestTaskCommands(t *testing.T) {
	s, buf := cliEnv(t)
	ctx := context.Background()

	addModule(t, "DID", models.LayerIdentity, 40)

	taskModule, taskPriority, taskStatus = "DID", "critical", "todo"
	require.NoError(t, taskAddRun("Issue credentials"))
	taskModule, taskPriority, taskStatus = "", "low", "todo"
	require.NoError(t, taskAddRun("Write docs"))

	tasks, err := s.ListTasks(ctx, store.TaskListFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "Issue credentials", tasks[0].Title)
	assert.NotEmpty(t, tasks[0].ModuleID)
	assert.Empty(t, tasks[1].ModuleID)

	resetFlags()
	buf.Reset()
	taskFilterModule = "did"
	require.NoError(t, taskListRun())
	assert.Contains(t, buf.String(), "Issue credentials")
	assert.NotContains(t, buf.String(), "Write docs")

	resetFlags()
	require.NoError(t, taskSetStatusRun(tasks[1].ID[:20], "done"))
	got, err := s.GetTask(ctx, tasks[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDone, got.Status)

	err = taskSetStatusRun(tasks[1].ID, "blocked")
	assert.ErrorIs(t, err, models.ErrInvalid)

	require.NoError(t, taskRmRun(tasks[0].ID))
	_, err = s.GetTask(ctx, tasks[0].ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// executeArgs runs the root command the way main does, flag parsing included.
func executeArgs(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	return rootCmd.Execute()
}

func TestAddCommands_FlagDefaults(t *testing.T) {
	s, buf := cliEnv(t)
	ctx := context.Background()
	viper.Set("db_path", filepath.Join(t.TempDir(), "unused.db"))

	require.NoError(t, executeArgs(t, "task", "add", "Write docs"))
	assert.Contains(t, buf.String(), "Created task")

	tasks, err := s.ListTasks(ctx, store.TaskListFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskPriorityMedium, tasks[0].Priority)
	assert.Equal(t, models.TaskStatusTodo, tasks[0].Status)

	resetFlags()
	require.NoError(t, executeArgs(t, "repo", "add", "core", "--url", "https://github.com/tamv/core", "--layer", "identity"))
	repos, err := s.ListRepositories(ctx, store.RepositoryFilter{})
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, models.RepoStatusPlanning, repos[0].Status)

	resetFlags()
	require.NoError(t, executeArgs(t, "deploy", "add", "v1.0.0", "--env", "staging"))
	deps, err := s.ListDeployments(ctx, store.DeploymentFilter{})
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, models.DeploymentStatusPending, deps[0].Status)

	resetFlags()
	buf.Reset()
	require.NoError(t, executeArgs(t, "task", "list"))
	assert.Contains(t, buf.String(), "Write docs", "list filters start empty")
}

func TestTaskAdd_UnknownModule(t *testing.T) {
	_, _ = cliEnv(t)

	taskModule, taskPriority, taskStatus = "nope", "medium", "todo"
	err := taskAddRun("Orphan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "module not found")
}

func TestDeployCommands(t *testing.T) {
	s, buf := cliEnv(t)
	ctx := context.Background()

	repoURL, repoLayer, repoStatus = "https://github.com/tamv/utamv", "economy", "active"
	require.NoError(t, repoAddRun("utamv"))

	resetFlags()
	deployRepo, deployEnv, deployStatus = "utamv", "production", "success"
	require.NoError(t, deployAddRun("v1.2.0"))

	deployRepo, deployEnv, deployStatus = "", "staging", "pending"
	err := deployAddRun("latest")
	assert.ErrorIs(t, err, models.ErrInvalid)

	deps, err := s.ListDeployments(ctx, store.DeploymentFilter{})
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "utamv", deps[0].RepositoryName)

	resetFlags()
	buf.Reset()
	require.NoError(t, deployListRun())
	assert.Contains(t, buf.String(), "v1.2.0")
	assert.Contains(t, buf.String(), "production")
}

func TestDashboardAndLayer(t *testing.T) {
	_, buf := cliEnv(t)

	addModule(t, "DID", models.LayerIdentity, 50)
	addModule(t, "Wallet", models.LayerIdentity, 75)
	addModule(t, "Ledger", models.LayerEconomy, 20)
	taskModule, taskPriority, taskStatus = "Ledger", "high", "in_progress"
	require.NoError(t, taskAddRun("Mint UTAMV"))

	buf.Reset()
	require.NoError(t, dashboardRun())
	out := buf.String()
	assert.Contains(t, out, "48%")
	assert.Contains(t, out, "Identidad")
	assert.Contains(t, out, "63%")
	assert.Contains(t, out, "Mint UTAMV")
	assert.Contains(t, out, "staging")

	buf.Reset()
	require.NoError(t, layerRun("Economy"))
	out = buf.String()
	assert.Contains(t, out, "Economía")
	assert.Contains(t, out, "Ledger")
	assert.Contains(t, out, "Mint UTAMV")

	err := layerRun("quantum")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valid: identity")
}

func TestSnapshotCommands(t *testing.T) {
	s, buf := cliEnv(t)

	addModule(t, "DID", models.LayerIdentity, 30)
	require.NoError(t, snapshotRecordRun())
	assert.Contains(t, buf.String(), "Recorded 7 layer snapshots")

	snaps, err := s.ListSnapshots(context.Background(), models.LayerIdentity)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 30, snaps[0].Progress)

	buf.Reset()
	snapshotLayer = "identity"
	require.NoError(t, snapshotListRun())
	assert.Contains(t, buf.String(), "30%")
	assert.NotContains(t, buf.String(), "economy")
}

func TestExport(t *testing.T) {
	_, buf := cliEnv(t)

	addModule(t, "DID", models.LayerIdentity, 50)
	addModule(t, "Ledger", models.LayerEconomy, 21)

	t.Run("summary json", func(t *testing.T) {
		buf.Reset()
		exportType, exportFormat = "summary", "json"
		require.NoError(t, exportRun())
		var sum map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &sum))
		assert.EqualValues(t, 36, sum["overall_progress"]) // (50+21)/2 = 35.5
	})

	t.Run("modules csv", func(t *testing.T) {
		buf.Reset()
		exportType, exportFormat = "modules", "csv"
		require.NoError(t, exportRun())
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, "ID,Name,Layer,Progress", lines[0])
		assert.Contains(t, buf.String(), ",Ledger,economy,21")
	})

	t.Run("summary markdown", func(t *testing.T) {
		buf.Reset()
		exportType, exportFormat = "summary", "markdown"
		require.NoError(t, exportRun())
		assert.Contains(t, buf.String(), "# TAMV Progress (overall 36%)")
		assert.Contains(t, buf.String(), "| identity | Identidad | 1 | 50 |")
	})

	t.Run("unknown type", func(t *testing.T) {
		exportType, exportFormat = "sessions", "json"
		err := exportRun()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown export type")
	})

	t.Run("unknown format", func(t *testing.T) {
		exportType, exportFormat = "tasks", "xml"
		err := exportRun()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown format")
	})
}

func TestReport(t *testing.T) {
	_, buf := cliEnv(t)

	addModule(t, "Ledger", models.LayerEconomy, 20)
	taskModule, taskPriority, taskStatus = "Ledger", "critical", "todo"
	require.NoError(t, taskAddRun("Audit contracts"))

	buf.Reset()
	require.NoError(t, reportRun())
	out := buf.String()
	assert.Contains(t, out, "## Economía (20%)")
	assert.Contains(t, out, "- Tasks: 1 open, 0 done")
	assert.Contains(t, out, "Audit contracts [critical]")
}

type fakeChatter struct {
	histories [][]llm.Message
	statuses  []string
	reply     string
	err       error
}

func (f *fakeChatter) StreamChat(_ context.Context, history []llm.Message, status string, onDelta func(string) error) (string, error) {
	f.histories = append(f.histories, append([]llm.Message(nil), history...))
	f.statuses = append(f.statuses, status)
	if f.err != nil {
		return "", f.err
	}
	for _, part := range strings.SplitAfter(f.reply, " ") {
		if err := onDelta(part); err != nil {
			return "", err
		}
	}
	return f.reply, nil
}

func TestChat_OneShot(t *testing.T) {
	_, buf := cliEnv(t)
	addModule(t, "DID", models.LayerIdentity, 40)

	fc := &fakeChatter{reply: "Hola, soy Isabella."}
	chatMessage = "¿Cómo vamos?"
	require.NoError(t, chatRun(context.Background(), fc, strings.NewReader("")))

	assert.Contains(t, buf.String(), "Hola, soy Isabella.")
	require.Len(t, fc.histories, 1)
	assert.Equal(t, llm.RoleUser, fc.histories[0][0].Role)
	assert.Contains(t, fc.statuses[0], "Progreso general: 40%")
}

func TestChat_REPLKeepsHistory(t *testing.T) {
	_, buf := cliEnv(t)

	fc := &fakeChatter{reply: "Claro."}
	in := strings.NewReader("hola\n¿y la economía?\nexit\n")
	require.NoError(t, chatRun(context.Background(), fc, in))

	require.Len(t, fc.histories, 2)
	second := fc.histories[1]
	require.Len(t, second, 3)
	assert.Equal(t, llm.RoleAssistant, second[1].Role)
	assert.Equal(t, "Claro.", second[1].Content)
	assert.Equal(t, "¿y la economía?", second[2].Content)
	assert.Contains(t, buf.String(), "Chatting with Isabella")
}

func TestChat_RateLimitContinues(t *testing.T) {
	_, buf := cliEnv(t)

	fc := &fakeChatter{err: llm.ErrRateLimited}
	in := strings.NewReader("hola\n\n")
	require.NoError(t, chatRun(context.Background(), fc, in))
	assert.Contains(t, buf.String(), "Rate limit exceeded")

	fc.err = errors.New("boom")
	err := chatRun(context.Background(), fc, strings.NewReader("hola\n"))
	assert.EqualError(t, err, "boom")
}

func TestServeStatusAndStop_NotRunning(t *testing.T) {
	_, buf := cliEnv(t)

	require.NoError(t, serveStatusRun())
	assert.Contains(t, buf.String(), "not running")

	err := serveStopRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestServeStatus_Running(t *testing.T) {
	_, buf := cliEnv(t)

	lock, err := serveLock()
	require.NoError(t, err)
	require.NoError(t, lock.Acquire(":9999"))
	t.Cleanup(func() { _ = lock.Release() })

	require.NoError(t, serveStatusRun())
	assert.Contains(t, buf.String(), "localhost:9999/api/v1")
}
