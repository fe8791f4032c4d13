package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/tamv/internal/dashboard"
	"github.com/joescharf/tamv/internal/metrics"
	"github.com/joescharf/tamv/internal/models"
	"github.com/joescharf/tamv/internal/store"
)

// Server wraps the tamv data layer and exposes it as MCP tools.
type Server struct {
	store   store.Store
	dash    *dashboard.Service
	version string
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{
		store:   s,
		dash:    dashboard.New(s),
		version: version,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("tamv", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.dashboardTool())
	srv.AddTool(s.layerProgressTool())
	srv.AddTool(s.listTasksTool())
	srv.AddTool(s.priorityTasksTool())
	srv.AddTool(s.createTaskTool())
	srv.AddTool(s.updateTaskTool())
	srv.AddTool(s.setModuleProgressTool())
	srv.AddTool(s.recordDeploymentTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any, what string) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal %s: %v", what, err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// tamv_dashboard
func (s *Server) dashboardTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tamv_dashboard",
		mcp.WithDescription("Get the command center summary: overall progress, per-layer progress, task distribution by status, deployment stats per environment, the top 5 priority tasks, and the daily progress trend."),
	)
	return tool, s.handleDashboard
}

func (s *Server) handleDashboard(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sum, err := s.dash.Snapshot(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load dashboard: %v", err)), nil
	}
	return jsonResult(sum, "dashboard")
}

// tamv_layer_progress
func (s *Server) layerProgressTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tamv_layer_progress",
		mcp.WithDescription("Get progress for the seven layers. With a layer, returns that layer's modules, repositories and tasks."),
		mcp.WithString("layer", mcp.Description("Layer: identity, communication, information, intelligence, economy, governance, documentation")),
	)
	return tool, s.handleLayerProgress
}

func (s *Server) handleLayerProgress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if name := request.GetString("layer", ""); name != "" {
		layer, err := models.ParseLayer(name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		detail, err := s.dash.LayerDetail(ctx, layer)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to load layer: %v", err)), nil
		}
		return jsonResult(detail, "layer")
	}

	mods, err := s.store.ListModules(ctx, store.ModuleFilter{})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list modules: %v", err)), nil
	}
	return jsonResult(metrics.LayerProgressMap(mods), "layers")
}

// tamv_list_tasks
func (s *Server) listTasksTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tamv_list_tasks",
		mcp.WithDescription("List tasks ordered by priority, optionally filtered by layer, module, status and/or priority."),
		mcp.WithString("layer", mcp.Description("Only tasks whose module belongs to this layer")),
		mcp.WithString("module", mcp.Description("Module name or ID")),
		mcp.WithString("status", mcp.Description("Status filter: todo, in_progress, review, done")),
		mcp.WithString("priority", mcp.Description("Priority filter: critical, high, medium, low")),
	)
	return tool, s.handleListTasks
}

func (s *Server) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.TaskListFilter{}

	if ref := request.GetString("module", ""); ref != "" {
		m, err := s.resolveModule(ctx, ref)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.ModuleID = m.ID
	}
	if v := request.GetString("status", ""); v != "" {
		st, err := models.ParseTaskStatus(v)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.Status = st
	}
	if v := request.GetString("priority", ""); v != "" {
		p, err := models.ParseTaskPriority(v)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.Priority = p
	}

	tasks, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}

	if v := request.GetString("layer", ""); v != "" {
		layer, err := models.ParseLayer(v)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		mods, err := s.store.ListModules(ctx, store.ModuleFilter{Layer: layer})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list modules: %v", err)), nil
		}
		tasks = metrics.LayerTasks(mods, tasks, layer)
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	return jsonResult(tasks, "tasks")
}

// tamv_priority_tasks
func (s *Server) priorityTasksTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tamv_priority_tasks",
		mcp.WithDescription("Get the five most urgent unfinished tasks, critical first."),
	)
	return tool, s.handlePriorityTasks
}

func (s *Server) handlePriorityTasks(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := s.store.ListTasks(ctx, store.TaskListFilter{})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}
	return jsonResult(metrics.PriorityTasks(tasks), "tasks")
}

// tamv_create_task
func (s *Server) createTaskTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tamv_create_task",
		mcp.WithDescription("Create a task. Returns the created task as JSON."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
		mcp.WithString("module", mcp.Description("Module name or ID the task belongs to")),
		mcp.WithString("priority", mcp.Description("Priority: critical, high, medium, low (default: medium)")),
		mcp.WithString("status", mcp.Description("Status: todo, in_progress, review, done (default: todo)")),
		mcp.WithString("assignee", mcp.Description("Who is working on it")),
	)
	return tool, s.handleCreateTask
}

func (s *Server) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}

	t := &models.Task{
		Title:    title,
		Status:   models.TaskStatus(request.GetString("status", "")),
		Priority: models.TaskPriority(request.GetString("priority", "")),
		Assignee: request.GetString("assignee", ""),
	}
	if ref := request.GetString("module", ""); ref != "" {
		m, err := s.resolveModule(ctx, ref)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		t.ModuleID = m.ID
	}

	if err := s.store.CreateTask(ctx, t); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create task: %v", err)), nil
	}
	return jsonResult(t, "task")
}

// tamv_update_task
func (s *Server) updateTaskTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tamv_update_task",
		mcp.WithDescription("Update a task. Provide the task ID (full or unique prefix) and at least one field. Returns the updated task as JSON."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID (full ULID or unique prefix)")),
		mcp.WithString("status", mcp.Description("New status: todo, in_progress, review, done")),
		mcp.WithString("priority", mcp.Description("New priority: critical, high, medium, low")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("assignee", mcp.Description("New assignee")),
		mcp.WithString("module", mcp.Description("Move the task to this module (name or ID)")),
	)
	return tool, s.handleUpdateTask
}

func (s *Server) handleUpdateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: task_id"), nil
	}

	t, err := s.findTask(ctx, taskID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	updated := false
	if v := request.GetString("status", ""); v != "" {
		t.Status = models.TaskStatus(v)
		updated = true
	}
	if v := request.GetString("priority", ""); v != "" {
		t.Priority = models.TaskPriority(v)
		updated = true
	}
	if v := request.GetString("title", ""); v != "" {
		t.Title = v
		updated = true
	}
	if v := request.GetString("assignee", ""); v != "" {
		t.Assignee = v
		updated = true
	}
	if ref := request.GetString("module", ""); ref != "" {
		m, err := s.resolveModule(ctx, ref)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		t.ModuleID = m.ID
		updated = true
	}

	if !updated {
		return mcp.NewToolResultError("no fields provided to update; specify at least one of: status, priority, title, assignee, module"), nil
	}

	if err := s.store.UpdateTask(ctx, t); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update task: %v", err)), nil
	}
	return jsonResult(t, "task")
}

// tamv_set_module_progress
func (s *Server) setModuleProgressTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tamv_set_module_progress",
		mcp.WithDescription("Set a module's completion percentage. Values outside 0-100 are clamped."),
		mcp.WithString("module", mcp.Required(), mcp.Description("Module name or ID")),
		mcp.WithNumber("progress", mcp.Required(), mcp.Description("Completion percentage, 0-100")),
	)
	return tool, s.handleSetModuleProgress
}

func (s *Server) handleSetModuleProgress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := request.RequireString("module")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: module"), nil
	}
	progress, err := request.RequireFloat("progress")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: progress"), nil
	}

	if math.IsNaN(progress) {
		return mcp.NewToolResultError("progress must be a number"), nil
	}

	m, err := s.resolveModule(ctx, ref)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	// Clamp before converting: int() of an out-of-range float is undefined.
	m.Progress = int(math.Round(math.Max(0, math.Min(100, progress))))
	if err := s.store.UpdateModule(ctx, m); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update module: %v", err)), nil
	}

	mods, err := s.store.ListModules(ctx, store.ModuleFilter{Layer: m.Layer})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list modules: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"module":         m,
		"layer_progress": metrics.LayerProgress(mods, m.Layer),
	}, "module")
}

// tamv_record_deployment
func (s *Server) recordDeploymentTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tamv_record_deployment",
		mcp.WithDescription("Record a deployment of a repository to staging or production. Returns the deployment as JSON."),
		mcp.WithString("environment", mcp.Required(), mcp.Description("Environment: staging, production")),
		mcp.WithString("version", mcp.Required(), mcp.Description("Released version, e.g. v1.2.3")),
		mcp.WithString("status", mcp.Description("Outcome: success, pending, failed (default: pending)")),
		mcp.WithString("repository", mcp.Description("Repository name or ID")),
		mcp.WithString("notes", mcp.Description("Release notes")),
	)
	return tool, s.handleRecordDeployment
}

func (s *Server) handleRecordDeployment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	env, err := request.RequireString("environment")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: environment"), nil
	}
	version, err := request.RequireString("version")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: version"), nil
	}

	d := &models.Deployment{
		Environment: models.Environment(env),
		Version:     version,
		Status:      models.DeploymentStatus(request.GetString("status", "")),
		Notes:       request.GetString("notes", ""),
	}
	if ref := request.GetString("repository", ""); ref != "" {
		r, err := s.resolveRepository(ctx, ref)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		d.RepositoryID = r.ID
		d.RepositoryName = r.Name
	}

	if err := s.store.CreateDeployment(ctx, d); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to record deployment: %v", err)), nil
	}
	return jsonResult(d, "deployment")
}

// resolveModule finds a module by ID or case-insensitive name.
func (s *Server) resolveModule(ctx context.Context, ref string) (*models.Module, error) {
	if m, err := s.store.GetModule(ctx, ref); err == nil {
		return m, nil
	}
	mods, err := s.store.ListModules(ctx, store.ModuleFilter{})
	if err != nil {
		return nil, err
	}
	for _, m := range mods {
		if strings.EqualFold(m.Name, ref) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("module not found: %s", ref)
}

// resolveRepository finds a repository by ID or case-insensitive name.
func (s *Server) resolveRepository(ctx context.Context, ref string) (*models.Repository, error) {
	if r, err := s.store.GetRepository(ctx, ref); err == nil {
		return r, nil
	}
	repos, err := s.store.ListRepositories(ctx, store.RepositoryFilter{})
	if err != nil {
		return nil, err
	}
	for _, r := range repos {
		if strings.EqualFold(r.Name, ref) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("repository not found: %s", ref)
}

// findTask finds a task by full ID or unique prefix.
func (s *Server) findTask(ctx context.Context, id string) (*models.Task, error) {
	if t, err := s.store.GetTask(ctx, id); err == nil {
		return t, nil
	}

	upper := strings.ToUpper(id)
	tasks, err := s.store.ListTasks(ctx, store.TaskListFilter{})
	if err != nil {
		return nil, err
	}

	var matches []*models.Task
	for _, t := range tasks {
		if strings.HasPrefix(t.ID, upper) {
			matches = append(matches, t)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("task not found: %s", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous task ID %s: matches %d tasks", id, len(matches))
	}
}
