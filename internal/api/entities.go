package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/joescharf/tamv/internal/models"
	"github.com/joescharf/tamv/internal/schema"
	"github.com/joescharf/tamv/internal/store"
)

func decodeInto(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", models.ErrInvalid, err)
	}
	return nil
}

// mergePatch decodes a partial update onto dst. json.Unmarshal leaves a
// field untouched for an explicit null, so the nullable string fields named
// in clear are emptied when their key is present as null.
func mergePatch(body []byte, dst any, clear map[string]*string) error {
	if err := decodeInto(body, dst); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := decodeInto(body, &raw); err != nil {
		return err
	}
	for key, field := range clear {
		if v, ok := raw[key]; ok && bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			*field = ""
		}
	}
	return nil
}

// queryEnum parses an optional query parameter with parse; an absent
// parameter yields the zero value.
func queryEnum[T ~string](r *http.Request, key string, parse func(string) (T, error)) (T, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		var zero T
		return zero, nil
	}
	return parse(v)
}

// checkRef confirms a referenced row exists so dangling foreign keys are
// reported as a client error rather than a constraint failure.
func checkRef(ctx context.Context, kind, id string, get func(context.Context, string) error) error {
	if id == "" {
		return nil
	}
	if err := get(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: unknown %s %q", models.ErrInvalid, kind, id)
		}
		return err
	}
	return nil
}

func (s *Server) moduleExists(ctx context.Context, id string) error {
	_, err := s.store.GetModule(ctx, id)
	return err
}

func (s *Server) repositoryExists(ctx context.Context, id string) error {
	_, err := s.store.GetRepository(ctx, id)
	return err
}

// --- Repositories ---

func (s *Server) listRepositories(w http.ResponseWriter, r *http.Request) {
	layer, err := queryEnum(r, "layer", models.ParseLayer)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	status, err := queryEnum(r, "status", models.ParseRepoStatus)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	repos, err := s.store.ListRepositories(r.Context(), store.RepositoryFilter{Layer: layer, Status: status})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (s *Server) getRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := s.store.GetRepository(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

func (s *Server) createRepository(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r, schema.KindRepository, false)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	var repo models.Repository
	if err := decodeInto(body, &repo); err != nil {
		s.writeStoreError(w, err)
		return
	}
	repo.ID = ""
	if err := s.store.CreateRepository(r.Context(), &repo); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, repo)
}

func (s *Server) updateRepository(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetRepository(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	body, err := s.readBody(r, schema.KindRepository, true)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	// Only keys present in the body overwrite the stored row.
	id, created := existing.ID, existing.CreatedAt
	if err := mergePatch(body, existing, map[string]*string{
		"description": &existing.Description,
	}); err != nil {
		s.writeStoreError(w, err)
		return
	}
	existing.ID, existing.CreatedAt = id, created

	if err := s.store.UpdateRepository(r.Context(), existing); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) deleteRepository(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRepository(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Modules ---

func (s *Server) listModules(w http.ResponseWriter, r *http.Request) {
	layer, err := queryEnum(r, "layer", models.ParseLayer)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	mods, err := s.store.ListModules(r.Context(), store.ModuleFilter{Layer: layer})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mods)
}

func (s *Server) getModule(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetModule(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) createModule(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r, schema.KindModule, false)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	var m models.Module
	if err := decodeInto(body, &m); err != nil {
		s.writeStoreError(w, err)
		return
	}
	m.ID = ""
	if err := s.store.CreateModule(r.Context(), &m); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) updateModule(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetModule(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	body, err := s.readBody(r, schema.KindModule, true)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	id, created := existing.ID, existing.CreatedAt
	if err := mergePatch(body, existing, map[string]*string{
		"description": &existing.Description,
	}); err != nil {
		s.writeStoreError(w, err)
		return
	}
	existing.ID, existing.CreatedAt = id, created

	if err := s.store.UpdateModule(r.Context(), existing); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) deleteModule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteModule(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Tasks ---

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	status, err := queryEnum(r, "status", models.ParseTaskStatus)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	priority, err := queryEnum(r, "priority", models.ParseTaskPriority)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	filter := store.TaskListFilter{
		ModuleID: r.URL.Query().Get("module_id"),
		Status:   status,
		Priority: priority,
	}
	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r, schema.KindTask, false)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	var t models.Task
	if err := decodeInto(body, &t); err != nil {
		s.writeStoreError(w, err)
		return
	}
	t.ID = ""
	if err := checkRef(r.Context(), "module", t.ModuleID, s.moduleExists); err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := s.store.CreateTask(r.Context(), &t); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	body, err := s.readBody(r, schema.KindTask, true)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	// A null module_id unassigns the task.
	id, created := existing.ID, existing.CreatedAt
	if err := mergePatch(body, existing, map[string]*string{
		"module_id": &existing.ModuleID,
		"assignee":  &existing.Assignee,
	}); err != nil {
		s.writeStoreError(w, err)
		return
	}
	existing.ID, existing.CreatedAt = id, created

	if err := checkRef(r.Context(), "module", existing.ModuleID, s.moduleExists); err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := s.store.UpdateTask(r.Context(), existing); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Deployments ---

func (s *Server) listDeployments(w http.ResponseWriter, r *http.Request) {
	env, err := queryEnum(r, "environment", models.ParseEnvironment)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	filter := store.DeploymentFilter{
		RepositoryID: r.URL.Query().Get("repository_id"),
		Environment:  env,
	}
	deps, err := s.store.ListDeployments(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deps)
}

func (s *Server) getDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDeployment(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) createDeployment(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r, schema.KindDeployment, false)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	var d models.Deployment
	if err := decodeInto(body, &d); err != nil {
		s.writeStoreError(w, err)
		return
	}
	d.ID, d.RepositoryName = "", ""
	if err := checkRef(r.Context(), "repository", d.RepositoryID, s.repositoryExists); err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := s.store.CreateDeployment(r.Context(), &d); err != nil {
		s.writeStoreError(w, err)
		return
	}

	// Re-read to pick up the joined repository name.
	created, err := s.store.GetDeployment(r.Context(), d.ID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) deleteDeployment(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteDeployment(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Progress history ---

func (s *Server) listProgressHistory(w http.ResponseWriter, r *http.Request) {
	layer, err := queryEnum(r, "layer", models.ParseLayer)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	snaps, err := s.store.ListSnapshots(r.Context(), layer)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) recordProgress(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.dash.RecordProgress(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snaps)
}
