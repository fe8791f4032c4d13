package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/tamv/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows a single writer; one pooled connection serializes access
	// from concurrent HTTP handlers and parallel dashboard fetches.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func newULID() string {
	return ulid.Make().String()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %w: %s", kind, ErrNotFound, id)
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// execAffecting runs a mutation and reports ErrNotFound when no row matched.
func (s *SQLiteStore) execAffecting(ctx context.Context, kind, id, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}

// whereClause joins conditions into a WHERE clause, or returns "" when empty.
func whereClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}

// --- Repositories ---

const repositoryColumns = `id, name, url, layer, stack, status, description, created_at, updated_at`

func scanRepository(row interface{ Scan(...any) error }) (*models.Repository, error) {
	r := &models.Repository{}
	var layer, status, stack string
	if err := row.Scan(&r.ID, &r.Name, &r.URL, &layer, &stack, &status, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Layer = models.Layer(layer)
	r.Status = models.RepoStatus(status)
	if err := json.Unmarshal([]byte(stack), &r.Stack); err != nil {
		return nil, fmt.Errorf("decode stack for repository %s: %w", r.ID, err)
	}
	if r.Stack == nil {
		r.Stack = []string{}
	}
	return r, nil
}

func (s *SQLiteStore) CreateRepository(ctx context.Context, r *models.Repository) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = newULID()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	stack, err := json.Marshal(r.Stack)
	if err != nil {
		return fmt.Errorf("encode stack: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO repositories (`+repositoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.URL, string(r.Layer), string(stack), string(r.Status), r.Description, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRepository(ctx context.Context, id string) (*models.Repository, error) {
	r, err := scanRepository(s.db.QueryRowContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("repository", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListRepositories(ctx context.Context, filter RepositoryFilter) ([]*models.Repository, error) {
	var conditions []string
	var args []any
	if filter.Layer != "" {
		conditions = append(conditions, "layer = ?")
		args = append(args, string(filter.Layer))
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + repositoryColumns + ` FROM repositories` + whereClause(conditions) + ` ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	repos := []*models.Repository{}
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

func (s *SQLiteStore) UpdateRepository(ctx context.Context, r *models.Repository) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC()
	stack, err := json.Marshal(r.Stack)
	if err != nil {
		return fmt.Errorf("encode stack: %w", err)
	}
	err = s.execAffecting(ctx, "repository", r.ID,
		`UPDATE repositories SET name=?, url=?, layer=?, stack=?, status=?, description=?, updated_at=? WHERE id=?`,
		r.Name, r.URL, string(r.Layer), string(stack), string(r.Status), r.Description, r.UpdatedAt, r.ID,
	)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("update repository: %w", err)
	}
	return err
}

func (s *SQLiteStore) DeleteRepository(ctx context.Context, id string) error {
	err := s.execAffecting(ctx, "repository", id, "DELETE FROM repositories WHERE id = ?", id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete repository: %w", err)
	}
	return err
}

// --- Modules ---

const moduleColumns = `id, layer, name, description, progress, created_at, updated_at`

// layerOrder sorts rows by canonical layer order rather than alphabetically.
const layerOrder = `CASE layer WHEN 'identity' THEN 0 WHEN 'communication' THEN 1 WHEN 'information' THEN 2
	WHEN 'intelligence' THEN 3 WHEN 'economy' THEN 4 WHEN 'governance' THEN 5 WHEN 'documentation' THEN 6 ELSE 7 END`

func scanModule(row interface{ Scan(...any) error }) (*models.Module, error) {
	m := &models.Module{}
	var layer string
	if err := row.Scan(&m.ID, &layer, &m.Name, &m.Description, &m.Progress, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Layer = models.Layer(layer)
	return m, nil
}

func (s *SQLiteStore) CreateModule(ctx context.Context, m *models.Module) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = newULID()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO modules (`+moduleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.Layer), m.Name, m.Description, m.Progress, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create module: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetModule(ctx context.Context, id string) (*models.Module, error) {
	m, err := scanModule(s.db.QueryRowContext(ctx, `SELECT `+moduleColumns+` FROM modules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("module", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get module: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) ListModules(ctx context.Context, filter ModuleFilter) ([]*models.Module, error) {
	var conditions []string
	var args []any
	if filter.Layer != "" {
		conditions = append(conditions, "layer = ?")
		args = append(args, string(filter.Layer))
	}

	query := `SELECT ` + moduleColumns + ` FROM modules` + whereClause(conditions) + ` ORDER BY ` + layerOrder + `, created_at, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	mods := []*models.Module{}
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		mods = append(mods, m)
	}
	return mods, rows.Err()
}

func (s *SQLiteStore) UpdateModule(ctx context.Context, m *models.Module) error {
	if err := m.Validate(); err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC()
	err := s.execAffecting(ctx, "module", m.ID,
		`UPDATE modules SET layer=?, name=?, description=?, progress=?, updated_at=? WHERE id=?`,
		string(m.Layer), m.Name, m.Description, m.Progress, m.UpdatedAt, m.ID,
	)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("update module: %w", err)
	}
	return err
}

func (s *SQLiteStore) DeleteModule(ctx context.Context, id string) error {
	err := s.execAffecting(ctx, "module", id, "DELETE FROM modules WHERE id = ?", id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete module: %w", err)
	}
	return err
}

// --- Tasks ---

const taskColumns = `id, module_id, title, status, priority, assignee, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	t := &models.Task{}
	var moduleID sql.NullString
	var status, priority string
	if err := row.Scan(&t.ID, &moduleID, &t.Title, &status, &priority, &t.Assignee, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.ModuleID = moduleID.String
	t.Status = models.TaskStatus(status)
	t.Priority = models.TaskPriority(priority)
	return t, nil
}

func (s *SQLiteStore) CreateTask(ctx context.Context, t *models.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = newULID()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, nullIfEmpty(t.ModuleID), t.Title, string(t.Status), string(t.Priority), t.Assignee, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskListFilter) ([]*models.Task, error) {
	var conditions []string
	var args []any
	if filter.ModuleID != "" {
		conditions = append(conditions, "module_id = ?")
		args = append(args, filter.ModuleID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, string(filter.Priority))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks` + whereClause(conditions) + ` ORDER BY
		CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END,
		created_at, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tasks := []*models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, t *models.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t.UpdatedAt = time.Now().UTC()
	err := s.execAffecting(ctx, "task", t.ID,
		`UPDATE tasks SET module_id=?, title=?, status=?, priority=?, assignee=?, updated_at=? WHERE id=?`,
		nullIfEmpty(t.ModuleID), t.Title, string(t.Status), string(t.Priority), t.Assignee, t.UpdatedAt, t.ID,
	)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("update task: %w", err)
	}
	return err
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	err := s.execAffecting(ctx, "task", id, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete task: %w", err)
	}
	return err
}

// --- Deployments ---

const deploymentSelect = `SELECT d.id, d.repository_id, COALESCE(r.name, ''), d.environment, d.version, d.status, d.notes, d.created_at
	FROM deployments d LEFT JOIN repositories r ON r.id = d.repository_id`

func scanDeployment(row interface{ Scan(...any) error }) (*models.Deployment, error) {
	d := &models.Deployment{}
	var repoID sql.NullString
	var env, status string
	if err := row.Scan(&d.ID, &repoID, &d.RepositoryName, &env, &d.Version, &status, &d.Notes, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.RepositoryID = repoID.String
	d.Environment = models.Environment(env)
	d.Status = models.DeploymentStatus(status)
	return d, nil
}

func (s *SQLiteStore) CreateDeployment(ctx context.Context, d *models.Deployment) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.ID == "" {
		d.ID = newULID()
	}
	d.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deployments (id, repository_id, environment, version, status, notes, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, nullIfEmpty(d.RepositoryID), string(d.Environment), d.Version, string(d.Status), d.Notes, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create deployment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*models.Deployment, error) {
	d, err := scanDeployment(s.db.QueryRowContext(ctx, deploymentSelect+` WHERE d.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("deployment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get deployment: %w", err)
	}
	return d, nil
}

func (s *SQLiteStore) ListDeployments(ctx context.Context, filter DeploymentFilter) ([]*models.Deployment, error) {
	var conditions []string
	var args []any
	if filter.RepositoryID != "" {
		conditions = append(conditions, "d.repository_id = ?")
		args = append(args, filter.RepositoryID)
	}
	if filter.Environment != "" {
		conditions = append(conditions, "d.environment = ?")
		args = append(args, string(filter.Environment))
	}

	rows, err := s.db.QueryContext(ctx, deploymentSelect+whereClause(conditions)+` ORDER BY d.created_at DESC, d.id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	deps := []*models.Deployment{}
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

func (s *SQLiteStore) DeleteDeployment(ctx context.Context, id string) error {
	err := s.execAffecting(ctx, "deployment", id, "DELETE FROM deployments WHERE id = ?", id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete deployment: %w", err)
	}
	return err
}

// --- Progress history ---

func (s *SQLiteStore) RecordSnapshot(ctx context.Context, snap *models.ProgressSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	if snap.ID == "" {
		snap.ID = newULID()
	}
	if snap.RecordedAt.IsZero() {
		snap.RecordedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO progress_history (id, layer, progress, recorded_at) VALUES (?, ?, ?, ?)`,
		snap.ID, string(snap.Layer), snap.Progress, snap.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, layer models.Layer) ([]*models.ProgressSnapshot, error) {
	query := `SELECT id, layer, progress, recorded_at FROM progress_history`
	var args []any
	if layer != "" {
		query += ` WHERE layer = ?`
		args = append(args, string(layer))
	}
	query += ` ORDER BY recorded_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snaps := []*models.ProgressSnapshot{}
	for rows.Next() {
		snap := &models.ProgressSnapshot{}
		var l string
		if err := rows.Scan(&snap.ID, &l, &snap.Progress, &snap.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Layer = models.Layer(l)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
