package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ultracode-dev/forge/internal/forgemodel"
	"github.com/ultracode-dev/forge/internal/graph"
)

// Project CRUD

// CreateProject inserts a new Project.
func (db *DB) CreateProject(p *forgemodel.Project) error {
	_, err := db.Exec(`
		INSERT INTO projects (id, name, description, folder_path, planner_model, executor_model,
			vote_model, project_type, status, bootstrapped, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Description, p.FolderPath, p.PlannerModel, p.ExecutorModel, p.VoteModel,
		p.ProjectType, string(p.Status), boolToInt(p.Bootstrapped), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: create project: %w", err)
	}
	return nil
}

// GetProject retrieves a Project by ID, returning (nil, nil) if absent.
func (db *DB) GetProject(id string) (*forgemodel.Project, error) {
	row := db.QueryRow(`
		SELECT id, name, description, folder_path, planner_model, executor_model,
			vote_model, project_type, status, bootstrapped, created_at, updated_at
		FROM projects WHERE id = ?
	`, id)
	return scanProject(row)
}

// UpdateProject persists changes to an existing Project.
func (db *DB) UpdateProject(p *forgemodel.Project) error {
	_, err := db.Exec(`
		UPDATE projects SET name = ?, description = ?, folder_path = ?, planner_model = ?,
			executor_model = ?, vote_model = ?, project_type = ?, status = ?, bootstrapped = ?, updated_at = ?
		WHERE id = ?
	`, p.Name, p.Description, p.FolderPath, p.PlannerModel, p.ExecutorModel, p.VoteModel,
		p.ProjectType, string(p.Status), boolToInt(p.Bootstrapped), formatTime(p.UpdatedAt), p.ID)
	if err != nil {
		return fmt.Errorf("store: update project: %w", err)
	}
	return nil
}

// ListProjects lists all Projects, optionally filtered by status.
func (db *DB) ListProjects(status *forgemodel.ProjectStatus) ([]*forgemodel.Project, error) {
	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = db.Query(`
			SELECT id, name, description, folder_path, planner_model, executor_model,
				vote_model, project_type, status, bootstrapped, created_at, updated_at
			FROM projects WHERE status = ? ORDER BY created_at
		`, string(*status))
	} else {
		rows, err = db.Query(`
			SELECT id, name, description, folder_path, planner_model, executor_model,
				vote_model, project_type, status, bootstrapped, created_at, updated_at
			FROM projects ORDER BY created_at
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var projects []*forgemodel.Project
	for rows.Next() {
		p, err := scanProjectRows(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*forgemodel.Project, error) {
	var p forgemodel.Project
	var createdAt, updatedAt string
	var bootstrapped int
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.FolderPath, &p.PlannerModel, &p.ExecutorModel,
		&p.VoteModel, &p.ProjectType, &p.Status, &bootstrapped, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan project: %w", err)
	}
	p.Bootstrapped = bootstrapped != 0
	p.CreatedAt, _ = parseTime(createdAt)
	p.UpdatedAt, _ = parseTime(updatedAt)
	return &p, nil
}

func scanProjectRows(rows *sql.Rows) (*forgemodel.Project, error) {
	return scanProject(rows)
}

// Feature CRUD

// CreateFeature inserts a new Feature.
func (db *DB) CreateFeature(f *forgemodel.Feature) error {
	dependsOn, _ := json.Marshal(f.DependsOn)
	_, err := db.Exec(`
		INSERT INTO features (id, project_id, name, description, priority, status, depends_on,
			definition_of_done, technical_summary, order_index, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.ProjectID, f.Name, f.Description, string(f.Priority), string(f.Status), string(dependsOn),
		f.DefinitionOfDone, f.TechnicalSummary, f.OrderIndex, formatTime(f.CreatedAt), formatTime(f.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: create feature: %w", err)
	}
	return nil
}

// GetFeature retrieves a Feature by ID, returning (nil, nil) if absent.
func (db *DB) GetFeature(id string) (*forgemodel.Feature, error) {
	row := db.QueryRow(`
		SELECT id, project_id, name, description, priority, status, depends_on,
			definition_of_done, technical_summary, order_index, created_at, updated_at
		FROM features WHERE id = ?
	`, id)
	return scanFeature(row)
}

// UpdateFeature persists changes to an existing Feature.
func (db *DB) UpdateFeature(f *forgemodel.Feature) error {
	dependsOn, _ := json.Marshal(f.DependsOn)
	_, err := db.Exec(`
		UPDATE features SET name = ?, description = ?, priority = ?, status = ?, depends_on = ?,
			definition_of_done = ?, technical_summary = ?, order_index = ?, updated_at = ?
		WHERE id = ?
	`, f.Name, f.Description, string(f.Priority), string(f.Status), string(dependsOn),
		f.DefinitionOfDone, f.TechnicalSummary, f.OrderIndex, formatTime(f.UpdatedAt), f.ID)
	if err != nil {
		return fmt.Errorf("store: update feature: %w", err)
	}
	return nil
}

// ListFeaturesByProject lists all Features belonging to a Project,
// ordered by OrderIndex.
func (db *DB) ListFeaturesByProject(projectID string) ([]*forgemodel.Feature, error) {
	rows, err := db.Query(`
		SELECT id, project_id, name, description, priority, status, depends_on,
			definition_of_done, technical_summary, order_index, created_at, updated_at
		FROM features WHERE project_id = ? ORDER BY order_index
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list features: %w", err)
	}
	defer rows.Close()

	var features []*forgemodel.Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return features, nil
}

func scanFeature(row rowScanner) (*forgemodel.Feature, error) {
	var f forgemodel.Feature
	var createdAt, updatedAt, dependsOn string
	err := row.Scan(&f.ID, &f.ProjectID, &f.Name, &f.Description, &f.Priority, &f.Status, &dependsOn,
		&f.DefinitionOfDone, &f.TechnicalSummary, &f.OrderIndex, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan feature: %w", err)
	}
	json.Unmarshal([]byte(dependsOn), &f.DependsOn)
	f.CreatedAt, _ = parseTime(createdAt)
	f.UpdatedAt, _ = parseTime(updatedAt)
	return &f, nil
}

// Subtask CRUD

// CreateSubtask inserts a new Subtask.
func (db *DB) CreateSubtask(s *forgemodel.Subtask) error {
	_, err := db.Exec(`
		INSERT INTO subtasks (id, feature_id, intent, apply_type, apply_path, order_index, status,
			result, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.FeatureID, s.Intent, string(s.ApplyType), s.ApplyPath, s.OrderIndex, string(s.Status),
		s.Result, s.Error, formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: create subtask: %w", err)
	}
	return nil
}

// GetSubtask retrieves a Subtask by ID, returning (nil, nil) if absent.
func (db *DB) GetSubtask(id string) (*forgemodel.Subtask, error) {
	row := db.QueryRow(`
		SELECT id, feature_id, intent, apply_type, apply_path, order_index, status, result, error,
			created_at, updated_at
		FROM subtasks WHERE id = ?
	`, id)
	return scanSubtask(row)
}

// UpdateSubtask persists changes to an existing Subtask.
func (db *DB) UpdateSubtask(s *forgemodel.Subtask) error {
	_, err := db.Exec(`
		UPDATE subtasks SET intent = ?, apply_type = ?, apply_path = ?, order_index = ?, status = ?,
			result = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, s.Intent, string(s.ApplyType), s.ApplyPath, s.OrderIndex, string(s.Status), s.Result, s.Error,
		formatTime(s.UpdatedAt), s.ID)
	if err != nil {
		return fmt.Errorf("store: update subtask: %w", err)
	}
	return nil
}

// ListSubtasksByFeature lists all Subtasks belonging to a Feature,
// ordered by OrderIndex.
func (db *DB) ListSubtasksByFeature(featureID string) ([]*forgemodel.Subtask, error) {
	rows, err := db.Query(`
		SELECT id, feature_id, intent, apply_type, apply_path, order_index, status, result, error,
			created_at, updated_at
		FROM subtasks WHERE feature_id = ? ORDER BY order_index
	`, featureID)
	if err != nil {
		return nil, fmt.Errorf("store: list subtasks: %w", err)
	}
	defer rows.Close()

	var subtasks []*forgemodel.Subtask
	for rows.Next() {
		s, err := scanSubtask(rows)
		if err != nil {
			return nil, err
		}
		subtasks = append(subtasks, s)
	}
	return subtasks, nil
}

func scanSubtask(row rowScanner) (*forgemodel.Subtask, error) {
	var s forgemodel.Subtask
	var createdAt, updatedAt string
	err := row.Scan(&s.ID, &s.FeatureID, &s.Intent, &s.ApplyType, &s.ApplyPath, &s.OrderIndex, &s.Status,
		&s.Result, &s.Error, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan subtask: %w", err)
	}
	s.CreatedAt, _ = parseTime(createdAt)
	s.UpdatedAt, _ = parseTime(updatedAt)
	return &s, nil
}

// Dependency graph operations

// ValidateDependencies builds the full dependency graph for a
// project's Features and returns an error naming the cycle if one
// exists anywhere in its transitive closure.
func (db *DB) ValidateDependencies(projectID string) error {
	features, err := db.ListFeaturesByProject(projectID)
	if err != nil {
		return err
	}
	g := graph.New()
	return g.Build(features)
}

// AreDependenciesMet reports whether every Feature a given Feature
// depends on has reached a status that counts as satisfied.
func (db *DB) AreDependenciesMet(featureID string) (bool, error) {
	feature, err := db.GetFeature(featureID)
	if err != nil {
		return false, err
	}
	if feature == nil {
		return false, fmt.Errorf("store: feature %s not found", featureID)
	}
	for _, depID := range feature.DependsOn {
		dep, err := db.GetFeature(depID)
		if err != nil {
			return false, err
		}
		if dep == nil || !dep.Status.DependencySatisfied() {
			return false, nil
		}
	}
	return true, nil
}

// GetNextRunnable returns the IDs of Features in project projectID
// that are ready to run, ordered by priority then OrderIndex.
func (db *DB) GetNextRunnable(projectID string) ([]string, error) {
	features, err := db.ListFeaturesByProject(projectID)
	if err != nil {
		return nil, err
	}
	g := graph.New()
	if err := g.Build(features); err != nil {
		return nil, err
	}
	return g.Runnable(), nil
}

// Event log

// RecordEvent appends an Event to the project's append-only log.
func (db *DB) RecordEvent(e *forgemodel.Event) error {
	_, err := db.Exec(`
		INSERT INTO events (project_id, feature_id, subtask_id, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ProjectID, e.FeatureID, e.SubtaskID, string(e.Type), e.Payload, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: record event: %w", err)
	}
	return nil
}

// ListEventsByProject lists events for a project, most recent last.
func (db *DB) ListEventsByProject(projectID string, limit int) ([]*forgemodel.Event, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Query(`
		SELECT id, project_id, feature_id, subtask_id, type, payload, created_at
		FROM events WHERE project_id = ? ORDER BY id DESC LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var events []*forgemodel.Event
	for rows.Next() {
		var e forgemodel.Event
		var featureID, subtaskID sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.ProjectID, &featureID, &subtaskID, &e.Type, &e.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		if featureID.Valid {
			e.FeatureID = &featureID.String
		}
		if subtaskID.Valid {
			e.SubtaskID = &subtaskID.String
		}
		e.CreatedAt, _ = parseTime(createdAt)
		events = append([]*forgemodel.Event{&e}, events...)
	}
	return events, nil
}

// Usage accounting

// RecordModelUsageByRole upserts a usage increment for (projectID,
// role, model).
func (db *DB) RecordModelUsageByRole(projectID, role, model string, inputTokens, outputTokens int64) error {
	_, err := db.Exec(`
		INSERT INTO usage_aggregates (project_id, role, model, input_tokens, output_tokens, calls)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(project_id, role, model) DO UPDATE SET
			input_tokens = input_tokens + excluded.input_tokens,
			output_tokens = output_tokens + excluded.output_tokens,
			calls = calls + 1
	`, projectID, role, model, inputTokens, outputTokens)
	if err != nil {
		return fmt.Errorf("store: record usage: %w", err)
	}
	return nil
}

// UsageByProject returns all usage aggregates recorded for a project.
func (db *DB) UsageByProject(projectID string) ([]forgemodel.UsageAggregate, error) {
	rows, err := db.Query(`
		SELECT project_id, role, model, input_tokens, output_tokens, calls
		FROM usage_aggregates WHERE project_id = ?
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list usage: %w", err)
	}
	defer rows.Close()

	var usage []forgemodel.UsageAggregate
	for rows.Next() {
		var u forgemodel.UsageAggregate
		if err := rows.Scan(&u.ProjectID, &u.Role, &u.Model, &u.InputTokens, &u.OutputTokens, &u.Calls); err != nil {
			return nil, fmt.Errorf("store: scan usage: %w", err)
		}
		usage = append(usage, u)
	}
	return usage, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
