package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

func (s *Store) GetProject(ctx context.Context, projectID string) (*types.Project, error) {
	var p types.Project
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(&p.ID, &p.Tool, &p.ToolSiteID, &p.ToolSiteDomain, &p.ToolProjectKey, &p.ToolProjectName, &p.LatestVersion)
	}, `SELECT project_id, tool, tool_site_id, tool_site_domain, tool_project_key, tool_project_name, latest_version
		FROM projects WHERE project_id = ?`, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", projectID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}
	return &p, nil
}

// CreateProject inserts the project and its first version in one
// transaction.
func (s *Store) CreateProject(ctx context.Context, p *types.Project, v *types.Version) error {
	files, err := json.Marshal(v.Files)
	if err != nil {
		return fmt.Errorf("encode files: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create project %s: %w", p.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO projects
		(project_id, tool, tool_site_id, tool_site_domain, tool_project_key, tool_project_name, latest_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Tool, p.ToolSiteID, p.ToolSiteDomain, p.ToolProjectKey, p.ToolProjectName, v.Version)
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry {
		return fmt.Errorf("project %s: %w", p.ID, storage.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create project %s: %w", p.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO versions
		(project_id, version, status, files, testcases_confirmed_by, requirements_confirmed_by)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, v.Version, v.Status, string(files), v.TestcasesConfirmedBy, v.RequirementsConfirmedBy); err != nil {
		return fmt.Errorf("create version %s/%s: %w", p.ID, v.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create project %s: commit: %w", p.ID, err)
	}
	return nil
}

// PutProject inserts or replaces a project.
func (s *Store) PutProject(ctx context.Context, p *types.Project) error {
	_, err := s.execContext(ctx, `REPLACE INTO projects
		(project_id, tool, tool_site_id, tool_site_domain, tool_project_key, tool_project_name, latest_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Tool, p.ToolSiteID, p.ToolSiteDomain, p.ToolProjectKey, p.ToolProjectName, p.LatestVersion)
	if err != nil {
		return fmt.Errorf("put project %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) GetVersion(ctx context.Context, projectID, version string) (*types.Version, error) {
	var (
		v     types.Version
		files sql.NullString
	)
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(&v.ProjectID, &v.Version, &v.Status, &files, &v.TestcasesConfirmedBy, &v.RequirementsConfirmedBy)
	}, `SELECT project_id, version, status, files, testcases_confirmed_by, requirements_confirmed_by
		FROM versions WHERE project_id = ? AND version = ?`, projectID, version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %s/%s: %w", projectID, version, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get version %s/%s: %w", projectID, version, err)
	}
	if files.Valid && files.String != "" {
		if err := json.Unmarshal([]byte(files.String), &v.Files); err != nil {
			return nil, fmt.Errorf("decode files of version %s/%s: %w", projectID, version, err)
		}
	}
	return &v, nil
}

// PutVersion inserts or replaces a version.
func (s *Store) PutVersion(ctx context.Context, v *types.Version) error {
	files, err := json.Marshal(v.Files)
	if err != nil {
		return fmt.Errorf("encode files: %w", err)
	}
	_, err = s.execContext(ctx, `REPLACE INTO versions
		(project_id, version, status, files, testcases_confirmed_by, requirements_confirmed_by)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.ProjectID, v.Version, v.Status, string(files), v.TestcasesConfirmedBy, v.RequirementsConfirmedBy)
	if err != nil {
		return fmt.Errorf("put version %s/%s: %w", v.ProjectID, v.Version, err)
	}
	return nil
}

func (s *Store) UpdateVersion(ctx context.Context, projectID, version string, updates map[string]any) error {
	set, args, err := buildSet("version", updates, versionColumns)
	if err != nil {
		return err
	}
	args = append(args, projectID, version)
	res, err := s.execContext(ctx, "UPDATE versions SET "+set+" WHERE project_id = ? AND version = ?", args...)
	if err != nil {
		return fmt.Errorf("update version %s/%s: %w", projectID, version, err)
	}
	return s.requireRow(ctx, res, "SELECT 1 FROM versions WHERE project_id = ? AND version = ?",
		fmt.Sprintf("version %s/%s", projectID, version), projectID, version)
}

const entityColumnsSQL = `project_id, version, kind, entity_id, title, description, acceptance_criteria,
	priority, change_analysis_status, deleted, tool_created, tool_issue_key, tool_issue_link,
	requirement_id, datasets`

func scanEntity(scan func(dest ...any) error) (*types.Entity, error) {
	var (
		e                                     types.Entity
		title, description, criteria, dataset sql.NullString
		kind, change, created                 string
	)
	if err := scan(&e.ProjectID, &e.Version, &kind, &e.ID, &title, &description, &criteria,
		&e.Priority, &change, &e.Deleted, &created, &e.ToolIssueKey, &e.ToolIssueLink,
		&e.RequirementID, &dataset); err != nil {
		return nil, err
	}
	e.Kind = types.EntityKind(kind)
	e.ChangeAnalysisStatus = types.ChangeStatus(change)
	e.ToolCreated = types.ToolCreated(created)
	e.Title = title.String
	e.Description = description.String
	e.AcceptanceCriteria = criteria.String
	if dataset.Valid && dataset.String != "" {
		if err := json.Unmarshal([]byte(dataset.String), &e.Datasets); err != nil {
			return nil, fmt.Errorf("decode datasets of %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func (s *Store) GetEntities(ctx context.Context, projectID, version string, kind types.EntityKind) ([]*types.Entity, error) {
	rows, err := s.queryContext(ctx, "SELECT "+entityColumnsSQL+` FROM entities
		WHERE project_id = ? AND version = ? AND kind = ? ORDER BY entity_id`, projectID, version, string(kind))
	if err != nil {
		return nil, fmt.Errorf("get %s of %s/%s: %w", kind, projectID, version, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Entity
	for rows.Next() {
		e, err := scanEntity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetEntity(ctx context.Context, projectID, version string, kind types.EntityKind, id string) (*types.Entity, error) {
	var e *types.Entity
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		var scanErr error
		e, scanErr = scanEntity(row.Scan)
		return scanErr
	}, "SELECT "+entityColumnsSQL+` FROM entities
		WHERE project_id = ? AND version = ? AND kind = ? AND entity_id = ?`, projectID, version, string(kind), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return e, nil
}

// PutEntity inserts or replaces an entity.
func (s *Store) PutEntity(ctx context.Context, e *types.Entity) error {
	datasets, err := json.Marshal(e.Datasets)
	if err != nil {
		return fmt.Errorf("encode datasets: %w", err)
	}
	_, err = s.execContext(ctx, "REPLACE INTO entities ("+entityColumnsSQL+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ProjectID, e.Version, string(e.Kind), e.ID, e.Title, e.Description, e.AcceptanceCriteria,
		e.Priority, string(e.ChangeAnalysisStatus), e.Deleted, string(e.ToolCreated), e.ToolIssueKey, e.ToolIssueLink,
		e.RequirementID, string(datasets))
	if err != nil {
		return fmt.Errorf("put %s %s: %w", e.Kind, e.ID, err)
	}
	return nil
}

func (s *Store) UpdateEntity(ctx context.Context, projectID, version string, kind types.EntityKind, id string, updates map[string]any) error {
	set, args, err := buildSet("entity", updates, entityColumns)
	if err != nil {
		return err
	}
	args = append(args, projectID, version, string(kind), id)
	res, err := s.execContext(ctx, "UPDATE entities SET "+set+
		" WHERE project_id = ? AND version = ? AND kind = ? AND entity_id = ?", args...)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", kind, id, err)
	}
	return s.requireRow(ctx, res,
		"SELECT 1 FROM entities WHERE project_id = ? AND version = ? AND kind = ? AND entity_id = ?",
		fmt.Sprintf("%s %s", kind, id), projectID, version, string(kind), id)
}

// requireRow maps a zero-row UPDATE to ErrNotFound. MySQL reports zero
// affected rows when values are unchanged, so existence is re-checked.
func (s *Store) requireRow(ctx context.Context, res sql.Result, existsQuery, what string, args ...any) error {
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	var one int
	err := s.queryRowContext(ctx, func(row *sql.Row) error { return row.Scan(&one) }, existsQuery, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	return err
}
