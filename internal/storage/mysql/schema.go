package mysql

import "github.com/surya-s-1/captain-tool-integrations/internal/types"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		project_id VARCHAR(255) NOT NULL PRIMARY KEY,
		tool VARCHAR(64) NOT NULL DEFAULT '',
		tool_site_id VARCHAR(255) NOT NULL DEFAULT '',
		tool_site_domain VARCHAR(512) NOT NULL DEFAULT '',
		tool_project_key VARCHAR(255) NOT NULL DEFAULT '',
		tool_project_name VARCHAR(512) NOT NULL DEFAULT '',
		latest_version VARCHAR(255) NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS versions (
		project_id VARCHAR(255) NOT NULL,
		version VARCHAR(255) NOT NULL,
		status VARCHAR(128) NOT NULL DEFAULT '',
		files TEXT,
		testcases_confirmed_by VARCHAR(255) NOT NULL DEFAULT '',
		requirements_confirmed_by VARCHAR(255) NOT NULL DEFAULT '',
		PRIMARY KEY (project_id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS entities (
		project_id VARCHAR(255) NOT NULL,
		version VARCHAR(255) NOT NULL,
		kind VARCHAR(32) NOT NULL,
		entity_id VARCHAR(255) NOT NULL,
		title TEXT,
		description TEXT,
		acceptance_criteria TEXT,
		priority VARCHAR(64) NOT NULL DEFAULT '',
		change_analysis_status VARCHAR(64) NOT NULL DEFAULT '',
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		tool_created VARCHAR(32) NOT NULL DEFAULT '',
		tool_issue_key VARCHAR(255) NOT NULL DEFAULT '',
		tool_issue_link VARCHAR(1024) NOT NULL DEFAULT '',
		requirement_id VARCHAR(255) NOT NULL DEFAULT '',
		datasets TEXT,
		PRIMARY KEY (project_id, version, kind, entity_id)
	)`,
	`CREATE TABLE IF NOT EXISTS archive_jobs (
		job_id VARCHAR(64) NOT NULL PRIMARY KEY,
		project_id VARCHAR(255) NOT NULL,
		version VARCHAR(255) NOT NULL,
		target VARCHAR(512) NOT NULL,
		target_kind VARCHAR(32) NOT NULL,
		uid VARCHAR(255) NOT NULL DEFAULT '',
		status VARCHAR(32) NOT NULL,
		result_url VARCHAR(1024) NOT NULL DEFAULT '',
		file_name VARCHAR(512) NOT NULL DEFAULT '',
		error TEXT,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS credential_index (
		tool VARCHAR(64) NOT NULL,
		uid VARCHAR(255) NOT NULL,
		secret_path VARCHAR(1024) NOT NULL,
		PRIMARY KEY (tool, uid)
	)`,
	`CREATE TABLE IF NOT EXISTS auth_states (
		tool VARCHAR(64) NOT NULL,
		uid VARCHAR(255) NOT NULL,
		state VARCHAR(512) NOT NULL,
		PRIMARY KEY (tool, uid)
	)`,
	`CREATE TABLE IF NOT EXISTS secret_versions (
		name VARCHAR(255) NOT NULL,
		version INT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (name, version)
	)`,
}

// Column allowlists for partial updates, keyed by record field name.
var (
	entityColumns = map[string]string{
		types.FieldToolCreated:   "tool_created",
		types.FieldToolIssueKey:  "tool_issue_key",
		types.FieldToolIssueLink: "tool_issue_link",
		types.FieldTitle:         "title",
		types.FieldDeleted:       "deleted",
		types.FieldChangeStatus:  "change_analysis_status",
	}
	versionColumns = map[string]string{
		types.FieldVersionStatus:           "status",
		types.FieldTestcasesConfirmedBy:    "testcases_confirmed_by",
		types.FieldRequirementsConfirmedBy: "requirements_confirmed_by",
	}
	jobColumns = map[string]string{
		types.FieldJobResultURL: "result_url",
		types.FieldJobFileName:  "file_name",
		types.FieldJobError:     "error",
	}
)
