// Package types defines the core records shared by the sync and archive engines.
package types

import (
	"fmt"
	"strings"
)

// EntityKind names a collection of internal records that can be synced to a tracker.
type EntityKind string

const (
	KindRequirement EntityKind = "requirements"
	KindTestcase    EntityKind = "testcases"
)

// IsValid reports whether k is a known entity kind.
func (k EntityKind) IsValid() bool {
	switch k {
	case KindRequirement, KindTestcase:
		return true
	}
	return false
}

// ParseEntityKind accepts the plural collection name as well as the
// singular forms used in URLs and CLI flags.
func ParseEntityKind(s string) (EntityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "requirements", "requirement", "req":
		return KindRequirement, nil
	case "testcases", "testcase", "tc", "":
		return KindTestcase, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// ChangeStatus is the outcome of change analysis between two versions.
type ChangeStatus string

const (
	ChangeNew        ChangeStatus = "NEW"
	ChangeDeprecated ChangeStatus = "DEPRECATED"
	ChangeUnchanged  ChangeStatus = "UNCHANGED"
	ChangeModified   ChangeStatus = "MODIFIED"
)

// ToolCreated records the terminal outcome of pushing an entity to the tracker.
// The zero value means the entity has never been reconciled.
type ToolCreated string

const (
	ToolCreatedSuccess ToolCreated = "SUCCESS"
	ToolCreatedFailed  ToolCreated = "FAILED"
)

// Entity is a requirement or test case record within a project version.
type Entity struct {
	ID                   string       `json:"entity_id"`
	ProjectID            string       `json:"project_id"`
	Version              string       `json:"version"`
	Kind                 EntityKind   `json:"kind"`
	Title                string       `json:"title"`
	Description          string       `json:"description,omitempty"`
	AcceptanceCriteria   string       `json:"acceptance_criteria,omitempty"`
	Priority             string       `json:"priority,omitempty"`
	ChangeAnalysisStatus ChangeStatus `json:"change_analysis_status,omitempty"`
	Deleted              bool         `json:"deleted,omitempty"`
	ToolCreated          ToolCreated  `json:"toolCreated,omitempty"`
	ToolIssueKey         string       `json:"toolIssueKey,omitempty"`
	ToolIssueLink        string       `json:"toolIssueLink,omitempty"`

	// Test case only.
	RequirementID string   `json:"requirement_id,omitempty"`
	Datasets      []string `json:"datasets,omitempty"`
}

// Updatable entity fields. Stores reject any other key.
const (
	FieldToolCreated   = "toolCreated"
	FieldToolIssueKey  = "toolIssueKey"
	FieldToolIssueLink = "toolIssueLink"
	FieldTitle         = "title"
	FieldDeleted       = "deleted"
	FieldChangeStatus  = "change_analysis_status"
)

// NeedsCreation reports whether the entity is a NEW, live record that has not
// yet been confirmed in the tracker.
func (e *Entity) NeedsCreation() bool {
	return !e.Deleted && e.ChangeAnalysisStatus == ChangeNew && e.ToolCreated != ToolCreatedSuccess
}

// NeedsDeprecation reports whether the entity's tracker issue should be resynced
// as deprecated.
func (e *Entity) NeedsDeprecation() bool {
	return !e.Deleted && e.ChangeAnalysisStatus == ChangeDeprecated
}

// Project holds the tracker binding for a project.
type Project struct {
	ID              string `json:"project_id"`
	Tool            string `json:"tool,omitempty"`
	ToolSiteID      string `json:"toolSiteId,omitempty"`
	ToolSiteDomain  string `json:"toolSiteDomain,omitempty"`
	ToolProjectKey  string `json:"toolProjectKey,omitempty"`
	ToolProjectName string `json:"toolProjectName,omitempty"`
	LatestVersion   string `json:"latest_version,omitempty"`
}

// TrackerConfigured reports whether the project has everything needed to
// create and search issues.
func (p *Project) TrackerConfigured() bool {
	return p != nil && p.ToolSiteID != "" && p.ToolSiteDomain != "" && p.ToolProjectKey != ""
}

// VersionFile is a document uploaded to a project version.
type VersionFile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Version is a snapshot of a project's requirements and test cases.
type Version struct {
	ProjectID string        `json:"project_id"`
	Version   string        `json:"version"`
	Status    string        `json:"status,omitempty"`
	Files     []VersionFile `json:"files,omitempty"`

	TestcasesConfirmedBy    string `json:"testcases_confirmed_by,omitempty"`
	RequirementsConfirmedBy string `json:"requirements_confirmed_by,omitempty"`
}

// VersionStatusCreated is the status of a project's first version.
const VersionStatusCreated = "CREATED"

// Updatable version fields.
const (
	FieldVersionStatus           = "status"
	FieldTestcasesConfirmedBy    = "testcases_confirmed_by"
	FieldRequirementsConfirmedBy = "requirements_confirmed_by"
)

// ConfirmedByField returns the version field recording who confirmed a sync
// of the given kind.
func ConfirmedByField(kind EntityKind) string {
	if kind == KindRequirement {
		return FieldRequirementsConfirmedBy
	}
	return FieldTestcasesConfirmedBy
}
