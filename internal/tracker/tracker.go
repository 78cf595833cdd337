package tracker

import (
	"context"

	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

// IssueTracker is the interface the sync engine drives. The Jira adapter in
// internal/jira implements it; tests substitute in-memory fakes.
//
// Every call is made on behalf of a user (uid), whose stored credentials
// authenticate the request, against a Site resolved from the project record.
type IssueTracker interface {
	// Name returns the lowercase identifier for this tracker (e.g., "jira").
	Name() string

	// CreateIssue creates one issue and returns its key and URL.
	CreateIssue(ctx context.Context, uid string, site Site, fields map[string]interface{}) (*TrackerIssue, error)

	// CreateBulkIssues creates many issues in one call. Partial failure is
	// not an error: the created issues are returned and the failures logged.
	// Callers must reconcile by label afterwards rather than trust the
	// response ordering.
	CreateBulkIssues(ctx context.Context, uid string, site Site, issues []map[string]interface{}) ([]TrackerIssue, error)

	// UpdateIssue overwrites the given fields of an existing issue.
	UpdateIssue(ctx context.Context, uid string, site Site, key string, fields map[string]interface{}) error

	// SearchIssuesByLabel returns every issue in the site's project that
	// carries label, following pagination to the end.
	SearchIssuesByLabel(ctx context.Context, uid string, site Site, label string) ([]TrackerIssue, error)

	// FieldMapper returns the field mapper for this tracker.
	FieldMapper() FieldMapper
}

// FieldMapper converts entities into tracker payloads.
type FieldMapper interface {
	// EntityToTracker builds create fields for an entity, including the
	// entity id and provenance labels used for reconciliation.
	EntityToTracker(entity *types.Entity, site Site) map[string]interface{}

	// DeprecationFields builds the update applied to an issue whose entity
	// was deprecated.
	DeprecationFields(entity *types.Entity) map[string]interface{}

	// ProvenanceLabel is the label carried by every issue this service creates.
	ProvenanceLabel() string
}
