package jira

import (
	"strings"
	"unicode/utf8"

	"github.com/surya-s-1/captain-tool-integrations/internal/tracker"
	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

// Labels attached to every issue this service creates.
const (
	LabelAIGenerated = "AI_Generated"
	LabelProvenance  = "Created_by_Captain"
	LabelTestcase    = "Testcase"
	LabelRequirement = "Requirement"

	// ParentLabelPrefix marks a test case issue with its requirement id.
	ParentLabelPrefix = "Parent_"
)

const (
	// MaxSummaryRunes caps issue summaries below Jira's 255-character limit.
	MaxSummaryRunes = 200
	truncationMark  = "..."

	defaultPriority = "Medium"
)

// FieldMapper implements tracker.FieldMapper for Jira.
type FieldMapper struct{}

var _ tracker.FieldMapper = FieldMapper{}

func (FieldMapper) ProvenanceLabel() string { return LabelProvenance }

// EntityToTracker builds create fields for an entity.
func (FieldMapper) EntityToTracker(e *types.Entity, site tracker.Site) map[string]interface{} {
	fields := map[string]interface{}{
		"project":   map[string]interface{}{"key": site.ProjectKey},
		"summary":   Summary(e.Title),
		"issuetype": map[string]interface{}{"name": IssueType(e.Kind)},
		"priority":  map[string]interface{}{"name": Priority(e.Priority)},
		"labels":    Labels(e),
	}
	if desc := Description(e); desc != "" {
		fields["description"] = PlainTextToADF(desc)
	}
	return fields
}

// DeprecationFields rewrites the summary from the entity's current title.
func (FieldMapper) DeprecationFields(e *types.Entity) map[string]interface{} {
	return map[string]interface{}{"summary": Summary(e.Title)}
}

// Summary truncates title to MaxSummaryRunes, ending in "..." when cut.
// Titles are single-line in Jira, so newlines become spaces.
func Summary(title string) string {
	title = strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
	if utf8.RuneCountInString(title) <= MaxSummaryRunes {
		return title
	}
	runes := []rune(title)
	return string(runes[:MaxSummaryRunes-utf8.RuneCountInString(truncationMark)]) + truncationMark
}

// Description appends the acceptance criteria section when present.
func Description(e *types.Entity) string {
	desc := e.Description
	if e.AcceptanceCriteria != "" {
		desc += "\n\n*Acceptance Criteria:*\n" + e.AcceptanceCriteria
	}
	return desc
}

// IssueType maps an entity kind to a Jira issue type name.
func IssueType(kind types.EntityKind) string {
	if kind == types.KindRequirement {
		return "Story"
	}
	return "Task"
}

// Priority returns the Jira priority name, defaulting to Medium.
func Priority(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "highest", "critical":
		return "Highest"
	case "high":
		return "High"
	case "medium", "":
		return defaultPriority
	case "low":
		return "Low"
	case "lowest":
		return "Lowest"
	}
	return strings.TrimSpace(p)
}

// Labels returns the provenance labels plus the entity id.
func Labels(e *types.Entity) []string {
	kindLabel := LabelTestcase
	if e.Kind == types.KindRequirement {
		kindLabel = LabelRequirement
	}
	labels := []string{LabelAIGenerated, LabelProvenance, kindLabel, e.ID}
	if e.Kind == types.KindTestcase && e.RequirementID != "" {
		labels = append(labels, ParentLabelPrefix+e.RequirementID)
	}
	return labels
}
