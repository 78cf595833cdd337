// Package tracker reconciles internal entities with issues in an external
// tracker and drives the phased batch sync of a project version.
//
// Correlation is by label only: every issue created for an entity carries
// the entity id as a label, and after each create the engine searches the
// tracker by label and records what it finds. Bulk-create responses are
// never trusted for the mapping.
package tracker

import (
	"strings"

	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

// TrackerIssue is an issue as seen through search: enough to correlate it
// back to an entity.
type TrackerIssue struct {
	Key    string   `json:"key"`
	URL    string   `json:"url"`
	Labels []string `json:"labels"`
}

// HasLabel reports exact label membership. A label containing the wanted
// string as a substring does not match.
func (i *TrackerIssue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Site identifies the tracker site and project a version syncs into.
type Site struct {
	CloudID    string
	Domain     string
	ProjectKey string
}

// SiteFor builds a Site from a project's tool configuration.
func SiteFor(p *types.Project) Site {
	return Site{
		CloudID:    p.ToolSiteID,
		Domain:     p.ToolSiteDomain,
		ProjectKey: p.ToolProjectKey,
	}
}

// Scope names the entity collection an operation works on.
type Scope struct {
	ProjectID string
	Version   string
	Kind      types.EntityKind
}

func (s Scope) String() string {
	return s.ProjectID + "/" + s.Version + "/" + string(s.Kind)
}

// Sync status values written to the version record. Requirement syncs
// infix "REQ_" after "ALM_".
const (
	phaseStart    = "START_ALM_%sISSUE_CREATION"
	phaseCreate   = "CREATE_ALM_%sNEW_ISSUES"
	phaseUpdate   = "UPDATE_ALM_%sDEP_ISSUES"
	phaseComplete = "COMPLETE_ALM_%sISSUE_CREATION"
	phaseError    = "ERR_ALM_%sISSUE_CREATION"
)

// Phase is a sync status value.
type Phase string

// PhasesFor returns the ordered status values for kind: start, create,
// update, complete, error.
func PhasesFor(kind types.EntityKind) (start, create, update, complete, failed Phase) {
	infix := ""
	if kind == types.KindRequirement {
		infix = "REQ_"
	}
	f := func(pattern string) Phase { return Phase(strings.Replace(pattern, "%s", infix, 1)) }
	return f(phaseStart), f(phaseCreate), f(phaseUpdate), f(phaseComplete), f(phaseError)
}
