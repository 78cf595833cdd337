package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
	"github.com/surya-s-1/captain-tool-integrations/internal/telemetry"
	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

// ErrProjectNotConfigured is returned when a project has no tracker site or
// project key.
var ErrProjectNotConfigured = errors.New("project is not configured for issue creation")

// Reconciler correlates entities with tracker issues by label and records
// the outcome on each entity.
type Reconciler struct {
	Tracker IssueTracker
	Store   storage.DocumentStore
	Logger  *slog.Logger
}

// NewReconciler creates a reconciler writing results to store.
func NewReconciler(tracker IssueTracker, store storage.DocumentStore) *Reconciler {
	return &Reconciler{Tracker: tracker, Store: store}
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Reconcile searches the tracker for issues carrying the ids as labels and
// writes the result to every entity in ids. With a single id the search is
// by that id's label; otherwise by the provenance label, intersected here.
//
// Every id ends up either matched (SUCCESS, with key and link) or unmatched
// (FAILED). If the search itself fails no entity is touched.
func (r *Reconciler) Reconcile(ctx context.Context, uid string, scope Scope, ids []string) (*ReconcileResult, error) {
	project, err := r.Store.GetProject(ctx, scope.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", scope.ProjectID, err)
	}
	if !project.TrackerConfigured() {
		return nil, fmt.Errorf("project %s: %w", scope.ProjectID, ErrProjectNotConfigured)
	}
	return r.reconcileAt(ctx, uid, SiteFor(project), scope, ids)
}

func (r *Reconciler) reconcileAt(ctx context.Context, uid string, site Site, scope Scope, ids []string) (result *ReconcileResult, err error) {
	result = &ReconcileResult{Matched: make(map[string]TrackerIssue)}
	if len(ids) == 0 {
		return result, nil
	}

	ctx, span := telemetry.Tracer("tracker").Start(ctx, "tracker.reconcile",
		trace.WithAttributes(
			attribute.String("captain.scope", scope.String()),
			attribute.Int("captain.ids", len(ids)),
		))
	defer func() { telemetry.EndSpan(span, err) }()

	label := r.Tracker.FieldMapper().ProvenanceLabel()
	if len(ids) == 1 {
		label = ids[0]
	}
	issues, err := r.Tracker.SearchIssuesByLabel(ctx, uid, site, label)
	if err != nil {
		return nil, fmt.Errorf("search issues labelled %q: %w", label, err)
	}

	matched, ambiguous := matchByLabel(issues, ids)
	result.Matched = matched
	result.Ambiguous = ambiguous
	for _, id := range ambiguous {
		r.logger().Warn("multiple issues carry entity label; keeping first",
			"scope", scope.String(), "id", id, "issue", matched[id].Key)
	}

	var errs []error
	for _, id := range ids {
		updates := map[string]interface{}{types.FieldToolCreated: types.ToolCreatedFailed}
		if issue, ok := matched[id]; ok {
			updates = map[string]interface{}{
				types.FieldToolIssueKey:  issue.Key,
				types.FieldToolIssueLink: issue.URL,
				types.FieldToolCreated:   types.ToolCreatedSuccess,
			}
		} else {
			result.Unmatched = append(result.Unmatched, id)
		}
		if err := r.Store.UpdateEntity(ctx, scope.ProjectID, scope.Version, scope.Kind, id, updates); err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", id, err))
		}
	}

	telemetry.CountReconciled(ctx, string(scope.Kind), len(matched), len(result.Unmatched))
	r.logger().Info("reconciled", "scope", scope.String(), "label", label,
		"found", len(issues), "matched", len(matched), "unmatched", len(result.Unmatched))
	return result, errors.Join(errs...)
}

// matchByLabel maps each wanted id to the first issue, in search order,
// carrying it as an exact label. Ids matched by more than one issue are
// returned sorted as ambiguous.
func matchByLabel(issues []TrackerIssue, ids []string) (map[string]TrackerIssue, []string) {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	matched := make(map[string]TrackerIssue)
	dupes := make(map[string]bool)
	for _, issue := range issues {
		seen := make(map[string]bool, len(issue.Labels))
		for _, label := range issue.Labels {
			if !wanted[label] || seen[label] {
				continue
			}
			seen[label] = true
			if _, ok := matched[label]; ok {
				dupes[label] = true
				continue
			}
			matched[label] = issue
		}
	}

	ambiguous := make([]string, 0, len(dupes))
	for id := range dupes {
		ambiguous = append(ambiguous, id)
	}
	sort.Strings(ambiguous)
	return matched, ambiguous
}
