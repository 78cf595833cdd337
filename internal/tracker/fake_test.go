package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

const testProvenance = "Created_by_Test"

type fakeMapper struct{}

func (fakeMapper) ProvenanceLabel() string { return testProvenance }

func (fakeMapper) EntityToTracker(e *types.Entity, site Site) map[string]interface{} {
	return map[string]interface{}{
		"project": site.ProjectKey,
		"summary": e.Title,
		"labels":  []string{testProvenance, e.ID},
	}
}

func (fakeMapper) DeprecationFields(e *types.Entity) map[string]interface{} {
	return map[string]interface{}{"summary": e.Title}
}

// fakeTracker is an in-memory IssueTracker. Search returns issues in
// creation order.
type fakeTracker struct {
	mu      sync.Mutex
	issues  []TrackerIssue
	updates map[string]map[string]interface{}
	next    int

	bulkCalls   int
	searchCalls int
	labels      []string

	bulkErr    error
	failBulkAt int // 1-based bulk call to fail; 0 disables
	searchErr  error
	updateErr  map[string]error
	dropLabels bool
	inFlight   int
	maxFlight  int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{updates: make(map[string]map[string]interface{}), updateErr: make(map[string]error)}
}

func (f *fakeTracker) Name() string { return "fake" }

func (f *fakeTracker) FieldMapper() FieldMapper { return fakeMapper{} }

func (f *fakeTracker) add(site Site, fields map[string]interface{}) TrackerIssue {
	f.next++
	key := fmt.Sprintf("%s-%d", site.ProjectKey, f.next)
	issue := TrackerIssue{Key: key, URL: "https://" + site.Domain + "/browse/" + key}
	if !f.dropLabels {
		issue.Labels, _ = fields["labels"].([]string)
	}
	f.issues = append(f.issues, issue)
	return issue
}

func (f *fakeTracker) CreateIssue(_ context.Context, _ string, site Site, fields map[string]interface{}) (*TrackerIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bulkErr != nil {
		return nil, f.bulkErr
	}
	issue := f.add(site, fields)
	return &issue, nil
}

func (f *fakeTracker) CreateBulkIssues(_ context.Context, _ string, site Site, issues []map[string]interface{}) ([]TrackerIssue, error) {
	f.mu.Lock()
	f.bulkCalls++
	call := f.bulkCalls
	f.inFlight++
	f.maxFlight = max(f.maxFlight, f.inFlight)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bulkErr != nil || call == f.failBulkAt {
		return nil, errors.New("bulk create rejected")
	}
	out := make([]TrackerIssue, 0, len(issues))
	for _, fields := range issues {
		out = append(out, f.add(site, fields))
	}
	return out, nil
}

func (f *fakeTracker) UpdateIssue(_ context.Context, _ string, _ Site, key string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.updateErr[key]; err != nil {
		return err
	}
	f.updates[key] = fields
	return nil
}

func (f *fakeTracker) SearchIssuesByLabel(_ context.Context, _ string, _ Site, label string) ([]TrackerIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	f.labels = append(f.labels, label)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []TrackerIssue
	for _, issue := range f.issues {
		if issue.HasLabel(label) {
			out = append(out, issue)
		}
	}
	return out, nil
}
