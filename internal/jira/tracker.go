package jira

import (
	"context"
	"fmt"

	"github.com/surya-s-1/captain-tool-integrations/internal/tracker"
)

// Tracker implements tracker.IssueTracker for Jira Cloud.
type Tracker struct {
	client *Client
	mapper FieldMapper
}

var _ tracker.IssueTracker = (*Tracker)(nil)

// NewTracker adapts client to tracker.IssueTracker.
func NewTracker(client *Client) *Tracker {
	return &Tracker{client: client}
}

func (t *Tracker) Name() string { return ToolName }

func (t *Tracker) FieldMapper() tracker.FieldMapper { return t.mapper }

func (t *Tracker) CreateIssue(ctx context.Context, uid string, site tracker.Site, fields map[string]interface{}) (*tracker.TrackerIssue, error) {
	created, err := t.client.CreateIssue(ctx, uid, site.CloudID, fields)
	if err != nil {
		return nil, err
	}
	return &tracker.TrackerIssue{
		Key:    created.Key,
		URL:    IssueURL(site.Domain, created.Key),
		Labels: labelsOf(fields),
	}, nil
}

func (t *Tracker) CreateBulkIssues(ctx context.Context, uid string, site tracker.Site, issues []map[string]interface{}) ([]tracker.TrackerIssue, error) {
	result, err := t.client.CreateBulkIssues(ctx, uid, site.CloudID, issues)
	if err != nil {
		return nil, err
	}
	if len(result.Issues) == 0 && len(result.Errors) > 0 {
		return nil, fmt.Errorf("bulk create: all %d issues rejected, first: %s", len(issues), result.Errors[0])
	}
	out := make([]tracker.TrackerIssue, 0, len(result.Issues))
	for _, created := range result.Issues {
		out = append(out, tracker.TrackerIssue{Key: created.Key, URL: IssueURL(site.Domain, created.Key)})
	}
	return out, nil
}

func (t *Tracker) UpdateIssue(ctx context.Context, uid string, site tracker.Site, key string, fields map[string]interface{}) error {
	return t.client.UpdateIssue(ctx, uid, site.CloudID, key, fields)
}

func (t *Tracker) SearchIssuesByLabel(ctx context.Context, uid string, site tracker.Site, label string) ([]tracker.TrackerIssue, error) {
	return t.client.SearchIssuesByLabel(ctx, uid, site.Domain, site.CloudID, site.ProjectKey, label)
}

func labelsOf(fields map[string]interface{}) []string {
	labels, _ := fields["labels"].([]string)
	return append([]string(nil), labels...)
}
