package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/surya-s-1/captain-tool-integrations/internal/tracker"
)

// CreatedIssue is the response to a create call.
type CreatedIssue struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

// BulkError describes one element of a bulk create that Jira rejected.
type BulkError struct {
	Status              int `json:"status"`
	FailedElementNumber int `json:"failedElementNumber"`
	ElementErrors       struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
	} `json:"elementErrors"`
}

func (e BulkError) String() string {
	parts := append([]string(nil), e.ElementErrors.ErrorMessages...)
	for field, msg := range e.ElementErrors.Errors {
		parts = append(parts, field+": "+msg)
	}
	return fmt.Sprintf("element %d (status %d): %s", e.FailedElementNumber, e.Status, strings.Join(parts, "; "))
}

// BulkCreateResult is the response to issue/bulk.
type BulkCreateResult struct {
	Issues []CreatedIssue `json:"issues"`
	Errors []BulkError    `json:"errors"`
}

// CreateIssue creates a single issue. fields must include project, summary
// and issuetype.
func (c *Client) CreateIssue(ctx context.Context, uid, cloudID string, fields map[string]interface{}) (*CreatedIssue, error) {
	data, err := json.Marshal(map[string]interface{}{"fields": fields})
	if err != nil {
		return nil, fmt.Errorf("marshal create request: %w", err)
	}
	body, err := c.do(ctx, uid, http.MethodPost, c.siteURL(cloudID, "issue"), data)
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	var created CreatedIssue
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("parse create response: %w", err)
	}
	return &created, nil
}

// CreateBulkIssues creates up to 50 issues in one call. Element failures are
// logged and returned in the result; they are not an error.
func (c *Client) CreateBulkIssues(ctx context.Context, uid, cloudID string, issues []map[string]interface{}) (*BulkCreateResult, error) {
	updates := make([]map[string]interface{}, 0, len(issues))
	for _, fields := range issues {
		updates = append(updates, map[string]interface{}{"fields": fields})
	}
	data, err := json.Marshal(map[string]interface{}{"issueUpdates": updates})
	if err != nil {
		return nil, fmt.Errorf("marshal bulk create request: %w", err)
	}
	body, err := c.do(ctx, uid, http.MethodPost, c.siteURL(cloudID, "issue/bulk"), data)
	if err != nil {
		return nil, fmt.Errorf("bulk create issues: %w", err)
	}
	var result BulkCreateResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse bulk create response: %w", err)
	}
	for _, e := range result.Errors {
		c.logger().Warn("jira bulk create element failed", "error", e.String())
	}
	return &result, nil
}

// UpdateIssue updates an existing issue by key.
func (c *Client) UpdateIssue(ctx context.Context, uid, cloudID, key string, fields map[string]interface{}) error {
	data, err := json.Marshal(map[string]interface{}{"fields": fields})
	if err != nil {
		return fmt.Errorf("marshal update request: %w", err)
	}
	if _, err := c.do(ctx, uid, http.MethodPut, c.siteURL(cloudID, "issue/"+url.PathEscape(key)), data); err != nil {
		return fmt.Errorf("update issue %s: %w", key, err)
	}
	return nil
}

type searchRequest struct {
	JQL           string   `json:"jql"`
	Fields        []string `json:"fields"`
	MaxResults    int      `json:"maxResults"`
	NextPageToken string   `json:"nextPageToken,omitempty"`
}

type searchResponse struct {
	Issues []struct {
		Key    string `json:"key"`
		Fields struct {
			Labels []string `json:"labels"`
		} `json:"fields"`
	} `json:"issues"`
	NextPageToken string `json:"nextPageToken"`
	IsLast        bool   `json:"isLast"`
}

// SearchIssues runs jql against search/jql and returns every matching
// issue, following nextPageToken until isLast. Pagination also stops on an
// empty or repeated token and after MaxSearchPages pages.
func (c *Client) SearchIssues(ctx context.Context, uid, domain, cloudID, jql string, pageSize int) ([]tracker.TrackerIssue, error) {
	if pageSize <= 0 {
		pageSize = c.PageSize
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	maxPages := c.MaxSearchPages
	if maxPages <= 0 {
		maxPages = DefaultMaxSearchPages
	}

	var (
		all   []tracker.TrackerIssue
		token string
		seen  = make(map[string]bool)
	)
	for page := 1; ; page++ {
		data, err := json.Marshal(searchRequest{
			JQL:           jql,
			Fields:        []string{"labels"},
			MaxResults:    pageSize,
			NextPageToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal search request: %w", err)
		}
		body, err := c.do(ctx, uid, http.MethodPost, c.siteURL(cloudID, "search/jql"), data)
		if err != nil {
			return nil, fmt.Errorf("search issues: %w", err)
		}
		var result searchResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("parse search response: %w", err)
		}
		for _, issue := range result.Issues {
			all = append(all, tracker.TrackerIssue{
				Key:    issue.Key,
				URL:    IssueURL(domain, issue.Key),
				Labels: issue.Fields.Labels,
			})
		}

		if result.IsLast || result.NextPageToken == "" {
			return all, nil
		}
		if seen[result.NextPageToken] {
			c.logger().Warn("jira search returned a repeated page token, stopping", "jql", jql, "page", page)
			return all, nil
		}
		if page >= maxPages {
			c.logger().Warn("jira search page limit reached, stopping", "jql", jql, "pages", page)
			return all, nil
		}
		seen[result.NextPageToken] = true
		token = result.NextPageToken
	}
}

// LabelJQL builds a JQL query for issues in projectKey carrying label.
// An empty projectKey searches every visible project.
func LabelJQL(projectKey, label string) string {
	q := fmt.Sprintf("labels = %s", quoteJQL(label))
	if projectKey != "" {
		q = fmt.Sprintf("project = %s AND %s", quoteJQL(projectKey), q)
	}
	return q
}

func quoteJQL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// SearchIssuesByLabel is SearchIssues over LabelJQL.
func (c *Client) SearchIssuesByLabel(ctx context.Context, uid, domain, cloudID, projectKey, label string) ([]tracker.TrackerIssue, error) {
	return c.SearchIssues(ctx, uid, domain, cloudID, LabelJQL(projectKey, label), 0)
}

// AccessibleSite is a Jira site the user granted access to.
type AccessibleSite struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	Scopes    []string `json:"scopes"`
	AvatarURL string   `json:"avatarUrl,omitempty"`
}

// AccessibleResources lists the sites the user's token can reach.
func (c *Client) AccessibleResources(ctx context.Context, uid string) ([]AccessibleSite, error) {
	body, err := c.do(ctx, uid, http.MethodGet, c.APIURL+"/oauth/token/accessible-resources", nil)
	if err != nil {
		return nil, fmt.Errorf("list accessible resources: %w", err)
	}
	var sites []AccessibleSite
	if err := json.Unmarshal(body, &sites); err != nil {
		return nil, fmt.Errorf("parse accessible resources: %w", err)
	}
	return sites, nil
}

// Project is a Jira project summary.
type Project struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Projects lists the projects visible to the user on a site.
func (c *Client) Projects(ctx context.Context, uid, cloudID string) ([]Project, error) {
	body, err := c.do(ctx, uid, http.MethodGet, c.siteURL(cloudID, "project"), nil)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	var projects []Project
	if err := json.Unmarshal(body, &projects); err != nil {
		return nil, fmt.Errorf("parse projects: %w", err)
	}
	return projects, nil
}
