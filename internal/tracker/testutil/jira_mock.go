package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

const apiMarker = "/rest/api/3/"

// MockIssue is an issue held by the Jira mock.
type MockIssue struct {
	Key         string
	ProjectKey  string
	Summary     string
	IssueType   string
	Priority    string
	Labels      []string
	Description json.RawMessage
}

// MockSite is returned from accessible-resources.
type MockSite struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Scopes []string `json:"scopes"`
}

// JiraMockServer fakes the parts of Jira Cloud the service uses: issue
// create, bulk create, update, search/jql pagination, project listing,
// accessible-resources and the OAuth token endpoint.
type JiraMockServer struct {
	*MockTrackerServer

	jmu      sync.Mutex
	issues   []*MockIssue
	next     map[string]int
	sites    []MockSite
	projects []map[string]string

	dropLabels    bool
	failBulk      int
	repeatToken   bool
	rejectLabel   string
	tokenResponse map[string]interface{}
	rejectRefresh int
}

// NewJiraMockServer creates a new Jira mock server.
func NewJiraMockServer() *JiraMockServer {
	m := &JiraMockServer{
		MockTrackerServer: NewMockTrackerServer(),
		next:              make(map[string]int),
	}
	m.SetDefaultHandler(m.handleJiraRequest)
	return m
}

func (m *JiraMockServer) handleJiraRequest(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/oauth/token" && r.Method == http.MethodPost:
		m.handleToken(w, r)
		return
	case path == "/oauth/token/accessible-resources" && r.Method == http.MethodGet:
		m.jmu.Lock()
		sites := append([]MockSite{}, m.sites...)
		m.jmu.Unlock()
		writeJSON(w, http.StatusOK, sites)
		return
	}

	i := strings.Index(path, apiMarker)
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
		return
	}
	route := path[i+len(apiMarker):]

	switch {
	case route == "issue/bulk" && r.Method == http.MethodPost:
		m.handleBulkCreate(w, r)
	case route == "issue" && r.Method == http.MethodPost:
		m.handleCreate(w, r)
	case strings.HasPrefix(route, "issue/") && r.Method == http.MethodPut:
		m.handleUpdate(w, r, strings.TrimPrefix(route, "issue/"))
	case route == "search/jql" && r.Method == http.MethodPost:
		m.handleSearch(w, r)
	case route == "project" && r.Method == http.MethodGet:
		m.jmu.Lock()
		projects := append([]map[string]string{}, m.projects...)
		m.jmu.Unlock()
		writeJSON(w, http.StatusOK, projects)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	}
}

type createFields struct {
	Project struct {
		Key string `json:"key"`
	} `json:"project"`
	Summary   string `json:"summary"`
	IssueType struct {
		Name string `json:"name"`
	} `json:"issuetype"`
	Priority struct {
		Name string `json:"name"`
	} `json:"priority"`
	Labels      []string        `json:"labels"`
	Description json.RawMessage `json:"description"`
}

// create stores an issue; it returns "" when the issue is rejected.
func (m *JiraMockServer) create(f createFields) string {
	m.jmu.Lock()
	defer m.jmu.Unlock()
	if m.rejectLabel != "" {
		for _, l := range f.Labels {
			if l == m.rejectLabel {
				return ""
			}
		}
	}
	project := f.Project.Key
	if project == "" {
		project = "PROJ"
	}
	m.next[project]++
	issue := &MockIssue{
		Key:         fmt.Sprintf("%s-%d", project, m.next[project]),
		ProjectKey:  project,
		Summary:     f.Summary,
		IssueType:   f.IssueType.Name,
		Priority:    f.Priority.Name,
		Description: f.Description,
	}
	if !m.dropLabels {
		issue.Labels = append([]string(nil), f.Labels...)
	}
	m.issues = append(m.issues, issue)
	return issue.Key
}

func (m *JiraMockServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fields createFields `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"errorMessages": []string{err.Error()}})
		return
	}
	key := m.create(req.Fields)
	if key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"errorMessages": []string{"rejected"}})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": key, "key": key, "self": m.URL() + "/issue/" + key})
}

func (m *JiraMockServer) handleBulkCreate(w http.ResponseWriter, r *http.Request) {
	m.jmu.Lock()
	if m.failBulk > 0 {
		m.failBulk--
		m.jmu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"errorMessages": []string{"bulk create failed"}})
		return
	}
	m.jmu.Unlock()

	var req struct {
		IssueUpdates []struct {
			Fields createFields `json:"fields"`
		} `json:"issueUpdates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"errorMessages": []string{err.Error()}})
		return
	}

	issues := []map[string]string{}
	errs := []map[string]interface{}{}
	for i, u := range req.IssueUpdates {
		key := m.create(u.Fields)
		if key == "" {
			errs = append(errs, map[string]interface{}{
				"status":              400,
				"failedElementNumber": i,
				"elementErrors":       map[string]interface{}{"errorMessages": []string{"rejected"}},
			})
			continue
		}
		issues = append(issues, map[string]string{"id": key, "key": key, "self": m.URL() + "/issue/" + key})
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"issues": issues, "errors": errs})
}

func (m *JiraMockServer) handleUpdate(w http.ResponseWriter, r *http.Request, key string) {
	var req struct {
		Fields map[string]interface{} `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"errorMessages": []string{err.Error()}})
		return
	}
	m.jmu.Lock()
	defer m.jmu.Unlock()
	for _, issue := range m.issues {
		if issue.Key == key {
			if s, ok := req.Fields["summary"].(string); ok {
				issue.Summary = s
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]interface{}{"errorMessages": []string{"Issue does not exist"}})
}

var (
	labelClause   = regexp.MustCompile(`labels\s*=\s*"((?:[^"\\]|\\.)*)"`)
	projectClause = regexp.MustCompile(`project\s*=\s*"((?:[^"\\]|\\.)*)"`)
)

func unquote(s string) string {
	return strings.NewReplacer(`\"`, `"`, `\\`, `\`).Replace(s)
}

func (m *JiraMockServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JQL           string `json:"jql"`
		MaxResults    int    `json:"maxResults"`
		NextPageToken string `json:"nextPageToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"errorMessages": []string{err.Error()}})
		return
	}
	var label, project string
	if mm := labelClause.FindStringSubmatch(req.JQL); mm != nil {
		label = unquote(mm[1])
	}
	if mm := projectClause.FindStringSubmatch(req.JQL); mm != nil {
		project = unquote(mm[1])
	}

	m.jmu.Lock()
	var matched []*MockIssue
	for _, issue := range m.issues {
		if project != "" && issue.ProjectKey != project {
			continue
		}
		if label != "" && !contains(issue.Labels, label) {
			continue
		}
		matched = append(matched, issue)
	}
	repeat := m.repeatToken
	m.jmu.Unlock()

	offset := 0
	if strings.HasPrefix(req.NextPageToken, "p") {
		offset, _ = strconv.Atoi(strings.TrimPrefix(req.NextPageToken, "p"))
	}
	size := req.MaxResults
	if size <= 0 {
		size = 50
	}
	end := offset + size
	if end > len(matched) {
		end = len(matched)
	}
	if offset > end {
		offset = end
	}

	out := make([]map[string]interface{}, 0, end-offset)
	for _, issue := range matched[offset:end] {
		out = append(out, map[string]interface{}{
			"key":    issue.Key,
			"fields": map[string]interface{}{"labels": issue.Labels},
		})
	}
	resp := map[string]interface{}{"issues": out, "isLast": end >= len(matched)}
	if repeat {
		resp["isLast"] = false
		resp["nextPageToken"] = "p0"
	} else if end < len(matched) {
		resp["nextPageToken"] = fmt.Sprintf("p%d", end)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (m *JiraMockServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	m.jmu.Lock()
	defer m.jmu.Unlock()
	if r.PostForm.Get("grant_type") == "refresh_token" && m.rejectRefresh > 0 {
		m.rejectRefresh--
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}
	if m.tokenResponse == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}
	writeJSON(w, http.StatusOK, m.tokenResponse)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// AddIssue seeds an existing issue.
func (m *JiraMockServer) AddIssue(issue MockIssue) {
	m.jmu.Lock()
	defer m.jmu.Unlock()
	m.issues = append(m.issues, &issue)
}

// Issues returns a snapshot of stored issues in creation order.
func (m *JiraMockServer) Issues() []MockIssue {
	m.jmu.Lock()
	defer m.jmu.Unlock()
	out := make([]MockIssue, 0, len(m.issues))
	for _, issue := range m.issues {
		out = append(out, *issue)
	}
	return out
}

// Issue returns the stored issue with key.
func (m *JiraMockServer) Issue(key string) (MockIssue, bool) {
	m.jmu.Lock()
	defer m.jmu.Unlock()
	for _, issue := range m.issues {
		if issue.Key == key {
			return *issue, true
		}
	}
	return MockIssue{}, false
}

// SetDropLabels makes created issues lose their labels, as if a Jira
// automation rule stripped them.
func (m *JiraMockServer) SetDropLabels(drop bool) {
	m.jmu.Lock()
	defer m.jmu.Unlock()
	m.dropLabels = drop
}

// FailNextBulk answers the next n bulk creates with 400.
func (m *JiraMockServer) FailNextBulk(n int) {
	m.jmu.Lock()
	defer m.jmu.Unlock()
	m.failBulk = n
}

// SetRejectLabel rejects any created issue carrying label.
func (m *JiraMockServer) SetRejectLabel(label string) {
	m.jmu.Lock()
	defer m.jmu.Unlock()
	m.rejectLabel = label
}

// SetRepeatToken makes search always return the same page token.
func (m *JiraMockServer) SetRepeatToken(repeat bool) {
	m.jmu.Lock()
	defer m.jmu.Unlock()
	m.repeatToken = repeat
}

// SetTokenGrant configures the OAuth token endpoint response. An empty
// refresh token omits it, as when the server does not rotate.
func (m *JiraMockServer) SetTokenGrant(accessToken, refreshToken string) {
	m.jmu.Lock()
	defer m.jmu.Unlock()
	m.tokenResponse = map[string]interface{}{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
		"scope":        "read:jira-work write:jira-work offline_access",
	}
	if refreshToken != "" {
		m.tokenResponse["refresh_token"] = refreshToken
	}
}

// RejectNextRefresh answers the next n refresh grants with invalid_grant.
func (m *JiraMockServer) RejectNextRefresh(n int) {
	m.jmu.Lock()
	defer m.jmu.Unlock()
	m.rejectRefresh = n
}

// SetSites configures accessible-resources.
func (m *JiraMockServer) SetSites(sites ...MockSite) {
	m.jmu.Lock()
	defer m.jmu.Unlock()
	m.sites = sites
}

// SetProjects configures the project listing as (key, name) pairs.
func (m *JiraMockServer) SetProjects(pairs ...string) {
	m.jmu.Lock()
	defer m.jmu.Unlock()
	m.projects = nil
	for i := 0; i+1 < len(pairs); i += 2 {
		m.projects = append(m.projects, map[string]string{
			"id":   strconv.Itoa(10000 + i/2),
			"key":  pairs[i],
			"name": pairs[i+1],
		})
	}
}
