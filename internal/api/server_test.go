package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/surya-s-1/captain-tool-integrations/internal/archive"
	"github.com/surya-s-1/captain-tool-integrations/internal/blob"
	"github.com/surya-s-1/captain-tool-integrations/internal/dispatch"
	"github.com/surya-s-1/captain-tool-integrations/internal/jira"
	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
	"github.com/surya-s-1/captain-tool-integrations/internal/storage/memory"
	"github.com/surya-s-1/captain-tool-integrations/internal/tracker"
	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

type fakeSyncer struct {
	mu      sync.Mutex
	syncs   []tracker.Scope
	block   chan struct{}
	created map[string]*tracker.TrackerIssue
	err     error
}

func (f *fakeSyncer) SyncVersion(ctx context.Context, uid string, scope tracker.Scope) (*tracker.SyncResult, error) {
	f.mu.Lock()
	f.syncs = append(f.syncs, scope)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return &tracker.SyncResult{Success: true}, nil
}

func (f *fakeSyncer) CreateOne(ctx context.Context, uid string, scope tracker.Scope, id string) (*tracker.TrackerIssue, error) {
	if f.err != nil {
		return nil, f.err
	}
	issue, ok := f.created[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, tracker.ErrNoMatchingIssue)
	}
	return issue, nil
}

func (f *fakeSyncer) scopes() []tracker.Scope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tracker.Scope(nil), f.syncs...)
}

type fakeDirectory struct {
	sites    []jira.AccessibleSite
	projects map[string][]jira.Project
	err      error
}

func (f *fakeDirectory) AccessibleResources(ctx context.Context, uid string) ([]jira.AccessibleSite, error) {
	return f.sites, f.err
}

func (f *fakeDirectory) Projects(ctx context.Context, uid, cloudID string) ([]jira.Project, error) {
	return f.projects[cloudID], f.err
}

type fakeOAuth struct{}

func (fakeOAuth) AuthCodeURL(state string) string {
	return "https://auth.example.com/authorize?state=" + state
}

func (fakeOAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code != "good-code" {
		return nil, errors.New("invalid_grant")
	}
	return &oauth2.Token{AccessToken: "access", RefreshToken: "refresh"}, nil
}

type harness struct {
	store      *memory.MemoryStorage
	blobs      *blob.MemoryStore
	engine     *archive.Engine
	syncer     *fakeSyncer
	directory  *fakeDirectory
	dispatcher *dispatch.Dispatcher
	server     *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.New()
	store.PutProject(types.Project{ID: "p1", LatestVersion: "v2",
		ToolSiteID: "cloud-1", ToolSiteDomain: "https://acme.atlassian.net", ToolProjectKey: "PRJ"})
	store.PutVersion(types.Version{ProjectID: "p1", Version: "v2"})
	store.PutEntities(types.Entity{ID: "TC-1", ProjectID: "p1", Version: "v2", Kind: types.KindTestcase,
		Datasets: []string{"gs://src/a.csv"}})

	blobs := blob.NewMemoryStore("out")
	blobs.Set("gs://src/a.csv", []byte("a,1"))

	h := &harness{
		store:      store,
		blobs:      blobs,
		engine:     archive.NewEngine(store, blobs, nil),
		syncer:     &fakeSyncer{},
		directory:  &fakeDirectory{},
		dispatcher: dispatch.New(2, slog.New(slog.DiscardHandler)),
	}
	srv := NewServer(ServerConfig{
		Store:               store,
		Syncer:              h.syncer,
		Archive:             h.engine,
		Blobs:               blobs,
		Runner:              h.dispatcher,
		Jira:                h.directory,
		OAuth:               fakeOAuth{},
		Connections:         jira.NewCredentials(store, store, nil),
		FrontendRedirectURL: "https://app.example.com/integrations",
		Logger:              slog.New(slog.DiscardHandler),
	})
	h.server = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		h.server.Close()
		h.dispatcher.Wait()
	})
	return h
}

func (h *harness) do(t *testing.T, method, path, uid string, body interface{}) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.server.URL+path, rdr)
	require.NoError(t, err)
	if uid != "" {
		req.Header.Set(UserHeader, uid)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "OK", string(body))
}

func TestRequiresUser(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/tools/jira/status", "/tools/jira/sites", "/downloads/job-1"} {
		resp := h.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.Contains(t, decode[jsonErrorResponse](t, resp).Error, UserHeader)
	}
}

func TestSync(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodPost, "/projects/p1/versions/v2/sync?kind=requirements", "u1", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	got := decode[SyncAccepted](t, resp)
	assert.Equal(t, types.KindRequirement, got.Kind)

	h.dispatcher.Wait()
	assert.Equal(t, []tracker.Scope{{ProjectID: "p1", Version: "v2", Kind: types.KindRequirement}}, h.syncer.scopes())
}

func TestSyncAlreadyRunning(t *testing.T) {
	h := newHarness(t)
	h.syncer.block = make(chan struct{})

	first := h.do(t, http.MethodPost, "/projects/p1/versions/v2/sync", "u1", nil)
	require.Equal(t, http.StatusAccepted, first.StatusCode)

	second := h.do(t, http.MethodPost, "/projects/p1/versions/v2/sync?kind=testcases", "u2", nil)
	assert.Equal(t, http.StatusConflict, second.StatusCode)

	// A different kind of the same version is a separate fence.
	other := h.do(t, http.MethodPost, "/projects/p1/versions/v2/sync?kind=requirements", "u1", nil)
	assert.Equal(t, http.StatusAccepted, other.StatusCode)

	close(h.syncer.block)
	h.dispatcher.Wait()
	assert.Len(t, h.syncer.scopes(), 2)
}

func TestLatestVersionGuard(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"sync old version", http.MethodPost, "/projects/p1/versions/v1/sync", http.StatusForbidden},
		{"sync unknown project", http.MethodPost, "/projects/nope/versions/v1/sync", http.StatusNotFound},
		{"create old version", http.MethodPost, "/projects/p1/versions/v1/testcases/TC-1/issue", http.StatusForbidden},
		{"download old version", http.MethodPost, "/projects/p1/versions/v1/downloads", http.StatusForbidden},
		{"bad kind", http.MethodPost, "/projects/p1/versions/v2/sync?kind=bugs", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(t, tt.method, tt.path, "u1", nil)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
	h.dispatcher.Wait()
	assert.Empty(t, h.syncer.scopes())
}

func TestCreateOne(t *testing.T) {
	h := newHarness(t)
	h.syncer.created = map[string]*tracker.TrackerIssue{
		"TC-1": {Key: "PRJ-7", URL: "https://acme.atlassian.net/browse/PRJ-7"},
	}

	resp := h.do(t, http.MethodPost, "/projects/p1/versions/v2/testcase/TC-1/issue", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, CreatedIssue{ID: "TC-1", IssueKey: "PRJ-7", IssueURL: "https://acme.atlassian.net/browse/PRJ-7"},
		decode[CreatedIssue](t, resp))

	resp = h.do(t, http.MethodPost, "/projects/p1/versions/v2/testcases/TC-9/issue", "u1", nil)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, decode[jsonErrorResponse](t, resp).Details, "TC-9")
}

func TestCreateOneErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not connected", fmt.Errorf("jira token: %w", jira.ErrNotConnected), http.StatusBadRequest},
		{"project not configured", fmt.Errorf("project p1: %w", tracker.ErrProjectNotConfigured), http.StatusBadRequest},
		{"tracker rejected", &jira.APIError{Method: http.MethodPost, StatusCode: http.StatusBadRequest}, http.StatusInternalServerError},
		{"entity missing", fmt.Errorf("load testcases TC-1: %w", storage.ErrNotFound), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.syncer.err = tt.err

			resp := h.do(t, http.MethodPost, "/projects/p1/versions/v2/testcases/TC-1/issue", "u1", nil)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, "failed to create issue", decode[jsonErrorResponse](t, resp).Error)
		})
	}
}

func TestConnectProject(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodPost, "/projects/connect", "u1", ConnectProjectRequest{
		Tool:        jira.ToolName,
		SiteID:      "cloud-2",
		SiteDomain:  "payments.atlassian.net",
		ProjectKey:  "PAY",
		ProjectName: "Payments",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	got := decode[ProjectConnected](t, resp)
	require.NotEmpty(t, got.ProjectID)
	require.NotEmpty(t, got.LatestVersion)
	assert.Equal(t, "jira's Payments connected successfully.", got.Message)

	p, err := h.store.GetProject(context.Background(), got.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, "https://payments.atlassian.net", p.ToolSiteDomain)
	assert.Equal(t, got.LatestVersion, p.LatestVersion)
	assert.True(t, p.TrackerConfigured())

	v, err := h.store.GetVersion(context.Background(), got.ProjectID, got.LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, types.VersionStatusCreated, v.Status)

	// The new version passes the latest-version guard.
	resp = h.do(t, http.MethodPost, "/projects/"+got.ProjectID+"/versions/"+got.LatestVersion+"/sync?kind=testcases", "u1", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	h.dispatcher.Wait()
}

func TestConnectProjectBadRequests(t *testing.T) {
	valid := ConnectProjectRequest{Tool: "jira", SiteID: "c", SiteDomain: "d.atlassian.net", ProjectKey: "K", ProjectName: "N"}
	tests := []struct {
		name string
		uid  string
		body interface{}
		want int
		text string
	}{
		{"no user", "", valid, http.StatusUnauthorized, ""},
		{"empty body", "u1", nil, http.StatusBadRequest, "missing tool, siteId, siteDomain, projectKey, projectName"},
		{"missing key", "u1", ConnectProjectRequest{Tool: "jira", SiteID: "c", SiteDomain: "d", ProjectName: "N"}, http.StatusBadRequest, "missing projectKey"},
		{"other tool", "u1", ConnectProjectRequest{Tool: "linear", SiteID: "c", SiteDomain: "d", ProjectKey: "K", ProjectName: "N"}, http.StatusBadRequest, "unsupported tool"},
		{"bad json", "u1", "not an object", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			resp := h.do(t, http.MethodPost, "/projects/connect", tt.uid, tt.body)
			require.Equal(t, tt.want, resp.StatusCode)
			if tt.text != "" {
				assert.Contains(t, decode[jsonErrorResponse](t, resp).Details, tt.text)
			}
		})
	}
}

func TestDownloadLifecycle(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodPost, "/projects/p1/versions/v2/downloads", "u1",
		DownloadRequest{TargetKind: types.TargetTestcase, Target: "TC-1"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID := decode[DownloadAccepted](t, resp).JobID
	require.NotEmpty(t, jobID)

	resp = h.do(t, http.MethodGet, "/downloads/"+jobID, "u1", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, types.JobPending, decode[archive.JobView](t, resp).Status)

	require.NoError(t, h.engine.Execute(context.Background(), jobID))

	resp = h.do(t, http.MethodGet, "/downloads/"+jobID, "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Equal(t, "attachment; filename=TC-1-v2-p1.zip", resp.Header.Get("Content-Disposition"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "TC-1-v2-p1.csv", zr.File[0].Name)
}

func TestDownloadFailed(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodPost, "/projects/p1/versions/v2/downloads", "u1",
		DownloadRequest{TargetKind: types.TargetTestcase, Target: "TC-404"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID := decode[DownloadAccepted](t, resp).JobID

	require.Error(t, h.engine.Execute(context.Background(), jobID))

	resp = h.do(t, http.MethodGet, "/downloads/"+jobID, "u1", nil)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, decode[jsonErrorResponse](t, resp).Error, "TC-404")
}

func TestDownloadBadRequests(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodPost, "/projects/p1/versions/v2/downloads", "u1",
		DownloadRequest{TargetKind: "spreadsheet", Target: "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/projects/p1/versions/v2/downloads", "u1",
		DownloadRequest{TargetKind: types.TargetDocument})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/downloads/missing", "u1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Empty(t, h.store.Jobs())
}

func TestJiraConnectFlow(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/tools/jira/status", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]bool{"connected": false}, decode[map[string]bool](t, resp))

	resp = h.do(t, http.MethodPost, "/tools/jira/connect", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	authURL := decode[map[string]string](t, resp)["auth_url"]
	assert.True(t, strings.HasSuffix(authURL, "state=user_uid_u1"), authURL)

	resp = h.do(t, http.MethodGet, "/tools/jira/auth/callback?code=good-code&state=user_uid_u1", "", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://app.example.com/integrations", resp.Header.Get("Location"))

	resp = h.do(t, http.MethodGet, "/tools/jira/status", "u1", nil)
	assert.Equal(t, map[string]bool{"connected": true}, decode[map[string]bool](t, resp))

	path, err := h.store.GetSecretPath(context.Background(), jira.ToolName, "u1")
	require.NoError(t, err)
	payload, err := h.store.GetSecret(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"refresh_token":"refresh"`)

	// The state is single use.
	resp = h.do(t, http.MethodGet, "/tools/jira/auth/callback?code=good-code&state=user_uid_u1", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJiraCallbackRejects(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SaveAuthState(context.Background(), jira.ToolName, "u1", jira.StateFor("u1")))

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"denied", "?error=access_denied&state=user_uid_u1", http.StatusBadRequest},
		{"no code", "?state=user_uid_u1", http.StatusBadRequest},
		{"foreign state", "?code=good-code&state=user_uid_u2", http.StatusBadRequest},
		{"malformed state", "?code=good-code&state=u1", http.StatusBadRequest},
		{"bad code", "?code=bad&state=user_uid_u1", http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(t, http.MethodGet, "/tools/jira/auth/callback"+tt.query, "", nil)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
	connected, err := jira.NewCredentials(h.store, h.store, nil).Connected(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, connected)
}

func TestJiraSitesAndProjects(t *testing.T) {
	h := newHarness(t)
	h.directory.sites = []jira.AccessibleSite{{ID: "cloud-1", Name: "acme", URL: "https://acme.atlassian.net"}}
	h.directory.projects = map[string][]jira.Project{"cloud-1": {{ID: "10000", Key: "PRJ", Name: "Project"}}}

	resp := h.do(t, http.MethodGet, "/tools/jira/sites", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, h.directory.sites, decode[[]jira.AccessibleSite](t, resp))

	resp = h.do(t, http.MethodGet, "/tools/jira/projects?cloud_id=cloud-1", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, h.directory.projects["cloud-1"], decode[[]jira.Project](t, resp))

	resp = h.do(t, http.MethodGet, "/tools/jira/projects?cloud_id=cloud-2", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []jira.Project{}, decode[[]jira.Project](t, resp))

	resp = h.do(t, http.MethodGet, "/tools/jira/projects", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	h.directory.err = fmt.Errorf("list accessible resources: %w", jira.ErrNotConnected)
	resp = h.do(t, http.MethodGet, "/tools/jira/sites", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", dispatch.ErrBusy), http.StatusConflict},
		{dispatch.ErrClosed, http.StatusServiceUnavailable},
		{jira.ErrRateLimited, http.StatusBadGateway},
		{&jira.APIError{StatusCode: 500}, http.StatusBadGateway},
		{tracker.ErrProjectNotConfigured, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
