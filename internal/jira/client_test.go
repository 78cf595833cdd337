package jira

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surya-s-1/captain-tool-integrations/internal/tracker/testutil"
)

// fakeTokens hands out tokens[0] until a forced refresh advances it.
type fakeTokens struct {
	mu     sync.Mutex
	tokens []string
	idx    int
	forced int
	err    error
}

func (f *fakeTokens) AccessToken(_ context.Context, _ string, force bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if force {
		f.forced++
		if f.idx < len(f.tokens)-1 {
			f.idx++
		}
	}
	return f.tokens[f.idx], nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return nil
}

func newTestClient(t *testing.T, tokens TokenProvider) (*Client, *testutil.JiraMockServer, *sleepRecorder) {
	t.Helper()
	server := testutil.NewJiraMockServer()
	t.Cleanup(server.Close)
	rec := &sleepRecorder{}
	c := NewClient(server.URL(), tokens)
	c.sleep = rec.sleep
	return c, server, rec
}

var testFields = map[string]interface{}{
	"project":   map[string]interface{}{"key": "PRJ"},
	"summary":   "Login works",
	"issuetype": map[string]interface{}{"name": "Task"},
	"labels":    []string{"TC-1"},
}

func TestDoRefreshesOnceOn401(t *testing.T) {
	tokens := &fakeTokens{tokens: []string{"stale", "fresh"}}
	c, server, _ := newTestClient(t, tokens)
	server.SetValidTokens("fresh")

	created, err := c.CreateIssue(context.Background(), "u1", "cloud-1", testFields)
	require.NoError(t, err)
	assert.Equal(t, "PRJ-1", created.Key)
	assert.Equal(t, 1, tokens.forced)
	assert.Equal(t, 2, server.CountRequests(http.MethodPost, "/rest/api/3/issue"))

	reqs := server.GetRequests()
	assert.Equal(t, "Bearer stale", reqs[0].Headers.Get("Authorization"))
	assert.Equal(t, "Bearer fresh", reqs[1].Headers.Get("Authorization"))
}

func TestDoSecond401IsUnauthorized(t *testing.T) {
	tokens := &fakeTokens{tokens: []string{"stale", "still-stale"}}
	c, server, _ := newTestClient(t, tokens)
	server.SetValidTokens("valid")

	_, err := c.CreateIssue(context.Background(), "u1", "cloud-1", testFields)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, tokens.forced)
	assert.Equal(t, 2, server.GetRequestCount())
}

func TestDoHonorsRetryAfter(t *testing.T) {
	c, server, rec := newTestClient(t, &fakeTokens{tokens: []string{"t"}})
	server.SetRateLimitErrors(2, "3")

	_, err := c.CreateIssue(context.Background(), "u1", "cloud-1", testFields)
	require.NoError(t, err)
	assert.Equal(t, 3, server.GetRequestCount())
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, rec.sleeps)
}

func TestDoRateLimitExhausted(t *testing.T) {
	c, server, rec := newTestClient(t, &fakeTokens{tokens: []string{"t"}})
	server.SetRateLimitErrors(100, "")

	err := c.UpdateIssue(context.Background(), "u1", "cloud-1", "PRJ-1", map[string]interface{}{"summary": "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, DefaultMaxAttempts, server.GetRequestCount())
	// Missing Retry-After falls back to one second between attempts.
	require.Len(t, rec.sleeps, DefaultMaxAttempts-1)
	for _, d := range rec.sleeps {
		assert.Equal(t, time.Second, d)
	}
}

func TestDoRefreshesAfterRateLimitBudget(t *testing.T) {
	statuses := []int{
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
		http.StatusUnauthorized,
	}
	var (
		mu       sync.Mutex
		requests int
		bearers  []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		bearers = append(bearers, r.Header.Get("Authorization"))
		if requests < len(statuses) {
			w.WriteHeader(statuses[requests])
			requests++
			return
		}
		requests++
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	tokens := &fakeTokens{tokens: []string{"stale", "fresh"}}
	rec := &sleepRecorder{}
	c := NewClient(server.URL, tokens)
	c.sleep = rec.sleep

	err := c.UpdateIssue(context.Background(), "u1", "cloud-1", "PRJ-1", map[string]interface{}{"summary": "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, tokens.forced)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 6, requests)
	assert.Equal(t, "Bearer fresh", bearers[len(bearers)-1])
	assert.Len(t, rec.sleeps, 4)
}

func TestDoOtherStatusIsAPIError(t *testing.T) {
	c, server, _ := newTestClient(t, &fakeTokens{tokens: []string{"t"}})
	server.SetServerError(true)

	_, err := c.CreateIssue(context.Background(), "u1", "cloud-1", testFields)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, 1, server.GetRequestCount())
}

func TestDoSurfacesTokenErrors(t *testing.T) {
	c, server, _ := newTestClient(t, &fakeTokens{err: ErrNotConnected})

	_, err := c.AccessibleResources(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0, server.GetRequestCount())
}

func TestRetryAfterParsing(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := &Client{now: func() time.Time { return now }}

	assert.Equal(t, time.Second, c.retryAfter(""))
	assert.Equal(t, 7*time.Second, c.retryAfter("7"))
	assert.Equal(t, time.Second, c.retryAfter("-3"))
	assert.Equal(t, time.Second, c.retryAfter("soon"))
	assert.Equal(t, 10*time.Second, c.retryAfter(now.Add(10*time.Second).Format(http.TimeFormat)))
	assert.Equal(t, time.Duration(0), c.retryAfter(now.Add(-time.Minute).Format(http.TimeFormat)))
}

func TestSleepCtxCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}

func TestUpdateIssueNoContent(t *testing.T) {
	c, server, _ := newTestClient(t, &fakeTokens{tokens: []string{"t"}})
	server.AddIssue(testutil.MockIssue{Key: "PRJ-9", ProjectKey: "PRJ", Summary: "old"})

	require.NoError(t, c.UpdateIssue(context.Background(), "u1", "cloud-1", "PRJ-9", map[string]interface{}{"summary": "new"}))
	issue, ok := server.Issue("PRJ-9")
	require.True(t, ok)
	assert.Equal(t, "new", issue.Summary)

	err := c.UpdateIssue(context.Background(), "u1", "cloud-1", "PRJ-404", map[string]interface{}{"summary": "x"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}
