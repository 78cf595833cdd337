// Package testutil provides an httptest-backed Jira Cloud fake for tests of
// the tracker client, the sync engine and the HTTP API.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// RecordedRequest stores information about a request made to the mock server.
type RecordedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
}

// MockResponse represents a configured response for the mock server.
type MockResponse struct {
	StatusCode int
	Body       interface{}
	Headers    map[string]string
}

// MockTrackerServer is the base mock server: request recording, canned
// responses, bearer-token checks and error simulation.
type MockTrackerServer struct {
	Server *httptest.Server
	mu     sync.RWMutex

	requests []RecordedRequest

	responses      map[string]MockResponse // path -> response
	defaultHandler func(w http.ResponseWriter, r *http.Request)

	// validTokens, when non-empty, restricts accepted bearer tokens.
	validTokens map[string]bool

	// Error simulation
	authErrors      int // remaining requests answered with 401
	rateLimitErrors int // remaining requests answered with 429
	retryAfter      string
	serverError     bool
}

// NewMockTrackerServer creates a new base mock server.
func NewMockTrackerServer() *MockTrackerServer {
	m := &MockTrackerServer{
		responses:   make(map[string]MockResponse),
		validTokens: make(map[string]bool),
		retryAfter:  "0",
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handleRequest))
	return m
}

func (m *MockTrackerServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: r.Header.Clone(),
		Body:    body,
	})

	// The token endpoint authenticates with client credentials, not a bearer.
	isTokenEndpoint := r.URL.Path == "/oauth/token"

	if !isTokenEndpoint && m.authErrors > 0 {
		m.authErrors--
		m.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
		return
	}
	if !isTokenEndpoint && len(m.validTokens) > 0 {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !m.validTokens[token] {
			m.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
			return
		}
	}
	if m.rateLimitErrors > 0 {
		m.rateLimitErrors--
		retryAfter := m.retryAfter
		m.mu.Unlock()
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Rate limited"})
		return
	}
	if m.serverError {
		m.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Internal server error"})
		return
	}

	resp, found := m.responses[r.URL.Path]
	handler := m.defaultHandler
	m.mu.Unlock()

	if found {
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", "application/json")
		if resp.StatusCode != 0 {
			w.WriteHeader(resp.StatusCode)
		}
		if resp.Body != nil {
			_ = json.NewEncoder(w).Encode(resp.Body)
		}
		return
	}

	if handler != nil {
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		handler(w, r)
		return
	}

	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
}

// URL returns the mock server URL.
func (m *MockTrackerServer) URL() string {
	return m.Server.URL
}

// Close shuts down the mock server.
func (m *MockTrackerServer) Close() {
	m.Server.Close()
}

// SetResponse configures a response for a specific path.
func (m *MockTrackerServer) SetResponse(path string, statusCode int, body interface{}) {
	m.SetResponseWithHeaders(path, statusCode, body, nil)
}

// SetResponseWithHeaders configures a response with custom headers.
func (m *MockTrackerServer) SetResponseWithHeaders(path string, statusCode int, body interface{}, headers map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[path] = MockResponse{
		StatusCode: statusCode,
		Body:       body,
		Headers:    headers,
	}
}

// SetDefaultHandler sets a custom handler for unmatched requests.
func (m *MockTrackerServer) SetDefaultHandler(handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultHandler = handler
}

// SetValidTokens restricts accepted bearer tokens; any other token gets 401.
func (m *MockTrackerServer) SetValidTokens(tokens ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validTokens = make(map[string]bool, len(tokens))
	for _, t := range tokens {
		m.validTokens[t] = true
	}
}

// SetAuthErrors answers the next n API requests with 401.
func (m *MockTrackerServer) SetAuthErrors(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authErrors = n
}

// SetRateLimitErrors answers the next n requests with 429 and the given
// Retry-After header ("" omits it).
func (m *MockTrackerServer) SetRateLimitErrors(n int, retryAfter string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitErrors = n
	m.retryAfter = retryAfter
}

// SetServerError enables/disables 500 Internal Server Error responses.
func (m *MockTrackerServer) SetServerError(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverError = enabled
}

// GetRequests returns all recorded requests.
func (m *MockTrackerServer) GetRequests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]RecordedRequest, len(m.requests))
	copy(result, m.requests)
	return result
}

// CountRequests returns how many recorded requests match method and a path
// suffix. An empty method matches any.
func (m *MockTrackerServer) CountRequests(method, pathSuffix string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.requests {
		if (method == "" || r.Method == method) && strings.HasSuffix(r.Path, pathSuffix) {
			n++
		}
	}
	return n
}

// GetRequestCount returns the number of recorded requests.
func (m *MockTrackerServer) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// ClearRequests clears all recorded requests.
func (m *MockTrackerServer) ClearRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
