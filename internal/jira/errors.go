package jira

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected means the user has no stored Jira credentials.
	ErrNotConnected = errors.New("jira not connected")
	// ErrUnauthorized means a request was rejected with 401 even after a
	// forced token refresh.
	ErrUnauthorized = errors.New("jira rejected credentials after refresh")
	// ErrRateLimited means every attempt was answered with 429.
	ErrRateLimited = errors.New("jira rate limit: attempts exhausted")
)

// APIError is a non-2xx response other than 401 and 429.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jira API %s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}
