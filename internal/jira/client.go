// Package jira talks to Jira Cloud over the Atlassian platform API using
// per-user OAuth 2.0 (3LO) credentials.
//
// Every request goes through one bounded loop (Client.do): a 401 forces a
// single token refresh and one retry, a 429 sleeps for Retry-After and
// retries up to MaxAttempts, and anything else non-2xx is returned as an
// *APIError.
package jira

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/surya-s-1/captain-tool-integrations/internal/telemetry"
)

const (
	// DefaultAPIURL is the Atlassian platform gateway.
	DefaultAPIURL = "https://api.atlassian.com"

	// DefaultMaxAttempts bounds rate-limited attempts per request. The one
	// retry after a token refresh does not count against it.
	DefaultMaxAttempts = 5
	// DefaultMaxSearchPages stops runaway pagination.
	DefaultMaxSearchPages = 500
	// DefaultPageSize is the maxResults sent to search/jql.
	DefaultPageSize = 100

	// defaultRetryAfter is used when a 429 carries no usable Retry-After.
	defaultRetryAfter = time.Second

	maxResponseSize = 50 * 1024 * 1024
)

// TokenProvider supplies access tokens for a user. With forceRefresh it
// must exchange the refresh token for a new pair before returning.
type TokenProvider interface {
	AccessToken(ctx context.Context, uid string, forceRefresh bool) (string, error)
}

// Client provides HTTP access to Jira Cloud sites on behalf of users.
type Client struct {
	APIURL     string
	HTTPClient *http.Client
	Tokens     TokenProvider
	Logger     *slog.Logger

	MaxAttempts    int
	MaxSearchPages int
	PageSize       int

	// sleep waits d or until ctx is done. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewClient creates a client against apiURL (DefaultAPIURL when empty).
func NewClient(apiURL string, tokens TokenProvider) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{
		APIURL: strings.TrimSuffix(apiURL, "/"),
		HTTPClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: telemetry.WrapTransport(http.DefaultTransport),
		},
		Tokens:         tokens,
		MaxAttempts:    DefaultMaxAttempts,
		MaxSearchPages: DefaultMaxSearchPages,
		PageSize:       DefaultPageSize,
		sleep:          sleepCtx,
		now:            time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// siteURL builds a REST v3 URL for a site.
func (c *Client) siteURL(cloudID, path string) string {
	return fmt.Sprintf("%s/ex/jira/%s/rest/api/3/%s", c.APIURL, url.PathEscape(cloudID), strings.TrimPrefix(path, "/"))
}

// do executes an authenticated request for uid and returns the response
// body. A 204 returns a nil body.
func (c *Client) do(ctx context.Context, uid, method, apiURL string, body []byte) ([]byte, error) {
	if c.Tokens == nil {
		return nil, fmt.Errorf("jira client has no token provider")
	}
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	sleep := c.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	forceRefresh := false
	refreshed := false
	rateLimited := 0
	for attempt := 1; ; attempt++ {
		token, err := c.Tokens.AccessToken(ctx, uid, forceRefresh)
		if err != nil {
			return nil, fmt.Errorf("jira token: %w", err)
		}
		forceRefresh = false

		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "captain-tool-integrations/1.0")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, apiURL, err)
		}
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		telemetry.CountTrackerRequest(ctx, method, resp.StatusCode)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			if refreshed {
				return nil, fmt.Errorf("%s %s: %w", method, apiURL, ErrUnauthorized)
			}
			c.logger().Info("jira returned 401, refreshing token", "method", method, "attempt", attempt)
			telemetry.CountTrackerRetry(ctx, "unauthorized")
			refreshed = true
			forceRefresh = true
			continue

		case resp.StatusCode == http.StatusTooManyRequests:
			// The rate-limit budget is separate from the single refresh retry.
			rateLimited++
			if rateLimited >= maxAttempts {
				return nil, fmt.Errorf("%s %s after %d attempts: %w", method, apiURL, attempt, ErrRateLimited)
			}
			delay := c.retryAfter(resp.Header.Get("Retry-After"))
			c.logger().Warn("jira rate limited", "method", method, "attempt", attempt, "retry_after", delay)
			telemetry.CountTrackerRetry(ctx, "rate_limited")
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode == http.StatusNoContent:
			return nil, nil

		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return nil, &APIError{
				Method:     method,
				URL:        apiURL,
				StatusCode: resp.StatusCode,
				Body:       string(respBody),
			}
		}
		return respBody, nil
	}
}

// retryAfter parses a Retry-After header given in seconds or as an
// HTTP-date.
func (c *Client) retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return defaultRetryAfter
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		if seconds < 0 {
			return defaultRetryAfter
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		now := time.Now
		if c.now != nil {
			now = c.now
		}
		if d := at.Sub(now()); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}
