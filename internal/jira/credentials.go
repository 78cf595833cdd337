package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
)

// DefaultMaxRefreshAttempts caps refresh-token exchanges per AccessToken call.
const DefaultMaxRefreshAttempts = 2

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Credentials implements TokenProvider over the credential index and the
// secret store. A refresh writes a new version of the same secret; the
// index entry never changes after connect.
type Credentials struct {
	Index     storage.CredentialIndex
	Secrets   storage.SecretStore
	Refresher Refresher
	Logger    *slog.Logger

	MaxRefreshAttempts int

	refreshes singleflight.Group
}

var _ TokenProvider = (*Credentials)(nil)

// NewCredentials wires a credential adapter.
func NewCredentials(index storage.CredentialIndex, secrets storage.SecretStore, refresher Refresher) *Credentials {
	return &Credentials{
		Index:              index,
		Secrets:            secrets,
		Refresher:          refresher,
		MaxRefreshAttempts: DefaultMaxRefreshAttempts,
	}
}

// tokenPayload is the JSON stored in the secret.
type tokenPayload struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
}

func payloadFromToken(tok *oauth2.Token) tokenPayload {
	p := tokenPayload{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		p.Scope = scope
	}
	return p
}

func (c *Credentials) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Connected reports whether uid has stored credentials.
func (c *Credentials) Connected(ctx context.Context, uid string) (bool, error) {
	path, err := c.Index.GetSecretPath(ctx, ToolName, uid)
	if err != nil {
		return false, err
	}
	return path != "", nil
}

// Connect stores the token pair from a completed authorization and records
// the secret path for uid.
func (c *Credentials) Connect(ctx context.Context, uid string, tok *oauth2.Token) error {
	data, err := json.Marshal(payloadFromToken(tok))
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}
	path, err := c.Secrets.StoreSecret(ctx, SecretName(uid), data)
	if err != nil {
		return fmt.Errorf("store tokens: %w", err)
	}
	if err := c.Index.SaveSecretPath(ctx, ToolName, uid, path); err != nil {
		return fmt.Errorf("record secret path: %w", err)
	}
	return nil
}

// AccessToken returns uid's access token. With forceRefresh the stored
// refresh token is exchanged first and the new pair persisted. Concurrent
// forced refreshes for the same user share one exchange.
func (c *Credentials) AccessToken(ctx context.Context, uid string, forceRefresh bool) (string, error) {
	path, payload, err := c.load(ctx, uid)
	if err != nil {
		return "", err
	}
	if !forceRefresh {
		return payload.AccessToken, nil
	}

	v, err, _ := c.refreshes.Do(uid, func() (interface{}, error) {
		return c.refresh(ctx, uid, path, payload)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Credentials) load(ctx context.Context, uid string) (string, *tokenPayload, error) {
	path, err := c.Index.GetSecretPath(ctx, ToolName, uid)
	if err != nil {
		return "", nil, fmt.Errorf("look up credentials: %w", err)
	}
	if path == "" {
		return "", nil, ErrNotConnected
	}
	raw, err := c.Secrets.GetSecret(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil, ErrNotConnected
	}
	if err != nil {
		return "", nil, fmt.Errorf("read credentials: %w", err)
	}
	var payload tokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", nil, fmt.Errorf("decode credentials: %w", err)
	}
	return path, &payload, nil
}

func (c *Credentials) refresh(ctx context.Context, uid, path string, old *tokenPayload) (string, error) {
	if c.Refresher == nil {
		return "", fmt.Errorf("no token refresher configured")
	}
	if old.RefreshToken == "" {
		return "", fmt.Errorf("no refresh token stored: %w", ErrNotConnected)
	}

	attempts := c.MaxRefreshAttempts
	if attempts <= 0 {
		attempts = DefaultMaxRefreshAttempts
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond

	var tok *oauth2.Token
	err := backoff.Retry(func() error {
		var err error
		tok, err = c.Refresher.Refresh(ctx, old.RefreshToken)
		if err != nil && isPermanentOAuthError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx))
	if err != nil {
		return "", fmt.Errorf("refresh jira token: %w", err)
	}

	next := payloadFromToken(tok)
	if next.RefreshToken == "" {
		next.RefreshToken = old.RefreshToken
	}
	data, err := json.Marshal(next)
	if err != nil {
		return "", fmt.Errorf("encode tokens: %w", err)
	}
	if _, err := c.Secrets.StoreSecret(ctx, secretNameFromPath(path), data); err != nil {
		return "", fmt.Errorf("persist refreshed tokens: %w", err)
	}
	c.logger().Info("refreshed jira token", "tool", ToolName)
	return next.AccessToken, nil
}

// isPermanentOAuthError treats 4xx token responses (invalid_grant and
// friends) as final.
func isPermanentOAuthError(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		code := re.Response.StatusCode
		return code >= http.StatusBadRequest && code < http.StatusInternalServerError
	}
	return false
}

// secretNameFromPath recovers the secret name from a path such as
// "projects/p/secrets/<name>/versions/3" or "memory://secrets/<name>", so
// refreshed tokens land in the secret the index already points at.
func secretNameFromPath(path string) string {
	if i := strings.Index(path, "/secrets/"); i >= 0 {
		name, _, _ := strings.Cut(path[i+len("/secrets/"):], "/")
		return name
	}
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
