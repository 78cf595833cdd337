package jira

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

const (
	// DefaultAuthURL is the Atlassian authorization server.
	DefaultAuthURL = "https://auth.atlassian.com"

	audience = "api.atlassian.com"

	// ToolName keys Jira credentials in the credential index.
	ToolName = "jira"

	statePrefix      = "user_uid_"
	secretNamePrefix = "jira-tokens-"
)

// DefaultScopes are requested on connect. offline_access yields a refresh
// token.
var DefaultScopes = []string{"read:jira-work", "read:jira-user", "write:jira-work", "offline_access"}

// OAuthConfig configures the 3LO flow.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// AuthURL overrides DefaultAuthURL, e.g. in tests.
	AuthURL string
	Scopes  []string
}

// OAuth runs the authorization-code and refresh-token grants.
type OAuth struct {
	config     *oauth2.Config
	HTTPClient *http.Client
}

// NewOAuth builds an OAuth helper from cfg.
func NewOAuth(cfg OAuthConfig) *OAuth {
	base := strings.TrimSuffix(cfg.AuthURL, "/")
	if base == "" {
		base = DefaultAuthURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &OAuth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/authorize",
				TokenURL:  base + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

// AuthCodeURL returns the URL the user is sent to for consent.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("audience", audience),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

func (o *OAuth) context(ctx context.Context) context.Context {
	if o.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, o.HTTPClient)
	}
	return ctx
}

// Exchange trades an authorization code for a token pair.
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := o.config.Exchange(o.context(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}

// Refresh trades a refresh token for a new pair. If the server does not
// rotate the refresh token, the returned token carries the old one.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := o.config.TokenSource(o.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return tok, nil
}

// StateFor returns the OAuth state value issued to uid.
func StateFor(uid string) string {
	return statePrefix + uid
}

// SecretName returns the secret name holding uid's tokens.
func SecretName(uid string) string {
	return secretNamePrefix + uid
}

// UIDFromState returns the uid a state value was issued to.
func UIDFromState(state string) (string, bool) {
	uid, ok := strings.CutPrefix(state, statePrefix)
	return uid, ok && uid != ""
}
