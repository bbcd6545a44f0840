// Package oauth drives the Google sign-in lifecycle for Antigravity
// accounts: authorization URLs with PKCE, code exchange, and lazy token
// refresh with invalid-grant classification.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/ink-splatters/opencode-antigravity-auth/internal/account"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/config"
)

// Authorization is a pending sign-in handle. State is also embedded in URL
// and joins the redirect back to the exchange.
type Authorization struct {
	URL      string
	State    string
	Verifier string
}

// ExchangeResult is a completed enrollment: the account's display email and
// the composite refresh string for the host credential store.
type ExchangeResult struct {
	Email   string
	Refresh string
}

type pendingAuth struct {
	verifier  string
	projectID string
}

// Client wraps the Google OAuth endpoints for the Antigravity client id.
type Client struct {
	cfg  *oauth2.Config
	http *http.Client

	tokenURL    string
	userInfoURL string

	mu      sync.Mutex
	pending map[string]pendingAuth // state → PKCE material
}

func NewClient(redirectURL string) *Client {
	return &Client{
		tokenURL:    config.OAuthTokenURL,
		userInfoURL: config.OAuthUserInfoURL,
		cfg: &oauth2.Config{
			ClientID:     config.OAuthClientID,
			ClientSecret: config.OAuthClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       config.OAuthScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  config.OAuthAuthURL,
				TokenURL: config.OAuthTokenURL,
			},
		},
		http:    &http.Client{Timeout: 30 * time.Second},
		pending: make(map[string]pendingAuth),
	}
}

// SetRedirectURL points the client at the loopback listener chosen for this
// flow. Must be set before Authorize.
func (c *Client) SetRedirectURL(u string) {
	c.cfg.RedirectURL = u
}

// Authorize builds a consent URL with fresh PKCE material and a random
// state. projectID rides along so the exchange can bind the consent to the
// user's chosen project.
func (c *Client) Authorize(projectID string) (Authorization, error) {
	verifier := oauth2.GenerateVerifier()
	state := oauth2.GenerateVerifier()

	authURL := c.cfg.AuthCodeURL(
		state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)

	c.mu.Lock()
	c.pending[state] = pendingAuth{verifier: verifier, projectID: projectID}
	c.mu.Unlock()

	return Authorization{URL: authURL, State: state, Verifier: verifier}, nil
}

// Exchange completes the code→token exchange for a previously issued state.
func (c *Client) Exchange(ctx context.Context, code, state string) (ExchangeResult, error) {
	c.mu.Lock()
	pend, ok := c.pending[state]
	if ok {
		delete(c.pending, state)
	}
	c.mu.Unlock()
	if !ok {
		return ExchangeResult{}, fmt.Errorf("unknown oauth state %q", state)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	token, err := c.cfg.Exchange(ctx, code, oauth2.VerifierOption(pend.verifier))
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("exchange authorization code: %w", err)
	}
	if token.RefreshToken == "" {
		return ExchangeResult{}, fmt.Errorf("provider returned no refresh token")
	}

	email, err := c.fetchEmail(ctx, token.AccessToken)
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("fetch user info: %w", err)
	}

	refresh := account.ComposeRefresh(account.Parts{
		RefreshToken: token.RefreshToken,
		ProjectID:    pend.projectID,
	})
	return ExchangeResult{Email: email, Refresh: refresh}, nil
}

// refreshResponse is the token endpoint's refresh grant reply.
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type refreshErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Refresh obtains a new access token using the composite's embedded refresh
// token. Project parts of the composite survive the refresh unchanged.
func (c *Client) Refresh(ctx context.Context, rec account.AuthRecord) (account.AuthRecord, error) {
	parts := rec.Parts()
	if parts.RefreshToken == "" {
		return rec, fmt.Errorf("empty refresh token")
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {parts.RefreshToken},
		"client_id":     {config.OAuthClientID},
		"client_secret": {config.OAuthClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return rec, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", config.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return rec, fmt.Errorf("token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return rec, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var oauthErr refreshErrorBody
		_ = json.Unmarshal(body, &oauthErr)
		return rec, &RefreshError{
			Status:      resp.StatusCode,
			Code:        oauthErr.Error,
			Description: oauthErr.ErrorDescription,
		}
	}

	var tok refreshResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return rec, fmt.Errorf("parse token response: %w", err)
	}
	if tok.AccessToken == "" {
		return rec, fmt.Errorf("empty access_token in refresh response")
	}

	// Google occasionally rotates the refresh token; adopt it when present.
	if tok.RefreshToken != "" {
		parts.RefreshToken = tok.RefreshToken
	}
	expires := time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second).UnixMilli()
	return account.NewAuthRecord(parts, tok.AccessToken, expires), nil
}

func (c *Client) fetchEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("parse userinfo: %w", err)
	}
	return info.Email, nil
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
