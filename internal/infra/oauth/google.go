// Package oauth implements the Google identity provider used for accepting
// invitations with a Google account.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/openctemio/invitations/internal/app"
	"github.com/openctemio/invitations/internal/config"
)

// GoogleUserInfoURL is the OpenID Connect userinfo endpoint.
const GoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

const maxResponseBytes = 1 << 20

// ErrNotConfigured is returned when the provider has no client credentials.
var ErrNotConfigured = errors.New("google oauth is not configured")

// GoogleProvider exchanges authorization codes with Google.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

var _ app.IdentityProvider = (*GoogleProvider)(nil)

// Option configures a GoogleProvider.
type Option func(*GoogleProvider)

// WithEndpoints overrides the token and userinfo endpoints.
func WithEndpoints(authURL, tokenURL, userInfoURL string) Option {
	return func(p *GoogleProvider) {
		p.config.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams}
		p.userInfoURL = userInfoURL
	}
}

// NewGoogleProvider creates a provider from configuration. timeout bounds
// every call to Google.
func NewGoogleProvider(cfg config.OAuthProviderConfig, timeout time.Duration, opts ...Option) (*GoogleProvider, error) {
	if !cfg.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}

	p := &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
		userInfoURL: GoogleUserInfoURL,
		httpClient:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// AuthCodeURL returns the consent URL for state.
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades code for tokens and loads the signed-in profile.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*app.GoogleProfile, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get user info: status %d", resp.StatusCode)
	}

	var data struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		GivenName     string `json:"given_name"`
		FamilyName    string `json:"family_name"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	if data.Sub == "" || data.Email == "" {
		return nil, errors.New("user info is missing subject or email")
	}

	return &app.GoogleProfile{
		Subject:       data.Sub,
		Email:         data.Email,
		EmailVerified: data.EmailVerified,
		FirstName:     data.GivenName,
		LastName:      data.FamilyName,
	}, nil
}
