package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hkinc45/dev-kitchen-session/errors"
	"github.com/hkinc45/dev-kitchen-session/models"
)

// OIDCConfig configures an OIDCProvider.
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	// AdminURL and Realm locate the Keycloak admin API used for sign-up.
	AdminURL   string
	Realm      string
	HTTPClient *http.Client
}

// OIDCProvider signs users in against an OIDC provider with the resource owner password
// grant and verifies the returned ID tokens.
type OIDCProvider struct {
	cfg           OIDCConfig
	oauth         *oauth2.Config
	admin         *clientcredentials.Config
	verifier      *oidc.IDTokenVerifier
	endSessionURL string
}

// NewOIDCProvider discovers the issuer and builds a provider.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" {
		return nil, stderrors.New("oidc config missing required fields")
	}
	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to init oidc provider: %w", err)
	}
	var discovery struct {
		EndSessionURL string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&discovery); err != nil {
		return nil, fmt.Errorf("failed to read oidc discovery document: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return newOIDCProvider(cfg, verifier, provider.Endpoint(), discovery.EndSessionURL), nil
}

func newOIDCProvider(cfg OIDCConfig, verifier *oidc.IDTokenVerifier, endpoint oauth2.Endpoint, endSessionURL string) *OIDCProvider {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &OIDCProvider{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		admin: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     endpoint.TokenURL,
		},
		verifier:      verifier,
		endSessionURL: endSessionURL,
	}
}

func (p *OIDCProvider) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.cfg.HTTPClient)
}

func (p *OIDCProvider) SignIn(ctx context.Context, email, password string) (Session, error) {
	token, err := p.oauth.PasswordCredentialsToken(p.httpContext(ctx), email, password)
	if err != nil {
		return Session{}, classifyTokenError(err)
	}
	return p.sessionFromToken(ctx, token)
}

func (p *OIDCProvider) SignUp(ctx context.Context, email, password string, attrs map[string]string) (Session, error) {
	if err := models.ValidatePassword(password); err != nil {
		return Session{}, err
	}
	if p.cfg.AdminURL == "" || p.cfg.Realm == "" {
		return Session{}, errors.NewInternalServerError("sign-up is not configured for this provider")
	}
	adminToken, err := p.admin.Token(p.httpContext(ctx))
	if err != nil {
		return Session{}, fmt.Errorf("failed to obtain admin token: %w", classifyTokenError(err))
	}
	if err := createUser(ctx, p.cfg.HTTPClient, p.cfg.AdminURL, p.cfg.Realm, adminToken.AccessToken, email, password, attrs); err != nil {
		return Session{}, err
	}
	return p.SignIn(ctx, email, password)
}

// SignOut ends the session at the provider's end_session_endpoint using the refresh token.
func (p *OIDCProvider) SignOut(ctx context.Context, s Session) error {
	if p.endSessionURL == "" || s.RefreshToken == "" {
		return nil
	}
	data := url.Values{}
	data.Set("client_id", p.cfg.ClientID)
	data.Set("client_secret", p.cfg.ClientSecret)
	data.Set("refresh_token", s.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endSessionURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create logout request: %w", err)
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform logout request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewAPIError(resp.StatusCode, fmt.Sprintf("logout failed with status %d", resp.StatusCode))
	}
	return nil
}

func (p *OIDCProvider) Restore(ctx context.Context, s Session) (Session, error) {
	identity, err := p.verifyIDToken(ctx, s.IDToken)
	if err != nil {
		return Session{}, err
	}
	s.Identity = identity
	return s, nil
}

func (p *OIDCProvider) sessionFromToken(ctx context.Context, token *oauth2.Token) (Session, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Session{}, stderrors.New("oidc provider did not return id_token")
	}
	identity, err := p.verifyIDToken(ctx, rawIDToken)
	if err != nil {
		return Session{}, err
	}
	expires := token.Expiry
	if expires.IsZero() {
		expires = time.Now().Add(time.Hour)
	}
	return Session{
		Identity:     identity,
		Token:        token.AccessToken,
		IDToken:      rawIDToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expires,
	}, nil
}

func (p *OIDCProvider) verifyIDToken(ctx context.Context, raw string) (models.Identity, error) {
	idToken, err := p.verifier.Verify(oidc.ClientContext(ctx, p.cfg.HTTPClient), raw)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if stderrors.As(err, &expired) {
			return models.Identity{}, errors.ErrSessionExpired
		}
		return models.Identity{}, fmt.Errorf("id_token verification failed: %w", err)
	}

	var claims struct {
		Subject       string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return models.Identity{}, fmt.Errorf("id_token claims parse failed: %w", err)
	}
	if claims.Subject == "" || claims.Email == "" {
		return models.Identity{}, stderrors.New("id_token missing required claims")
	}
	return models.Identity{ID: claims.Subject, Email: claims.Email, EmailVerified: claims.EmailVerified}, nil
}

// classifyTokenError maps token endpoint failures onto the error taxonomy.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if !stderrors.As(err, &re) {
		return err
	}
	switch {
	case re.ErrorCode == "invalid_grant":
		return errors.ErrInvalidCredentials
	case re.Response != nil && re.Response.StatusCode >= 500:
		return errors.Wrap(errors.KindNetwork, err)
	}
	return err
}
