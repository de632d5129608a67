package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/hkinc45/dev-kitchen-session/errors"
)

type fakeIssuer struct {
	t      *testing.T
	key    *rsa.PrivateKey
	server *httptest.Server

	mu         sync.Mutex
	users      map[string]string // email -> password
	logouts    []string
	tokenDown  bool
	createdVia string
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &fakeIssuer{t: t, key: key, users: map[string]string{"a@x.com": "password1"}}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", f.token)
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.logouts = append(f.logouts, r.PostForm.Get("refresh_token"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/admin/realms/kitchen/users", func(w http.ResponseWriter, r *http.Request) {
		var body keycloakUser
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.createdVia = r.Header.Get("Authorization")
		if _, exists := f.users[body.Email]; exists {
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.users[body.Email] = body.Credentials[0].Value
		w.WriteHeader(http.StatusCreated)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeIssuer) idToken(email string) string {
	claims := jwt.MapClaims{
		"iss":            f.server.URL,
		"aud":            "web",
		"sub":            "sub-" + email,
		"email":          email,
		"email_verified": true,
		"iat":            time.Now().Unix(),
		"exp":            time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(f.key)
	if err != nil {
		f.t.Fatalf("sign id_token: %v", err)
	}
	return signed
}

func (f *fakeIssuer) token(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	w.Header().Set("Content-Type", "application/json")
	f.mu.Lock()
	down := f.tokenDown
	f.mu.Unlock()
	if down {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "temporarily_unavailable"})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "client_credentials":
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "admin-token", "token_type": "Bearer", "expires_in": 60})
	case "password":
		email, password := r.PostForm.Get("username"), r.PostForm.Get("password")
		f.mu.Lock()
		stored, ok := f.users[email]
		f.mu.Unlock()
		if !ok || stored != password {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant", "error_description": "Invalid user credentials"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-" + email,
			"refresh_token": "refresh-" + email,
			"token_type":    "Bearer",
			"expires_in":    300,
			"id_token":      f.idToken(email),
		})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (f *fakeIssuer) provider() *OIDCProvider {
	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&f.key.PublicKey}}
	verifier := oidc.NewVerifier(f.server.URL, keys, &oidc.Config{ClientID: "web"})
	cfg := OIDCConfig{
		IssuerURL:    f.server.URL,
		ClientID:     "web",
		ClientSecret: "secret",
		AdminURL:     f.server.URL,
		Realm:        "kitchen",
		HTTPClient:   f.server.Client(),
	}
	endpoint := oauth2.Endpoint{TokenURL: f.server.URL + "/token", AuthStyle: oauth2.AuthStyleInParams}
	return newOIDCProvider(cfg, verifier, endpoint, f.server.URL+"/logout")
}

func TestOIDCProviderSignIn(t *testing.T) {
	f := newFakeIssuer(t)
	p := f.provider()
	session, err := p.SignIn(context.Background(), "a@x.com", "password1")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if session.Identity.ID != "sub-a@x.com" || session.Identity.Email != "a@x.com" {
		t.Fatalf("unexpected identity: %+v", session.Identity)
	}
	if session.Token != "access-a@x.com" || session.RefreshToken != "refresh-a@x.com" {
		t.Fatalf("unexpected tokens: %+v", session)
	}

	restored, err := p.Restore(context.Background(), Session{IDToken: session.IDToken})
	if err != nil || restored.Identity.ID != session.Identity.ID {
		t.Fatalf("restore: %+v, %v", restored, err)
	}
}

func TestOIDCProviderInvalidCredentials(t *testing.T) {
	f := newFakeIssuer(t)
	_, err := f.provider().SignIn(context.Background(), "a@x.com", "nope")
	if !errors.Is(err, errors.KindInvalidCredentials) {
		t.Fatalf("expected InvalidCredentials, got %v", err)
	}
}

func TestOIDCProviderOutageIsNetworkError(t *testing.T) {
	f := newFakeIssuer(t)
	f.tokenDown = true
	_, err := f.provider().SignIn(context.Background(), "a@x.com", "password1")
	if !errors.Is(err, errors.KindNetwork) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestOIDCProviderSignUp(t *testing.T) {
	f := newFakeIssuer(t)
	p := f.provider()
	ctx := context.Background()

	session, err := p.SignUp(ctx, "new@x.com", "password9", map[string]string{"first_name": "Ola"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if session.Identity.Email != "new@x.com" {
		t.Fatalf("unexpected identity: %+v", session.Identity)
	}
	if f.createdVia != "Bearer admin-token" {
		t.Fatalf("admin call used %q", f.createdVia)
	}

	if _, err := p.SignUp(ctx, "a@x.com", "password9", nil); !errors.Is(err, errors.KindEmailAlreadyInUse) {
		t.Fatalf("expected EmailAlreadyInUse, got %v", err)
	}
	if _, err := p.SignUp(ctx, "weak@x.com", "abc", nil); !errors.Is(err, errors.KindWeakPassword) {
		t.Fatalf("expected WeakPassword, got %v", err)
	}
}

func TestOIDCProviderSignOut(t *testing.T) {
	f := newFakeIssuer(t)
	if err := f.provider().SignOut(context.Background(), Session{RefreshToken: "refresh-a@x.com"}); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if len(f.logouts) != 1 || f.logouts[0] != "refresh-a@x.com" {
		t.Fatalf("unexpected logouts: %v", f.logouts)
	}
}
