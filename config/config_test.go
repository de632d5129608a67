package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESSION_JWT_SECRET", "test-secret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GracePeriod != time.Second {
		t.Fatalf("unexpected grace period: %v", cfg.GracePeriod)
	}
	if cfg.LogFormat != "console" {
		t.Fatalf("unexpected log format: %q", cfg.LogFormat)
	}
	if cfg.SubjectPrefix != "session" {
		t.Fatalf("unexpected subject prefix: %q", cfg.SubjectPrefix)
	}
	if cfg.UseOIDC() {
		t.Fatalf("oidc must be off without an issuer")
	}
}

func TestLoadRequiresJWTSecretWithoutOIDC(t *testing.T) {
	t.Setenv("SESSION_JWT_SECRET", "")
	t.Setenv("SESSION_OIDC_ISSUER_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected load to fail without a jwt secret")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SESSION_GRACE_PERIOD", "1500ms")
	t.Setenv("SESSION_LOG_FORMAT", "json")
	t.Setenv("SESSION_OIDC_ISSUER_URL", "https://id.example.com/realms/kitchen")
	t.Setenv("SESSION_OIDC_CLIENT_ID", "web")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GracePeriod != 1500*time.Millisecond {
		t.Fatalf("unexpected grace period: %v", cfg.GracePeriod)
	}
	if cfg.LogFormat != "json" || !cfg.UseOIDC() {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := Config{GracePeriod: time.Second, FetchTimeout: time.Second, LogFormat: "console", JWTSecret: "s"}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config rejected: %v", err)
	}
	bad := base
	bad.GracePeriod = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected zero grace period to fail")
	}
	bad = base
	bad.LogFormat = "xml"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected unknown log format to fail")
	}
	bad = base
	bad.OIDCIssuerURL = "https://id.example.com"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected missing client id to fail")
	}
	bad = base
	bad.JWTSecret = ""
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected missing jwt secret to fail")
	}
}
