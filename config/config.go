package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment prefix for every setting, e.g. SESSION_GRACE_PERIOD.
const Prefix = "SESSION"

// Config holds the settings shared by the session engine and its binaries.
type Config struct {
	// Logging
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat  string `envconfig:"LOG_FORMAT" default:"console"` // console|json
	LogNoColor bool   `envconfig:"LOG_NOCOLOR" default:"false"`

	// Reconciler
	GracePeriod  time.Duration `envconfig:"GRACE_PERIOD" default:"1s"`
	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"10s"`

	// Identity provider
	OIDCIssuerURL    string `envconfig:"OIDC_ISSUER_URL"`
	OIDCClientID     string `envconfig:"OIDC_CLIENT_ID"`
	OIDCClientSecret string `envconfig:"OIDC_CLIENT_SECRET"`
	OIDCAdminURL     string `envconfig:"OIDC_ADMIN_URL"`
	OIDCRealm        string `envconfig:"OIDC_REALM"`

	// Built-in token issuer, used when no OIDC issuer is configured.
	JWTSecret string        `envconfig:"JWT_SECRET"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"1h"`

	// Persistence API
	APIBaseURL string `envconfig:"API_BASE_URL" default:"http://localhost:8080"`

	// Session cache
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	ClientID      string `envconfig:"CLIENT_ID" default:"default"`

	// Messaging
	NATSURL       string `envconfig:"NATS_URL"`
	SubjectPrefix string `envconfig:"SUBJECT_PREFIX" default:"session"`
	StreamName    string `envconfig:"STREAM_NAME" default:"PROFILES"`
	DurableName   string `envconfig:"DURABLE_NAME" default:"session-provisioning"`

	// Persistence server
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`
	DatabaseDSN string `envconfig:"DATABASE_DSN"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c Config) Validate() error {
	if c.GracePeriod <= 0 {
		return fmt.Errorf("config: grace period must be positive, got %s", c.GracePeriod)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("config: fetch timeout must be positive, got %s", c.FetchTimeout)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	if !c.UseOIDC() && c.JWTSecret == "" {
		return fmt.Errorf("config: a JWT secret is required without an OIDC issuer")
	}
	if c.OIDCIssuerURL != "" && c.OIDCClientID == "" {
		return fmt.Errorf("config: OIDC client id is required when an issuer is set")
	}
	return nil
}

// UseOIDC reports whether an external identity provider is configured.
func (c Config) UseOIDC() bool {
	return c.OIDCIssuerURL != ""
}
