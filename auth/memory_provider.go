package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/hkinc45/dev-kitchen-session/errors"
	"github.com/hkinc45/dev-kitchen-session/models"
)

// Claims is the payload of tokens issued by MemoryProvider.
type Claims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

type account struct {
	id       string
	hash     []byte
	verified bool
	attrs    map[string]string
}

// MemoryProvider is an in-process identity provider issuing HS256 session tokens.
// It backs tests and development setups without an OIDC issuer.
type MemoryProvider struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock

	mu          sync.Mutex
	accounts    map[string]*account // by lower-cased email
	unreachable bool

	// OnSignUp, when set, runs after an account is created. Used to emulate external
	// profile provisioning.
	OnSignUp func(models.Identity, map[string]string)
}

func NewMemoryProvider(secret []byte, ttl time.Duration, clock clockwork.Clock) *MemoryProvider {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryProvider{
		secret:   secret,
		ttl:      ttl,
		clock:    clock,
		accounts: make(map[string]*account),
	}
}

// SetReachable toggles simulated provider outages. While unreachable every call fails
// with NetworkError.
func (p *MemoryProvider) SetReachable(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unreachable = !ok
}

func (p *MemoryProvider) reachable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unreachable {
		return errors.NewNetworkError("identity provider unreachable")
	}
	return nil
}

// AddAccount registers an account directly and returns its identity.
func (p *MemoryProvider) AddAccount(email, password string, verified bool) (models.Identity, error) {
	if err := models.ValidatePassword(password); err != nil {
		return models.Identity{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to hash password: %w", err)
	}
	key := strings.ToLower(strings.TrimSpace(email))
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.accounts[key]; exists {
		return models.Identity{}, errors.ErrEmailAlreadyInUse
	}
	acc := &account{id: uuid.NewString(), hash: hash, verified: verified}
	p.accounts[key] = acc
	return models.Identity{ID: acc.id, Email: key, EmailVerified: verified}, nil
}

func (p *MemoryProvider) SignIn(_ context.Context, email, password string) (Session, error) {
	if err := p.reachable(); err != nil {
		return Session{}, err
	}
	key := strings.ToLower(strings.TrimSpace(email))
	p.mu.Lock()
	acc, ok := p.accounts[key]
	p.mu.Unlock()
	if !ok {
		return Session{}, errors.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return Session{}, errors.ErrInvalidCredentials
	}
	return p.issue(models.Identity{ID: acc.id, Email: key, EmailVerified: acc.verified})
}

func (p *MemoryProvider) SignUp(ctx context.Context, email, password string, attrs map[string]string) (Session, error) {
	if err := p.reachable(); err != nil {
		return Session{}, err
	}
	identity, err := p.AddAccount(email, password, false)
	if err != nil {
		return Session{}, err
	}
	p.mu.Lock()
	p.accounts[identity.Email].attrs = attrs
	hook := p.OnSignUp
	p.mu.Unlock()
	if hook != nil {
		hook(identity, attrs)
	}
	return p.SignIn(ctx, email, password)
}

func (p *MemoryProvider) SignOut(context.Context, Session) error {
	return p.reachable()
}

func (p *MemoryProvider) Restore(ctx context.Context, s Session) (Session, error) {
	if err := p.reachable(); err != nil {
		return Session{}, err
	}
	identity, err := p.VerifyToken(ctx, s.Token)
	if err != nil {
		return Session{}, err
	}
	s.Identity = identity
	return s, nil
}

// VerifyToken implements TokenVerifier for tokens issued by this provider.
func (p *MemoryProvider) VerifyToken(_ context.Context, raw string) (models.Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(p.clock.Now))
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return models.Identity{}, errors.ErrSessionExpired
		}
		return models.Identity{}, errors.NewUnauthorizedError("invalid token: " + err.Error())
	}
	if claims.Subject == "" {
		return models.Identity{}, errors.NewUnauthorizedError("token has no subject")
	}
	return models.Identity{ID: claims.Subject, Email: claims.Email, EmailVerified: claims.EmailVerified}, nil
}

// Issue mints a session token for identity without a password check.
func (p *MemoryProvider) Issue(identity models.Identity) (Session, error) {
	return p.issue(identity)
}

func (p *MemoryProvider) issue(identity models.Identity) (Session, error) {
	now := p.clock.Now()
	expires := now.Add(p.ttl)
	claims := Claims{
		Email:         identity.Email,
		EmailVerified: identity.EmailVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return Session{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return Session{Identity: identity, Token: token, ExpiresAt: expires}, nil
}
