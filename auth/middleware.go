package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/hkinc45/dev-kitchen-session/errors"
	"github.com/hkinc45/dev-kitchen-session/models"
)

// Gin context keys set by UserAuth.
const (
	ContextIdentityID = "identity_id"
	ContextIdentity   = "identity"
)

// OIDCVerifier verifies access tokens issued by an OIDC provider for ClientID.
type OIDCVerifier struct {
	Verifier *oidc.IDTokenVerifier
	ClientID string
}

// NewOIDCVerifier discovers providerURL and builds a verifier for clientID.
func NewOIDCVerifier(ctx context.Context, providerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, providerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	// We use SkipClientIDCheck because we will perform a manual, more flexible
	// audience check that can handle both string and []string audiences.
	verifier := provider.Verifier(&oidc.Config{SkipClientIDCheck: true})

	return &OIDCVerifier{
		Verifier: verifier,
		ClientID: clientID,
	}, nil
}

func (v *OIDCVerifier) VerifyToken(ctx context.Context, raw string) (models.Identity, error) {
	token, err := v.Verifier.Verify(ctx, raw)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if stderrors.As(err, &expired) {
			return models.Identity{}, errors.ErrSessionExpired
		}
		return models.Identity{}, errors.NewUnauthorizedError("invalid token: " + err.Error())
	}

	var claims map[string]interface{}
	if err := token.Claims(&claims); err != nil {
		return models.Identity{}, errors.NewUnauthorizedError("failed to extract claims from token")
	}
	if !v.isAudienceValid(claims) {
		return models.Identity{}, errors.NewForbiddenError("token not valid for this service")
	}

	email, _ := claims["email"].(string)
	verified, _ := claims["email_verified"].(bool)
	return models.Identity{ID: token.Subject, Email: email, EmailVerified: verified}, nil
}

// isAudienceValid checks if the ClientID is present in the 'aud' claim or is the
// authorized party. It handles both string and []string formats for the audience claim.
func (v *OIDCVerifier) isAudienceValid(claims map[string]interface{}) bool {
	if azp, ok := claims["azp"].(string); ok && azp == v.ClientID {
		return true
	}
	aud, ok := claims["aud"]
	if !ok {
		return false
	}

	switch val := aud.(type) {
	case string:
		return val == v.ClientID
	case []interface{}:
		for _, a := range val {
			if s, ok := a.(string); ok && s == v.ClientID {
				return true
			}
		}
	}
	return false
}

// Middleware authenticates persistence API calls.
type Middleware struct {
	Verifier TokenVerifier
	Logger   zerolog.Logger
}

func NewMiddleware(verifier TokenVerifier, logger zerolog.Logger) *Middleware {
	return &Middleware{Verifier: verifier, Logger: logger}
}

func abortWith(c *gin.Context, err *errors.APIError) {
	c.AbortWithStatusJSON(err.StatusCode, err)
}

// UserAuth validates the bearer token and stores the identity in the gin context.
func (m *Middleware) UserAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			abortWith(c, errors.NewUnauthorizedError("authorization header required"))
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		identity, err := m.Verifier.VerifyToken(c.Request.Context(), tokenString)
		if err != nil {
			m.Logger.Info().Err(err).Msg("token verification failed")
			var apiErr *errors.APIError
			if !stderrors.As(err, &apiErr) {
				apiErr = errors.NewUnauthorizedError("invalid token")
			}
			abortWith(c, apiErr)
			return
		}

		c.Set(ContextIdentityID, identity.ID)
		c.Set(ContextIdentity, identity)
		c.Next()
	}
}

// RequireOwner rejects requests whose path parameter paramName names a different
// identity than the authenticated one. Must run after UserAuth.
func (m *Middleware) RequireOwner(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.Param(paramName)
		if ownerID == "" {
			abortWith(c, errors.NewBadRequestError(fmt.Sprintf("missing identity in URL parameter: %s", paramName)))
			return
		}
		if c.GetString(ContextIdentityID) != ownerID {
			m.Logger.Info().
				Str("identity_id", c.GetString(ContextIdentityID)).
				Str("owner_id", ownerID).
				Msg("cross-identity access denied")
			abortWith(c, errors.NewForbiddenError("resource belongs to another identity"))
			return
		}
		c.Next()
	}
}
