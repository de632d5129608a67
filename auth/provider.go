package auth

import (
	"context"
	"time"

	"github.com/hkinc45/dev-kitchen-session/models"
)

// Session is what a provider hands back for an authenticated principal.
type Session struct {
	Identity     models.Identity `json:"identity"`
	Token        string          `json:"token"` // bearer token for the persistence API
	IDToken      string          `json:"id_token,omitempty"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// Provider is the primitive contract of an external identity provider. Errors must be
// classifiable by errors.Classify.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (Session, error)
	SignUp(ctx context.Context, email, password string, attrs map[string]string) (Session, error)
	// SignOut ends the session at the provider. The local session is cleared regardless.
	SignOut(ctx context.Context, s Session) error
	// Restore validates a persisted session. An expired session fails with SessionExpired.
	Restore(ctx context.Context, s Session) (Session, error)
}
