package auth

import (
	"context"

	"github.com/hkinc45/dev-kitchen-session/models"
)

// TokenVerifier defines the interface required by the middleware to resolve a bearer
// token into the identity it was issued to. Any server that uses the middleware must
// provide an implementation of this interface.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, raw string) (models.Identity, error)
}

// TokenVerifierFunc adapts a function to TokenVerifier.
type TokenVerifierFunc func(ctx context.Context, raw string) (models.Identity, error)

func (f TokenVerifierFunc) VerifyToken(ctx context.Context, raw string) (models.Identity, error) {
	return f(ctx, raw)
}
