package store

import (
	"context"

	"github.com/hkinc45/dev-kitchen-session/models"
)

// ProfileBackend is the persistence boundary for profile rows and the credential side channel.
type ProfileBackend interface {
	// GetProfile returns nil, nil when no profile row exists for id.
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) (models.Profile, error)
	UpdateCredits(ctx context.Context, id string, credits int) (int, error)
	UpdatePassword(ctx context.Context, id, password string) error
}

// AddressBackend is the persistence boundary for address rows. Every call is scoped to
// the owning identity; touching another owner's row fails with Forbidden.
type AddressBackend interface {
	// ListAddresses returns the owner's addresses, most recently created first.
	ListAddresses(ctx context.Context, ownerID string) ([]models.Address, error)
	CreateAddress(ctx context.Context, ownerID string, in models.AddressInput) (models.Address, error)
	UpdateAddress(ctx context.Context, ownerID, addressID string, in models.AddressInput) (models.Address, error)
	// DeleteAddress reports false, nil when the address does not exist.
	DeleteAddress(ctx context.Context, ownerID, addressID string) (bool, error)
}

// Provisioner creates profile rows. Creating a profile that already exists fails with
// errors.ErrConflict.
type Provisioner interface {
	CreateProfile(ctx context.Context, p models.Profile) (models.Profile, error)
}

// Backend is a full persistence implementation.
type Backend interface {
	ProfileBackend
	AddressBackend
}

// Loop runs fn on the goroutine that owns held store state and waits for it to finish.
// It returns false when the loop is closed and fn did not run.
type Loop interface {
	Do(fn func()) bool
}
