package session

import (
	"github.com/hkinc45/dev-kitchen-session/errors"
	"github.com/hkinc45/dev-kitchen-session/models"
)

// Phase is the lifecycle position of the session.
type Phase string

const (
	PhaseUnresolved     Phase = "unresolved"
	PhaseAnonymous      Phase = "anonymous"
	PhaseAuthenticating Phase = "authenticating"
	PhaseResolving      Phase = "resolving"
	PhaseReady          Phase = "ready"
	PhaseSelfHealing    Phase = "self_healing"
)

// View is an immutable snapshot of the reconciled session. Every change produces a new
// View with a higher Version; a View is never modified after it is published.
type View struct {
	Version  uint64           `json:"version"`
	Phase    Phase            `json:"phase"`
	Identity *models.Identity `json:"identity"`
	// IdentityResolved is false until the identity source has left its unknown state.
	IdentityResolved bool `json:"identity_resolved"`

	Profile   *models.Profile  `json:"profile"`
	Credits   int              `json:"credits"`
	Addresses []models.Address `json:"addresses"`

	OverallLoading   bool `json:"overall_loading"`
	IdentityLoading  bool `json:"identity_loading"`
	ProfileLoading   bool `json:"profile_loading"`
	AddressesLoading bool `json:"addresses_loading"`

	// LastError is the most recent background fetch failure for the current identity.
	LastError     string      `json:"last_error,omitempty"`
	LastErrorKind errors.Kind `json:"last_error_kind,omitempty"`
}

// IdentityID returns the identity id, or "".
func (v *View) IdentityID() string {
	if v == nil || v.Identity == nil {
		return ""
	}
	return v.Identity.ID
}

func derivePhase(in loadingInputs, selfHealing bool) Phase {
	switch {
	case in.Unresolved:
		return PhaseUnresolved
	case in.Authenticating:
		return PhaseAuthenticating
	case !in.HasIdentity:
		return PhaseAnonymous
	case selfHealing:
		return PhaseSelfHealing
	case !in.HasProfile || overallLoading(in):
		return PhaseResolving
	default:
		return PhaseReady
	}
}
