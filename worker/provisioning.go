package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/hkinc45/dev-kitchen-session/notice"
)

// ProvisionedSubject returns the subject profile-provisioned events are published on.
func ProvisionedSubject(prefix string) string {
	return prefix + ".profile.provisioned"
}

// ProfileProvisioned announces that a profile row now exists for an identity.
type ProfileProvisioned struct {
	IdentityID string `json:"identity_id"`
}

// PublishProvisioned publishes a ProfileProvisioned event.
func PublishProvisioned(pub notice.Publisher, prefix, identityID string) error {
	data, err := json.Marshal(ProfileProvisioned{IdentityID: identityID})
	if err != nil {
		return fmt.Errorf("failed to marshal provisioning event: %w", err)
	}
	if err := pub.Publish(ProvisionedSubject(prefix), data); err != nil {
		return fmt.Errorf("failed to publish provisioning event: %w", err)
	}
	return nil
}

// ProvisioningTarget reacts to provisioned profiles. *session.Reconciler implements it.
type ProvisioningTarget interface {
	HandleProvisioned(identityID string) bool
}

// ProvisioningHandler feeds provisioning events into a ProvisioningTarget.
type ProvisioningHandler struct {
	Target ProvisioningTarget
	Logger zerolog.Logger
}

func decodeProvisioned(msg *nats.Msg) (ProfileProvisioned, error) {
	var ev ProfileProvisioned
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return ev, fmt.Errorf("failed to decode provisioning event: %w", err)
	}
	return ev, nil
}

// Process acks malformed events instead of redelivering them.
func (h *ProvisioningHandler) Process(_ context.Context, msg *nats.Msg) error {
	ev, err := decodeProvisioned(msg)
	if err != nil || ev.IdentityID == "" {
		h.Logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed provisioning event")
		return nil
	}
	refetched := h.Target.HandleProvisioned(ev.IdentityID)
	h.Logger.Debug().Str("identity_id", ev.IdentityID).Bool("refetched", refetched).Msg("provisioning event handled")
	return nil
}

// GetLockingKey serializes events for the same identity.
func (h *ProvisioningHandler) GetLockingKey(msg *nats.Msg) (string, error) {
	ev, err := decodeProvisioned(msg)
	if err != nil {
		// Process drops it; no ordering to preserve.
		return "", nil
	}
	return ev.IdentityID, nil
}
