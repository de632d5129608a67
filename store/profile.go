package store

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hkinc45/dev-kitchen-session/errors"
	"github.com/hkinc45/dev-kitchen-session/metrics"
	"github.com/hkinc45/dev-kitchen-session/models"
	"github.com/hkinc45/dev-kitchen-session/resource_types"
)

// ErrStale is returned when a call completed for an identity that is no longer current.
// Its result was not applied to held state.
var ErrStale = stderrors.New("store: result discarded, identity is no longer current")

// Options wires a store into its owner.
type Options struct {
	Loop   Loop
	Logger zerolog.Logger
	// IsCurrent reports whether identityID is still the session's identity. Called on the loop.
	IsCurrent func(identityID string) bool
	// OnChange is called on the loop after any change to held state or the loading flag.
	OnChange func()
}

func (o Options) current(identityID string) bool {
	return o.IsCurrent == nil || o.IsCurrent(identityID)
}

func (o Options) changed() {
	if o.OnChange != nil {
		o.OnChange()
	}
}

// ProfileStore holds the profile of the current identity.
//
// Held state is owned by the loop: the accessors below must only be called from a
// function running on it. Backend I/O runs on the caller's goroutine.
type ProfileStore struct {
	backend ProfileBackend
	opts    Options
	locks   KeyLocks

	profile  *models.Profile
	inflight int
	gen      uint64
	settled  bool
}

func NewProfileStore(backend ProfileBackend, opts Options) *ProfileStore {
	return &ProfileStore{backend: backend, opts: opts}
}

// Profile returns a copy of the held profile, or nil.
func (s *ProfileStore) Profile() *models.Profile { return s.profile.Clone() }

// HasProfile reports whether a profile is held.
func (s *ProfileStore) HasProfile() bool { return s.profile != nil }

// Credits is the held profile's balance, or 0 when there is no profile.
func (s *ProfileStore) Credits() int {
	if s.profile == nil {
		return 0
	}
	return s.profile.Credits
}

// Loading reports whether any call is in flight.
func (s *ProfileStore) Loading() bool { return s.inflight > 0 }

// Settled reports whether a fetch has completed successfully since the last Reset.
func (s *ProfileStore) Settled() bool { return s.settled }

// Reset clears held state. Calls still in flight will not touch it when they complete.
func (s *ProfileStore) Reset() {
	s.profile = nil
	s.inflight = 0
	s.settled = false
	s.gen++
}

// begin marks a call in flight and returns the generation it belongs to.
func (s *ProfileStore) begin() (uint64, bool) {
	var gen uint64
	ok := s.opts.Loop.Do(func() {
		gen = s.gen
		s.inflight++
		s.opts.changed()
	})
	return gen, ok
}

// finish runs apply on the loop when the call's generation and identity are still current.
func (s *ProfileStore) finish(gen uint64, identityID string, err error, apply func()) error {
	stale := false
	ok := s.opts.Loop.Do(func() {
		if gen != s.gen {
			stale = true
			return
		}
		s.inflight--
		if err == nil {
			if !s.opts.current(identityID) {
				stale = true
			} else {
				apply()
			}
		}
		s.opts.changed()
	})
	switch {
	case err != nil:
		return err
	case !ok || stale:
		return ErrStale
	}
	return nil
}

// Fetch loads the profile for identityID and replaces the held one. A missing row yields
// nil without error. On failure the held profile is left untouched.
func (s *ProfileStore) Fetch(ctx context.Context, identityID string) (*models.Profile, error) {
	gen, ok := s.begin()
	if !ok {
		return nil, ErrStale
	}
	p, err := s.backend.GetProfile(ctx, identityID)
	if errors.Is(err, errors.KindNotFound) {
		p, err = nil, nil
	}
	err = s.finish(gen, identityID, err, func() {
		s.profile = p.Clone()
		s.settled = true
	})
	switch {
	case stderrors.Is(err, ErrStale):
		metrics.RecordFetch(resource_types.Profile, "stale")
		s.opts.Logger.Debug().Str("identity_id", identityID).Msg("discarded stale profile fetch")
		return nil, err
	case err != nil:
		metrics.RecordFetch(resource_types.Profile, "error")
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	case p == nil:
		metrics.RecordFetch(resource_types.Profile, "empty")
	default:
		metrics.RecordFetch(resource_types.Profile, "ok")
	}
	return p.Clone(), nil
}

// Update writes patch for identityID. When the patch carries a password, the credential
// write runs first and its failure aborts the profile write. Mutations for one identity
// are serialized.
func (s *ProfileStore) Update(ctx context.Context, identityID string, patch models.ProfilePatch) (models.Profile, error) {
	if err := models.ValidateProfilePatch(patch); err != nil {
		metrics.RecordMutation(resource_types.Profile, "update", string(errors.KindValidation))
		return models.Profile{}, err
	}
	unlock := s.locks.Lock(identityID)
	defer unlock()

	gen, ok := s.begin()
	if !ok {
		return models.Profile{}, ErrStale
	}
	updated, err := s.write(ctx, identityID, patch)
	err = s.finish(gen, identityID, err, func() {
		s.profile = updated.Clone()
		s.settled = true
	})
	metrics.RecordMutation(resource_types.Profile, "update", kindLabel(err))
	if err != nil {
		return models.Profile{}, err
	}
	return *updated.Clone(), nil
}

func (s *ProfileStore) write(ctx context.Context, identityID string, patch models.ProfilePatch) (*models.Profile, error) {
	if patch.Password != nil {
		err := s.backend.UpdatePassword(ctx, identityID, *patch.Password)
		metrics.RecordMutation(resource_types.Credential, "update", kindLabel(err))
		if err != nil {
			s.opts.Logger.Warn().Err(err).Str("identity_id", identityID).Msg("credential update failed, profile fields not written")
			if errors.Is(err, errors.KindSessionExpired) {
				return nil, err
			}
			return nil, errors.Wrap(errors.KindPasswordUpdateFailed, fmt.Errorf("failed to update password: %w", err))
		}
	}
	if !patch.HasFields() {
		p, err := s.backend.GetProfile(ctx, identityID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload profile: %w", err)
		}
		if p == nil {
			return nil, errors.NewNotFoundError("profile not found")
		}
		return p, nil
	}
	p, err := s.backend.UpdateProfile(ctx, identityID, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return &p, nil
}

// UpdateCredits persists a new balance and returns the stored value. Negative values are
// rejected before any I/O.
func (s *ProfileStore) UpdateCredits(ctx context.Context, identityID string, credits int) (int, error) {
	if err := models.ValidateCredits(credits); err != nil {
		metrics.RecordMutation(resource_types.Credits, "update", string(errors.KindValidation))
		return 0, err
	}
	unlock := s.locks.Lock(identityID)
	defer unlock()

	gen, ok := s.begin()
	if !ok {
		return 0, ErrStale
	}
	stored, err := s.backend.UpdateCredits(ctx, identityID, credits)
	if err != nil {
		err = fmt.Errorf("failed to update credits: %w", err)
	}
	err = s.finish(gen, identityID, err, func() {
		if s.profile != nil {
			next := s.profile.Clone()
			next.Credits = stored
			s.profile = next
		}
	})
	metrics.RecordMutation(resource_types.Credits, "update", kindLabel(err))
	if err != nil {
		return 0, err
	}
	return stored, nil
}

func kindLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case stderrors.Is(err, ErrStale):
		return "stale"
	default:
		return string(errors.Classify(err))
	}
}
