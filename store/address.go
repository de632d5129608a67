package store

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/hkinc45/dev-kitchen-session/errors"
	"github.com/hkinc45/dev-kitchen-session/metrics"
	"github.com/hkinc45/dev-kitchen-session/models"
	"github.com/hkinc45/dev-kitchen-session/resource_types"
)

// AddressStore holds the address list of the current identity, newest first.
// Same ownership rules as ProfileStore.
type AddressStore struct {
	backend AddressBackend
	opts    Options
	locks   KeyLocks

	addresses []models.Address
	inflight  int
	gen       uint64
	settled   bool
}

func NewAddressStore(backend AddressBackend, opts Options) *AddressStore {
	return &AddressStore{backend: backend, opts: opts}
}

// Addresses returns a copy of the held list; never nil.
func (s *AddressStore) Addresses() []models.Address { return models.CloneAddresses(s.addresses) }

func (s *AddressStore) Loading() bool { return s.inflight > 0 }

// Settled reports whether a fetch has completed successfully since the last Reset.
func (s *AddressStore) Settled() bool { return s.settled }

func (s *AddressStore) Reset() {
	s.addresses = nil
	s.inflight = 0
	s.settled = false
	s.gen++
}

func (s *AddressStore) begin() (uint64, bool) {
	var gen uint64
	ok := s.opts.Loop.Do(func() {
		gen = s.gen
		s.inflight++
		s.opts.changed()
	})
	return gen, ok
}

func (s *AddressStore) finish(gen uint64, identityID string, err error, apply func()) error {
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

// Fetch replaces the held list with the owner's addresses. On failure the held list is
// left untouched.
func (s *AddressStore) Fetch(ctx context.Context, identityID string) ([]models.Address, error) {
	gen, ok := s.begin()
	if !ok {
		return nil, ErrStale
	}
	list, err := s.backend.ListAddresses(ctx, identityID)
	err = s.finish(gen, identityID, err, func() {
		s.addresses = models.CloneAddresses(list)
		s.settled = true
	})
	switch {
	case stderrors.Is(err, ErrStale):
		metrics.RecordFetch(resource_types.Address, "stale")
		s.opts.Logger.Debug().Str("identity_id", identityID).Msg("discarded stale address fetch")
		return nil, err
	case err != nil:
		metrics.RecordFetch(resource_types.Address, "error")
		return nil, fmt.Errorf("failed to fetch addresses: %w", err)
	case len(list) == 0:
		metrics.RecordFetch(resource_types.Address, "empty")
	default:
		metrics.RecordFetch(resource_types.Address, "ok")
	}
	return models.CloneAddresses(list), nil
}

// Add creates an address for identityID and prepends it to the held list.
func (s *AddressStore) Add(ctx context.Context, identityID string, in models.AddressInput) (models.Address, error) {
	if err := models.ValidateAddress(in); err != nil {
		metrics.RecordMutation(resource_types.Address, "add", string(errors.KindValidation))
		return models.Address{}, err
	}
	return s.mutate(identityID, "add", func() (models.Address, error) {
		return s.backend.CreateAddress(ctx, identityID, in)
	}, func(a models.Address) {
		s.addresses = append([]models.Address{a}, s.addresses...)
	})
}

// Update replaces addressID's fields. The entry keeps its position in the held list.
func (s *AddressStore) Update(ctx context.Context, identityID, addressID string, in models.AddressInput) (models.Address, error) {
	if err := models.ValidateAddress(in); err != nil {
		metrics.RecordMutation(resource_types.Address, "update", string(errors.KindValidation))
		return models.Address{}, err
	}
	return s.mutate(identityID, "update", func() (models.Address, error) {
		return s.backend.UpdateAddress(ctx, identityID, addressID, in)
	}, func(a models.Address) {
		next := models.CloneAddresses(s.addresses)
		for i := range next {
			if next[i].ID == a.ID {
				next[i] = a
				s.addresses = next
				return
			}
		}
		s.addresses = append([]models.Address{a}, next...)
	})
}

// Delete removes addressID. Deleting an unknown id is not an error and reports false.
func (s *AddressStore) Delete(ctx context.Context, identityID, addressID string) (bool, error) {
	unlock := s.locks.Lock(identityID)
	defer unlock()

	gen, ok := s.begin()
	if !ok {
		return false, ErrStale
	}
	deleted, err := s.backend.DeleteAddress(ctx, identityID, addressID)
	if err != nil {
		err = fmt.Errorf("failed to delete address: %w", err)
	}
	err = s.finish(gen, identityID, err, func() {
		next := make([]models.Address, 0, len(s.addresses))
		for _, a := range s.addresses {
			if a.ID != addressID {
				next = append(next, a)
			}
		}
		s.addresses = next
	})
	metrics.RecordMutation(resource_types.Address, "delete", kindLabel(err))
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (s *AddressStore) mutate(identityID, op string, call func() (models.Address, error), apply func(models.Address)) (models.Address, error) {
	unlock := s.locks.Lock(identityID)
	defer unlock()

	gen, ok := s.begin()
	if !ok {
		return models.Address{}, ErrStale
	}
	a, err := call()
	if err != nil {
		err = fmt.Errorf("failed to %s address: %w", op, err)
	}
	err = s.finish(gen, identityID, err, func() { apply(a.Clone()) })
	metrics.RecordMutation(resource_types.Address, op, kindLabel(err))
	if err != nil {
		return models.Address{}, err
	}
	return a, nil
}
