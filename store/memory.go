package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/hkinc45/dev-kitchen-session/errors"
	"github.com/hkinc45/dev-kitchen-session/models"
)

// MemoryBackend is an in-process Backend used by tests and the development server.
type MemoryBackend struct {
	clock clockwork.Clock

	mu          sync.RWMutex
	profiles    map[string]models.Profile
	credentials map[string][]byte
	addresses   map[string]memoryAddress
	seq         uint64
}

type memoryAddress struct {
	addr models.Address
	seq  uint64
}

func NewMemoryBackend(clock clockwork.Clock) *MemoryBackend {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryBackend{
		clock:       clock,
		profiles:    make(map[string]models.Profile),
		credentials: make(map[string][]byte),
		addresses:   make(map[string]memoryAddress),
	}
}

// PutProfile provisions or replaces a profile row.
func (m *MemoryBackend) PutProfile(p models.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = m.clock.Now()
	}
	m.profiles[p.ID] = *p.Clone()
}

func (m *MemoryBackend) CreateProfile(_ context.Context, p models.Profile) (models.Profile, error) {
	if err := models.ValidateCredits(p.Credits); err != nil {
		return models.Profile{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.profiles[p.ID]; exists {
		return models.Profile{}, errors.ErrConflict
	}
	p.UpdatedAt = m.clock.Now()
	m.profiles[p.ID] = *p.Clone()
	return p, nil
}

// DeleteProfile removes a profile row.
func (m *MemoryBackend) DeleteProfile(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, id)
}

func (m *MemoryBackend) GetProfile(_ context.Context, id string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (m *MemoryBackend) UpdateProfile(_ context.Context, id string, patch models.ProfilePatch) (models.Profile, error) {
	if err := models.ValidateProfilePatch(patch); err != nil {
		return models.Profile{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return models.Profile{}, errors.NewNotFoundError("profile not found")
	}
	p = patch.Apply(p)
	p.UpdatedAt = m.clock.Now()
	m.profiles[id] = p
	return *p.Clone(), nil
}

func (m *MemoryBackend) UpdateCredits(_ context.Context, id string, credits int) (int, error) {
	if err := models.ValidateCredits(credits); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return 0, errors.NewNotFoundError("profile not found")
	}
	p.Credits = credits
	p.UpdatedAt = m.clock.Now()
	m.profiles[id] = p
	return credits, nil
}

func (m *MemoryBackend) UpdatePassword(_ context.Context, id, password string) error {
	if err := models.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[id] = hash
	return nil
}

// CheckPassword verifies a password written through UpdatePassword.
func (m *MemoryBackend) CheckPassword(id, password string) error {
	m.mu.RLock()
	hash, ok := m.credentials[id]
	m.mu.RUnlock()
	if !ok {
		return errors.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return errors.ErrInvalidCredentials
	}
	return nil
}

func (m *MemoryBackend) ListAddresses(_ context.Context, ownerID string) ([]models.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owned := make([]memoryAddress, 0)
	for _, a := range m.addresses {
		if a.addr.OwnerID == ownerID {
			owned = append(owned, a)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if !owned[i].addr.CreatedAt.Equal(owned[j].addr.CreatedAt) {
			return owned[i].addr.CreatedAt.After(owned[j].addr.CreatedAt)
		}
		return owned[i].seq > owned[j].seq
	})
	out := make([]models.Address, len(owned))
	for i, a := range owned {
		out[i] = a.addr.Clone()
	}
	return out, nil
}

func (m *MemoryBackend) CreateAddress(_ context.Context, ownerID string, in models.AddressInput) (models.Address, error) {
	if err := models.ValidateAddress(in); err != nil {
		return models.Address{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	if existing, ok := m.addresses[id]; ok {
		if existing.addr.OwnerID != ownerID {
			return models.Address{}, errors.NewForbiddenError("address belongs to another identity")
		}
		return models.Address{}, errors.ErrAddressExists
	}
	m.seq++
	a := in.ToAddress(id, ownerID, m.clock.Now())
	m.addresses[id] = memoryAddress{addr: a, seq: m.seq}
	return a.Clone(), nil
}

func (m *MemoryBackend) UpdateAddress(_ context.Context, ownerID, addressID string, in models.AddressInput) (models.Address, error) {
	if err := models.ValidateAddress(in); err != nil {
		return models.Address{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.addresses[addressID]
	if !ok {
		return models.Address{}, errors.NewNotFoundError("address not found")
	}
	if existing.addr.OwnerID != ownerID {
		return models.Address{}, errors.NewForbiddenError("address belongs to another identity")
	}
	a := in.ToAddress(addressID, ownerID, existing.addr.CreatedAt)
	m.addresses[addressID] = memoryAddress{addr: a, seq: existing.seq}
	return a.Clone(), nil
}

func (m *MemoryBackend) DeleteAddress(_ context.Context, ownerID, addressID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.addresses[addressID]
	if !ok {
		return false, nil
	}
	if existing.addr.OwnerID != ownerID {
		return false, errors.NewForbiddenError("address belongs to another identity")
	}
	delete(m.addresses, addressID)
	return true, nil
}
