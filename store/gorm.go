package store

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hkinc45/dev-kitchen-session/errors"
	"github.com/hkinc45/dev-kitchen-session/models"
)

// credential is the password side channel, kept out of the profile row.
type credential struct {
	IdentityID string `gorm:"primaryKey"`
	Hash       []byte
}

// GormBackend persists profiles, credentials and addresses through gorm.
type GormBackend struct {
	db    *gorm.DB
	clock clockwork.Clock
}

func NewGormBackend(db *gorm.DB, clock clockwork.Clock) *GormBackend {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &GormBackend{db: db, clock: clock}
}

func (g *GormBackend) Migrate() error {
	return g.db.AutoMigrate(&models.Profile{}, &models.Address{}, &credential{})
}

// PutProfile provisions or replaces a profile row.
func (g *GormBackend) PutProfile(ctx context.Context, p models.Profile) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = g.clock.Now()
	}
	return g.db.WithContext(ctx).Save(&p).Error
}

func (g *GormBackend) CreateProfile(ctx context.Context, p models.Profile) (models.Profile, error) {
	if err := models.ValidateCredits(p.Credits); err != nil {
		return models.Profile{}, err
	}
	p.UpdatedAt = g.clock.Now()
	res := g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&p)
	if res.Error != nil {
		return models.Profile{}, fmt.Errorf("failed to create profile %s: %w", p.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return models.Profile{}, errors.ErrConflict
	}
	return p, nil
}

func (g *GormBackend) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	err := g.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", id, err)
	}
	return &p, nil
}

func (g *GormBackend) UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) (models.Profile, error) {
	if err := models.ValidateProfilePatch(patch); err != nil {
		return models.Profile{}, err
	}
	var out models.Profile
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Profile
		if err := tx.First(&p, "id = ?", id).Error; err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return errors.NewNotFoundError("profile not found")
			}
			return err
		}
		p = patch.Apply(p)
		p.UpdatedAt = g.clock.Now()
		if err := tx.Save(&p).Error; err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return models.Profile{}, err
	}
	return out, nil
}

func (g *GormBackend) UpdateCredits(ctx context.Context, id string, credits int) (int, error) {
	if err := models.ValidateCredits(credits); err != nil {
		return 0, err
	}
	res := g.db.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", id).
		Updates(map[string]any{"credits": credits, "updated_at": g.clock.Now()})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to update credits for %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, errors.NewNotFoundError("profile not found")
	}
	return credits, nil
}

func (g *GormBackend) UpdatePassword(ctx context.Context, id, password string) error {
	if err := models.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"hash"}),
	}).Create(&credential{IdentityID: id, Hash: hash}).Error
}

func (g *GormBackend) ListAddresses(ctx context.Context, ownerID string) ([]models.Address, error) {
	var out []models.Address
	err := g.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses for %s: %w", ownerID, err)
	}
	if out == nil {
		out = []models.Address{}
	}
	return out, nil
}

func (g *GormBackend) CreateAddress(ctx context.Context, ownerID string, in models.AddressInput) (models.Address, error) {
	if err := models.ValidateAddress(in); err != nil {
		return models.Address{}, err
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	a := in.ToAddress(id, ownerID, g.clock.Now())
	tx := g.db.WithContext(ctx)
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&a)
	if res.Error != nil {
		return models.Address{}, fmt.Errorf("failed to create address: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := g.owned(tx, ownerID, id); err != nil {
			return models.Address{}, err
		}
		return models.Address{}, errors.ErrAddressExists
	}
	return a, nil
}

func (g *GormBackend) owned(tx *gorm.DB, ownerID, addressID string) (*models.Address, error) {
	var a models.Address
	err := tx.First(&a, "id = ?", addressID).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if a.OwnerID != ownerID {
		return nil, errors.NewForbiddenError("address belongs to another identity")
	}
	return &a, nil
}

func (g *GormBackend) UpdateAddress(ctx context.Context, ownerID, addressID string, in models.AddressInput) (models.Address, error) {
	if err := models.ValidateAddress(in); err != nil {
		return models.Address{}, err
	}
	var out models.Address
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := g.owned(tx, ownerID, addressID)
		if err != nil {
			return err
		}
		if existing == nil {
			return errors.NewNotFoundError("address not found")
		}
		out = in.ToAddress(addressID, ownerID, existing.CreatedAt)
		return tx.Save(&out).Error
	})
	if err != nil {
		return models.Address{}, err
	}
	return out, nil
}

func (g *GormBackend) DeleteAddress(ctx context.Context, ownerID, addressID string) (bool, error) {
	deleted := false
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := g.owned(tx, ownerID, addressID)
		if err != nil || existing == nil {
			return err
		}
		if err := tx.Delete(&models.Address{}, "id = ?", addressID).Error; err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}
