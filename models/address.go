package models

import "time"

// Address is a saved address owned by a single identity.
type Address struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	OwnerID   string    `json:"owner_id" gorm:"index"`
	Label     *string   `json:"label,omitempty"`
	Street    string    `json:"street"`
	City      string    `json:"city"`
	State     string    `json:"state"`
	Zip       string    `json:"zip"`
	Phone     *string   `json:"phone,omitempty"`
	AltPhone  *string   `json:"alt_phone,omitempty"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// AddressInput is the consumer-supplied payload for creating or replacing an address.
// ID is optional on create; the backend assigns one when it is empty.
type AddressInput struct {
	ID       string  `json:"id,omitempty"`
	Label    *string `json:"label,omitempty"`
	Street   string  `json:"street" validate:"required" binding:"required"`
	City     string  `json:"city" validate:"required" binding:"required"`
	State    string  `json:"state" validate:"required" binding:"required"`
	Zip      string  `json:"zip" validate:"required" binding:"required"`
	Phone    *string `json:"phone,omitempty"`
	AltPhone *string `json:"alt_phone,omitempty"`
}

// ToAddress materializes the input for owner with the given id and creation time.
func (in AddressInput) ToAddress(id, ownerID string, createdAt time.Time) Address {
	return Address{
		ID:        id,
		OwnerID:   ownerID,
		Label:     cloneString(in.Label),
		Street:    in.Street,
		City:      in.City,
		State:     in.State,
		Zip:       in.Zip,
		Phone:     cloneString(in.Phone),
		AltPhone:  cloneString(in.AltPhone),
		CreatedAt: createdAt,
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Clone returns a copy that shares no pointers with a.
func (a Address) Clone() Address {
	a.Label = cloneString(a.Label)
	a.Phone = cloneString(a.Phone)
	a.AltPhone = cloneString(a.AltPhone)
	return a
}

// CloneAddresses deep-copies a list so callers can not mutate held state through it.
// A nil list comes back as an empty, non-nil slice.
func CloneAddresses(in []Address) []Address {
	out := make([]Address, len(in))
	for i, a := range in {
		out[i] = a.Clone()
	}
	return out
}
