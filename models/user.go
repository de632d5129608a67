package models

import (
	"time"
)

// Identity is the authenticated session principal as asserted by the identity provider.
// It carries no profile data.
type Identity struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// Profile is the extended user record keyed by the identity id.
// It is the canonical holder of the credit balance.
type Profile struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	DOB       string    `json:"dob,omitempty"`       // YYYY-MM-DD
	UserType  string    `json:"user_type,omitempty"` // e.g., "customer" or "admin"
	Credits   int       `json:"credits"`
	Phone     *string   `json:"phone,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfilePatch is a partial profile update. Nil fields are left unchanged.
// Password is the credential change that may be bundled with the field update;
// it is never serialized.
type ProfilePatch struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	DOB       *string `json:"dob,omitempty"`
	UserType  *string `json:"user_type,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Password  *string `json:"-"`
}

// HasFields reports whether the patch touches any profile column.
func (p ProfilePatch) HasFields() bool {
	return p.FirstName != nil || p.LastName != nil || p.DOB != nil || p.UserType != nil || p.Phone != nil
}

// Apply returns a copy of profile with the patch fields written over it.
func (p ProfilePatch) Apply(profile Profile) Profile {
	if p.FirstName != nil {
		profile.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		profile.LastName = *p.LastName
	}
	if p.DOB != nil {
		profile.DOB = *p.DOB
	}
	if p.UserType != nil {
		profile.UserType = *p.UserType
	}
	if p.Phone != nil {
		phone := *p.Phone
		profile.Phone = &phone
	}
	return profile
}

// Clone returns a deep copy so held state never aliases a value handed to a consumer.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	if p.Phone != nil {
		phone := *p.Phone
		out.Phone = &phone
	}
	return &out
}
