package models

import (
	"strings"
	"testing"
	"time"

	"github.com/hkinc45/dev-kitchen-session/errors"
)

func strPtr(s string) *string { return &s }

func TestValidateAddressRequiresCoreFields(t *testing.T) {
	ok := AddressInput{Street: "1 Main", City: "X", State: "Y", Zip: "00000"}
	if err := ValidateAddress(ok); err != nil {
		t.Fatalf("valid address rejected: %v", err)
	}

	err := ValidateAddress(AddressInput{Street: "1 Main", City: "  "})
	if !errors.Is(err, errors.KindValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"city", "state", "zip"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("error %q does not name %s", err.Error(), field)
		}
	}
}

func TestValidateProfilePatch(t *testing.T) {
	if err := ValidateProfilePatch(ProfilePatch{Phone: strPtr("")}); err != nil {
		t.Fatalf("clearing phone must be allowed: %v", err)
	}
	if err := ValidateProfilePatch(ProfilePatch{FirstName: strPtr(" ")}); !errors.Is(err, errors.KindValidation) {
		t.Fatalf("blank first name: got %v", err)
	}
	if err := ValidateProfilePatch(ProfilePatch{Password: strPtr("")}); !errors.Is(err, errors.KindValidation) {
		t.Fatalf("empty password: got %v", err)
	}
}

func TestValidateCredits(t *testing.T) {
	if err := ValidateCredits(0); err != nil {
		t.Fatalf("zero credits rejected: %v", err)
	}
	if err := ValidateCredits(-1); !errors.Is(err, errors.KindValidation) {
		t.Fatalf("negative credits: got %v", err)
	}
}

func TestProfilePatchApply(t *testing.T) {
	base := Profile{ID: "u1", FirstName: "Ada", LastName: "L", Credits: 3}
	patch := ProfilePatch{LastName: strPtr("Lovelace"), Phone: strPtr("555")}
	if !patch.HasFields() {
		t.Fatalf("expected patch to have fields")
	}
	got := patch.Apply(base)
	if got.FirstName != "Ada" || got.LastName != "Lovelace" || got.Credits != 3 {
		t.Fatalf("unexpected patched profile: %+v", got)
	}
	if got.Phone == nil || *got.Phone != "555" {
		t.Fatalf("phone not applied: %+v", got.Phone)
	}
	if (ProfilePatch{Password: strPtr("secret123")}).HasFields() {
		t.Fatalf("password-only patch must not report profile fields")
	}
}

func TestCloneIsDeep(t *testing.T) {
	p := &Profile{ID: "u1", Phone: strPtr("1")}
	c := p.Clone()
	*c.Phone = "2"
	if *p.Phone != "1" {
		t.Fatalf("clone aliases phone")
	}
	if (*Profile)(nil).Clone() != nil {
		t.Fatalf("nil clone must be nil")
	}
	if got := CloneAddresses(nil); got == nil || len(got) != 0 {
		t.Fatalf("nil list must clone to empty slice")
	}
}

func TestCloneAddressesIsDeep(t *testing.T) {
	label := "Home"
	in := AddressInput{Label: &label, Street: "1 Main", Phone: strPtr("555")}
	a := in.ToAddress("a1", "u1", time.Time{})
	label = "Changed"
	if *a.Label != "Home" {
		t.Fatalf("address aliases input label: %q", *a.Label)
	}
	list := []Address{a}
	out := CloneAddresses(list)
	*out[0].Label = "Work"
	*out[0].Phone = "000"
	if *list[0].Label != "Home" || *list[0].Phone != "555" {
		t.Fatalf("cloned list aliases source: %+v", list[0])
	}
}
