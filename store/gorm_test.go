package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hkinc45/dev-kitchen-session/errors"
	"github.com/hkinc45/dev-kitchen-session/models"
)

func newGormBackend(t *testing.T) (*GormBackend, clockwork.FakeClock) {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	g := NewGormBackend(db, clock)
	if err := g.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return g, clock
}

func TestGormProfileLifecycle(t *testing.T) {
	g, _ := newGormBackend(t)
	ctx := context.Background()

	p, err := g.GetProfile(ctx, "u1")
	if err != nil || p != nil {
		t.Fatalf("missing profile: %+v, %v", p, err)
	}
	if err := g.PutProfile(ctx, models.Profile{ID: "u1", FirstName: "Ada", LastName: "L", UserType: "customer", Credits: 3}); err != nil {
		t.Fatalf("put profile: %v", err)
	}
	updated, err := g.UpdateProfile(ctx, "u1", models.ProfilePatch{LastName: strPtr("Lovelace")})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.LastName != "Lovelace" || updated.Credits != 3 {
		t.Fatalf("unexpected profile: %+v", updated)
	}
	if _, err := g.UpdateProfile(ctx, "nobody", models.ProfilePatch{LastName: strPtr("x")}); !errors.Is(err, errors.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	if n, err := g.UpdateCredits(ctx, "u1", 9); err != nil || n != 9 {
		t.Fatalf("update credits: %d, %v", n, err)
	}
	if _, err := g.UpdateCredits(ctx, "u1", -2); !errors.Is(err, errors.KindValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, err := g.UpdateCredits(ctx, "nobody", 1); !errors.Is(err, errors.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	p, _ = g.GetProfile(ctx, "u1")
	if p.Credits != 9 {
		t.Fatalf("credits not persisted: %+v", p)
	}

	if err := g.UpdatePassword(ctx, "u1", "short"); !errors.Is(err, errors.KindWeakPassword) {
		t.Fatalf("expected WeakPassword, got %v", err)
	}
	if err := g.UpdatePassword(ctx, "u1", "long-enough-1"); err != nil {
		t.Fatalf("update password: %v", err)
	}
	if err := g.UpdatePassword(ctx, "u1", "long-enough-2"); err != nil {
		t.Fatalf("replace password: %v", err)
	}
}

func TestGormAddresses(t *testing.T) {
	g, clock := newGormBackend(t)
	ctx := context.Background()

	a1, err := g.CreateAddress(ctx, "u1", models.AddressInput{Street: "9 Elm", City: "A", State: "B", Zip: "11111"})
	if err != nil {
		t.Fatalf("create a1: %v", err)
	}
	clock.Advance(time.Minute)
	a2, err := g.CreateAddress(ctx, "u1", models.AddressInput{Street: "1 Main", City: "X", State: "Y", Zip: "00000"})
	if err != nil {
		t.Fatalf("create a2: %v", err)
	}
	if _, err := g.CreateAddress(ctx, "u2", models.AddressInput{Street: "2 Oak", City: "C", State: "D", Zip: "22222"}); err != nil {
		t.Fatalf("create foreign: %v", err)
	}

	list, err := g.ListAddresses(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != a2.ID || list[1].ID != a1.ID {
		t.Fatalf("expected [a2 a1], got %+v", list)
	}

	if _, err := g.UpdateAddress(ctx, "u2", a1.ID, models.AddressInput{Street: "x", City: "x", State: "x", Zip: "x"}); !errors.Is(err, errors.KindForbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
	if _, err := g.UpdateAddress(ctx, "u1", "missing", models.AddressInput{Street: "x", City: "x", State: "x", Zip: "x"}); !errors.Is(err, errors.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	moved, err := g.UpdateAddress(ctx, "u1", a1.ID, models.AddressInput{Street: "10 Elm", City: "A", State: "B", Zip: "11111"})
	if err != nil || moved.Street != "10 Elm" {
		t.Fatalf("update: %+v, %v", moved, err)
	}

	if _, err := g.DeleteAddress(ctx, "u2", a1.ID); !errors.Is(err, errors.KindForbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
	deleted, err := g.DeleteAddress(ctx, "u1", a1.ID)
	if err != nil || !deleted {
		t.Fatalf("delete: %v, %v", deleted, err)
	}
	deleted, err = g.DeleteAddress(ctx, "u1", a1.ID)
	if err != nil || deleted {
		t.Fatalf("second delete: %v, %v", deleted, err)
	}
}

func TestGormCreateProfileConflicts(t *testing.T) {
	g, clock := newGormBackend(t)
	ctx := context.Background()

	created, err := g.CreateProfile(ctx, models.Profile{ID: "u1", FirstName: "Ada", Credits: 1})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if !created.UpdatedAt.Equal(clock.Now()) {
		t.Fatalf("updated_at = %v, want %v", created.UpdatedAt, clock.Now())
	}
	if _, err := g.CreateProfile(ctx, models.Profile{ID: "u1", FirstName: "Other"}); err != errors.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	p, _ := g.GetProfile(ctx, "u1")
	if p == nil || p.FirstName != "Ada" {
		t.Fatalf("existing profile overwritten: %+v", p)
	}
}

func TestGormCreateAddressRejectsExistingID(t *testing.T) {
	g, _ := newGormBackend(t)
	ctx := context.Background()
	in := models.AddressInput{ID: "a1", Street: "9 Elm", City: "A", State: "B", Zip: "11111"}
	if _, err := g.CreateAddress(ctx, "u1", in); err != nil {
		t.Fatalf("create: %v", err)
	}
	in.Street = "10 Elm"
	if _, err := g.CreateAddress(ctx, "u1", in); !errors.Is(err, errors.KindConflict) {
		t.Fatalf("same owner: expected Conflict, got %v", err)
	}
	if _, err := g.CreateAddress(ctx, "u2", in); !errors.Is(err, errors.KindForbidden) {
		t.Fatalf("other owner: expected Forbidden, got %v", err)
	}
	list, err := g.ListAddresses(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Street != "9 Elm" {
		t.Fatalf("existing address overwritten: %+v", list)
	}
}
