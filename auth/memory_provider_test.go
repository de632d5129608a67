package auth

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hkinc45/dev-kitchen-session/errors"
	"github.com/hkinc45/dev-kitchen-session/models"
)

func TestMemoryProviderSignIn(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewMemoryProvider([]byte("s"), time.Hour, clock)
	want, err := p.AddAccount("Chef@Kitchen.io", "password1", true)
	if err != nil {
		t.Fatalf("add account: %v", err)
	}

	session, err := p.SignIn(context.Background(), "chef@kitchen.io", "password1")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if session.Identity.ID != want.ID || !session.Identity.EmailVerified {
		t.Fatalf("unexpected identity: %+v", session.Identity)
	}
	if !session.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("unexpected expiry: %v", session.ExpiresAt)
	}

	got, err := p.VerifyToken(context.Background(), session.Token)
	if err != nil || got.ID != want.ID || got.Email != "chef@kitchen.io" {
		t.Fatalf("verify: %+v, %v", got, err)
	}
}

func TestMemoryProviderRejects(t *testing.T) {
	p := NewMemoryProvider([]byte("s"), time.Hour, clockwork.NewFakeClock())
	_, _ = p.AddAccount("a@x.com", "password1", false)
	ctx := context.Background()

	if _, err := p.SignIn(ctx, "nobody@x.com", "password1"); !errors.Is(err, errors.KindInvalidCredentials) {
		t.Fatalf("unknown email: %v", err)
	}
	if _, err := p.SignUp(ctx, "a@x.com", "password2", nil); !errors.Is(err, errors.KindEmailAlreadyInUse) {
		t.Fatalf("duplicate email: %v", err)
	}
	if _, err := p.SignUp(ctx, "b@x.com", "1234", nil); !errors.Is(err, errors.KindWeakPassword) {
		t.Fatalf("weak password: %v", err)
	}
	if _, err := p.VerifyToken(ctx, "not-a-token"); !errors.Is(err, errors.KindSessionExpired) {
		t.Fatalf("garbage token: %v", err)
	}
}

func TestMemoryProviderExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewMemoryProvider([]byte("s"), time.Minute, clock)
	session, err := p.Issue(models.Identity{ID: "u1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	clock.Advance(2 * time.Minute)
	if _, err := p.Restore(context.Background(), session); !errors.Is(err, errors.KindSessionExpired) {
		t.Fatalf("expected SessionExpired, got %v", err)
	}
}

func TestMemoryProviderUnreachable(t *testing.T) {
	p := NewMemoryProvider([]byte("s"), time.Hour, clockwork.NewFakeClock())
	_, _ = p.AddAccount("a@x.com", "password1", false)
	p.SetReachable(false)
	ctx := context.Background()
	if _, err := p.SignIn(ctx, "a@x.com", "password1"); !errors.Is(err, errors.KindNetwork) {
		t.Fatalf("sign in: %v", err)
	}
	if err := p.SignOut(ctx, Session{}); !errors.Is(err, errors.KindNetwork) {
		t.Fatalf("sign out: %v", err)
	}
	p.SetReachable(true)
	if _, err := p.SignIn(ctx, "a@x.com", "password1"); err != nil {
		t.Fatalf("sign in after recovery: %v", err)
	}
}

func TestMemoryProviderSignUpHook(t *testing.T) {
	p := NewMemoryProvider([]byte("s"), time.Hour, clockwork.NewFakeClock())
	var provisioned models.Identity
	var gotAttrs map[string]string
	p.OnSignUp = func(id models.Identity, attrs map[string]string) {
		provisioned = id
		gotAttrs = attrs
	}
	session, err := p.SignUp(context.Background(), "new@x.com", "password1", map[string]string{"first_name": "Nia"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if provisioned.ID != session.Identity.ID || gotAttrs["first_name"] != "Nia" {
		t.Fatalf("hook saw %+v %v", provisioned, gotAttrs)
	}
}
