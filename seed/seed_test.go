package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hkinc45/dev-kitchen-session/auth"
	"github.com/hkinc45/dev-kitchen-session/errors"
)

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func TestLoadAndApply(t *testing.T) {
	path := writeSeed(t, `
[[account]]
email = "ada@example.com"
password = "correct-horse"
verified = true

[[account]]
email = "bob@example.com"
password = "battery-staple"
`)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(f.Accounts) != 2 || !f.Accounts[0].Verified || f.Accounts[1].Verified {
		t.Fatalf("unexpected accounts: %+v", f.Accounts)
	}

	provider := auth.NewMemoryProvider([]byte("seed"), time.Hour, nil)
	identities, err := f.Apply(provider)
	if err != nil || len(identities) != 2 {
		t.Fatalf("apply: %+v, %v", identities, err)
	}
	session, err := provider.SignIn(context.Background(), "ada@example.com", "correct-horse")
	if err != nil || session.Identity.ID != identities[0].ID {
		t.Fatalf("seeded account can not sign in: %+v, %v", session, err)
	}

	if _, err := f.Apply(provider); !errors.Is(err, errors.KindEmailAlreadyInUse) {
		t.Fatalf("expected EmailAlreadyInUse on reapply, got %v", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeSeed(t, `
[[account]]
email = "ada@example.com"
pasword = "typo"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestApplyRejectsWeakPassword(t *testing.T) {
	f := File{Accounts: []Account{{Email: "a@x.com", Password: "short"}}}
	provider := auth.NewMemoryProvider([]byte("seed"), time.Hour, nil)
	if _, err := f.Apply(provider); !errors.Is(err, errors.KindWeakPassword) {
		t.Fatalf("expected WeakPassword, got %v", err)
	}
}
