// Package seed loads development fixtures for the built-in identity provider.
package seed

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/hkinc45/dev-kitchen-session/auth"
	"github.com/hkinc45/dev-kitchen-session/models"
)

// Account is one pre-registered login.
type Account struct {
	Email    string `toml:"email"`
	Password string `toml:"password"`
	Verified bool   `toml:"verified"`
}

// File is the fixture file layout:
//
//	[[account]]
//	email = "ada@example.com"
//	password = "correct-horse"
//	verified = true
type File struct {
	Accounts []Account `toml:"account"`
}

// Load decodes the fixture file at path. Unknown keys are rejected.
func Load(path string) (File, error) {
	var f File
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return File{}, fmt.Errorf("failed to decode seed file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return File{}, fmt.Errorf("seed file %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return f, nil
}

// Apply registers every account with provider and returns the created identities in
// file order.
func (f File) Apply(provider *auth.MemoryProvider) ([]models.Identity, error) {
	out := make([]models.Identity, 0, len(f.Accounts))
	for _, a := range f.Accounts {
		identity, err := provider.AddAccount(a.Email, a.Password, a.Verified)
		if err != nil {
			return out, fmt.Errorf("failed to seed account %s: %w", a.Email, err)
		}
		out = append(out, identity)
	}
	return out, nil
}
