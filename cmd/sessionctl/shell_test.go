package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hkinc45/dev-kitchen-session/auth"
	"github.com/hkinc45/dev-kitchen-session/models"
	"github.com/hkinc45/dev-kitchen-session/notice"
	"github.com/hkinc45/dev-kitchen-session/session"
	"github.com/hkinc45/dev-kitchen-session/store"
)

type shellFixture struct {
	sh       *shell
	out      *bytes.Buffer
	provider *auth.MemoryProvider
	backend  *store.MemoryBackend
}

func newShellFixture(t *testing.T) *shellFixture {
	t.Helper()
	provider := auth.NewMemoryProvider([]byte("shell-secret"), time.Hour, nil)
	backend := store.NewMemoryBackend(nil)
	source := auth.NewSource(provider, &auth.MemorySessionCache{}, zerolog.Nop())
	r := session.NewReconciler(session.Options{
		Source:  source,
		Backend: backend,
		Notices: notice.NewRecorder(),
		Logger:  zerolog.Nop(),
	})
	t.Cleanup(r.Close)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	out := &bytes.Buffer{}
	return &shellFixture{
		sh:       &shell{r: r, provisioner: backend, out: out, format: "json", wait: 3 * time.Second},
		out:      out,
		provider: provider,
		backend:  backend,
	}
}

func (f *shellFixture) run(t *testing.T, line string) session.View {
	t.Helper()
	args, err := splitLine(line)
	if err != nil {
		t.Fatalf("split %q: %v", line, err)
	}
	f.out.Reset()
	if err := f.sh.exec(context.Background(), args); err != nil {
		t.Fatalf("%s: %v", line, err)
	}
	var v session.View
	if err := json.Unmarshal(f.out.Bytes(), &v); err != nil {
		t.Fatalf("%s: decode %q: %v", line, f.out.String(), err)
	}
	return v
}

func TestShellSessionFlow(t *testing.T) {
	f := newShellFixture(t)
	identity, err := f.provider.AddAccount("a@x.com", "password1", true)
	if err != nil {
		t.Fatalf("add account: %v", err)
	}
	f.backend.PutProfile(models.Profile{ID: identity.ID, FirstName: "Ada", LastName: "L", Credits: 2})

	v := f.run(t, "login a@x.com password1")
	if v.Phase != session.PhaseReady || v.Credits != 2 {
		t.Fatalf("after login: %+v", v)
	}
	v = f.run(t, "credits 5")
	if v.Credits != 5 {
		t.Fatalf("after credits: %+v", v)
	}
	v = f.run(t, `add-address "street=1 Main St" city=Springfield state=IL zip=62701`)
	if len(v.Addresses) != 1 || v.Addresses[0].Street != "1 Main St" {
		t.Fatalf("after add-address: %+v", v.Addresses)
	}
	v = f.run(t, "profile first_name=Grace")
	if v.Profile == nil || v.Profile.FirstName != "Grace" {
		t.Fatalf("after profile: %+v", v.Profile)
	}
	v = f.run(t, "logout")
	if v.Phase != session.PhaseAnonymous || v.Profile != nil || len(v.Addresses) != 0 {
		t.Fatalf("after logout: %+v", v)
	}
}

func TestShellSignupProvisionsProfile(t *testing.T) {
	f := newShellFixture(t)
	v := f.run(t, "signup b@x.com password2 first_name=Bea last_name=K credits=3")
	if v.Phase != session.PhaseReady || v.Profile == nil || v.Credits != 3 {
		t.Fatalf("after signup: %+v", v)
	}
}

func TestShellYAMLOutput(t *testing.T) {
	f := newShellFixture(t)
	f.sh.format = "yaml"
	if err := f.sh.exec(context.Background(), []string{"show"}); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(f.out.String(), "phase: anonymous") {
		t.Fatalf("unexpected yaml: %s", f.out.String())
	}
}

func TestShellArgumentErrors(t *testing.T) {
	f := newShellFixture(t)
	ctx := context.Background()
	for _, args := range [][]string{
		{"login", "a@x.com"},
		{"credits", "many"},
		{"add-address", "street"},
		{"profile", "nickname=x"},
		{"provision", "Ada", "L"},
		{"bogus"},
	} {
		if err := f.sh.exec(ctx, args); err == nil {
			t.Fatalf("%v: expected an error", args)
		}
	}
	if err := f.sh.exec(ctx, []string{"quit"}); err != errQuit {
		t.Fatalf("quit: %v", err)
	}
}

func TestSplitLine(t *testing.T) {
	got, err := splitLine(`add-address "street=1 Main St"  city=X`)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	want := []string{"add-address", "street=1 Main St", "city=X"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", got, want)
	}
	if _, err := splitLine(`login "a@x.com`); err == nil {
		t.Fatalf("expected unterminated quote error")
	}
}
