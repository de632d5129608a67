package clients

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/hkinc45/dev-kitchen-session/auth"
	"github.com/hkinc45/dev-kitchen-session/errors"
	"github.com/hkinc45/dev-kitchen-session/models"
	"github.com/hkinc45/dev-kitchen-session/server"
	"github.com/hkinc45/dev-kitchen-session/store"
)

type apiFixture struct {
	ts       *httptest.Server
	backend  *store.MemoryBackend
	provider *auth.MemoryProvider
	clock    clockwork.FakeClock
	token    string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	clock := clockwork.NewFakeClock()
	provider := auth.NewMemoryProvider([]byte("clients-secret"), time.Hour, clock)
	backend := store.NewMemoryBackend(clock)
	srv := server.New(server.Config{
		Backend:     backend,
		Provisioner: backend,
		Verifier:    provider,
		Logger:      zerolog.Nop(),
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	session, err := provider.Issue(models.Identity{ID: "u1", Email: "a@x.com"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return &apiFixture{ts: ts, backend: backend, provider: provider, clock: clock, token: session.Token}
}

func (f *apiFixture) client() *HTTPBackend {
	return NewHTTPBackend(f.ts.URL, func() string { return f.token }, f.ts.Client())
}

func TestGetProfileMissingIsNil(t *testing.T) {
	f := newAPIFixture(t)
	p, err := f.client().GetProfile(context.Background(), "u1")
	if err != nil || p != nil {
		t.Fatalf("expected nil, nil; got %+v, %v", p, err)
	}
}

func TestProvisionAndUpdateProfile(t *testing.T) {
	f := newAPIFixture(t)
	c := f.client()
	ctx := context.Background()

	created, err := c.CreateProfile(ctx, models.Profile{ID: "u1", FirstName: "Ada", LastName: "L", Credits: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Credits != 2 {
		t.Fatalf("unexpected created profile: %+v", created)
	}
	if _, err := c.CreateProfile(ctx, models.Profile{ID: "u1", FirstName: "Ada", LastName: "L"}); err == nil {
		t.Fatalf("expected conflict on second create")
	}

	name := "Grace"
	updated, err := c.UpdateProfile(ctx, "u1", models.ProfilePatch{FirstName: &name})
	if err != nil || updated.FirstName != "Grace" {
		t.Fatalf("update: %+v, %v", updated, err)
	}
	n, err := c.UpdateCredits(ctx, "u1", 7)
	if err != nil || n != 7 {
		t.Fatalf("credits: %d, %v", n, err)
	}
	if _, err := c.UpdateCredits(ctx, "u1", -1); !errors.Is(err, errors.KindValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if err := c.UpdatePassword(ctx, "u1", "long-enough"); err != nil {
		t.Fatalf("password: %v", err)
	}
	if err := c.UpdatePassword(ctx, "u1", "short"); !errors.Is(err, errors.KindWeakPassword) {
		t.Fatalf("expected WeakPassword, got %v", err)
	}

	p, err := c.GetProfile(ctx, "u1")
	if err != nil || p == nil || p.FirstName != "Grace" || p.Credits != 7 {
		t.Fatalf("get: %+v, %v", p, err)
	}
}

func TestAddressCRUD(t *testing.T) {
	f := newAPIFixture(t)
	c := f.client()
	ctx := context.Background()

	a, err := c.CreateAddress(ctx, "u1", models.AddressInput{Street: "1 Main", City: "X", State: "CA", Zip: "90000"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.CreateAddress(ctx, "u1", models.AddressInput{Street: "1 Main"}); !errors.Is(err, errors.KindValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, err := c.UpdateAddress(ctx, "u1", a.ID, models.AddressInput{Street: "2 Main", City: "X", State: "CA", Zip: "90000"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	list, err := c.ListAddresses(ctx, "u1")
	if err != nil || len(list) != 1 || list[0].Street != "2 Main" {
		t.Fatalf("list: %+v, %v", list, err)
	}
	deleted, err := c.DeleteAddress(ctx, "u1", a.ID)
	if err != nil || !deleted {
		t.Fatalf("delete: %v, %v", deleted, err)
	}
	deleted, err = c.DeleteAddress(ctx, "u1", a.ID)
	if err != nil || deleted {
		t.Fatalf("second delete: %v, %v", deleted, err)
	}
}

func TestErrorKinds(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	if _, err := f.client().ListAddresses(ctx, "u2"); !errors.Is(err, errors.KindForbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}

	f.clock.Advance(2 * time.Hour)
	if _, err := f.client().ListAddresses(ctx, "u1"); !errors.Is(err, errors.KindSessionExpired) {
		t.Fatalf("expected SessionExpired, got %v", err)
	}

	anonymous := NewHTTPBackend(f.ts.URL, func() string { return "" }, nil)
	if _, err := anonymous.GetProfile(ctx, "u1"); !errors.Is(err, errors.KindSessionExpired) {
		t.Fatalf("expected SessionExpired without a token, got %v", err)
	}

	f.ts.Close()
	if _, err := f.client().GetProfile(ctx, "u1"); !errors.Is(err, errors.KindNetwork) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestHandleResponseUnstructuredBodies(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader("nope"))}
	if err := HandleResponse(resp, nil); !errors.Is(err, errors.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	resp = &http.Response{StatusCode: http.StatusBadGateway, Body: io.NopCloser(strings.NewReader("<html>"))}
	if err := HandleResponse(resp, nil); !errors.Is(err, errors.KindNetwork) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	resp = &http.Response{StatusCode: http.StatusNoContent, Body: io.NopCloser(strings.NewReader(""))}
	var out struct{}
	if err := HandleResponse(resp, &out); err != nil {
		t.Fatalf("204: %v", err)
	}
}
