package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hkinc45/dev-kitchen-session/errors"
	"github.com/hkinc45/dev-kitchen-session/models"
)

// HTTPBackend talks to the persistence API on behalf of the signed-in identity.
// It implements store.Backend.
type HTTPBackend struct {
	baseURL string
	token   func() string
	client  *http.Client
}

// NewHTTPBackend returns a backend for baseURL. token is called for every request and
// supplies the bearer token of the current session.
func NewHTTPBackend(baseURL string, token func() string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

type creditsBody struct {
	Credits int `json:"credits"`
}

type credentialBody struct {
	Password string `json:"password"`
}

type deletedBody struct {
	Deleted bool `json:"deleted"`
}

func profilePath(id string) string {
	return "/v1/profiles/" + url.PathEscape(id)
}

func addressPath(ownerID, addressID string) string {
	return profilePath(ownerID) + "/addresses/" + url.PathEscape(addressID)
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := b.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return errors.Wrap(errors.KindNetwork, fmt.Errorf("failed to perform %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	return HandleResponse(resp, out)
}

// GetProfile returns nil, nil when the profile does not exist.
func (b *HTTPBackend) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	err := b.do(ctx, http.MethodGet, profilePath(id), nil, &p)
	if errors.Is(err, errors.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *HTTPBackend) UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) (models.Profile, error) {
	var p models.Profile
	if err := b.do(ctx, http.MethodPatch, profilePath(id), patch, &p); err != nil {
		return models.Profile{}, err
	}
	return p, nil
}

func (b *HTTPBackend) UpdateCredits(ctx context.Context, id string, credits int) (int, error) {
	var out creditsBody
	if err := b.do(ctx, http.MethodPut, profilePath(id)+"/credits", creditsBody{Credits: credits}, &out); err != nil {
		return 0, err
	}
	return out.Credits, nil
}

func (b *HTTPBackend) UpdatePassword(ctx context.Context, id, password string) error {
	return b.do(ctx, http.MethodPut, profilePath(id)+"/credential", credentialBody{Password: password}, nil)
}

func (b *HTTPBackend) ListAddresses(ctx context.Context, ownerID string) ([]models.Address, error) {
	var list []models.Address
	if err := b.do(ctx, http.MethodGet, profilePath(ownerID)+"/addresses", nil, &list); err != nil {
		return nil, err
	}
	return models.CloneAddresses(list), nil
}

func (b *HTTPBackend) CreateAddress(ctx context.Context, ownerID string, in models.AddressInput) (models.Address, error) {
	var a models.Address
	if err := b.do(ctx, http.MethodPost, profilePath(ownerID)+"/addresses", in, &a); err != nil {
		return models.Address{}, err
	}
	return a, nil
}

func (b *HTTPBackend) UpdateAddress(ctx context.Context, ownerID, addressID string, in models.AddressInput) (models.Address, error) {
	var a models.Address
	if err := b.do(ctx, http.MethodPut, addressPath(ownerID, addressID), in, &a); err != nil {
		return models.Address{}, err
	}
	return a, nil
}

func (b *HTTPBackend) DeleteAddress(ctx context.Context, ownerID, addressID string) (bool, error) {
	var out deletedBody
	if err := b.do(ctx, http.MethodDelete, addressPath(ownerID, addressID), nil, &out); err != nil {
		return false, err
	}
	return out.Deleted, nil
}

// CreateProfile provisions the profile row for p.ID. It fails with errors.ErrConflict's
// kind when the row already exists.
func (b *HTTPBackend) CreateProfile(ctx context.Context, p models.Profile) (models.Profile, error) {
	var out models.Profile
	if err := b.do(ctx, http.MethodPost, profilePath(p.ID), p, &out); err != nil {
		return models.Profile{}, err
	}
	return out, nil
}
