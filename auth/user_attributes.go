package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hkinc45/dev-kitchen-session/errors"
)

// keycloakUser is the admin API representation used to create an account.
type keycloakUser struct {
	Username      string               `json:"username"`
	Email         string               `json:"email"`
	Enabled       bool                 `json:"enabled"`
	EmailVerified bool                 `json:"emailVerified"`
	Attributes    map[string][]string  `json:"attributes,omitempty"`
	Credentials   []keycloakCredential `json:"credentials"`
}

type keycloakCredential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// createUser creates an enabled account with a password in the realm using a manual
// admin API call.
func createUser(ctx context.Context, client *http.Client, adminAPIURL, realm, adminAccessToken, email, password string, attrs map[string]string) error {
	url := fmt.Sprintf("%s/admin/realms/%s/users", strings.TrimRight(adminAPIURL, "/"), realm)

	attributes := make(map[string][]string, len(attrs))
	for k, v := range attrs {
		attributes[k] = []string{v}
	}
	payload := keycloakUser{
		Username:    email,
		Email:       email,
		Enabled:     true,
		Attributes:  attributes,
		Credentials: []keycloakCredential{{Type: "password", Value: password, Temporary: false}},
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal create user payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return fmt.Errorf("failed to create create user request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminAccessToken)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform create user request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return errors.ErrEmailAlreadyInUse
	}

	var errResp struct {
		Error        string `json:"error"`
		ErrorMessage string `json:"errorMessage"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&errResp)
	if resp.StatusCode == http.StatusBadRequest && isPasswordPolicyError(errResp.Error, errResp.ErrorMessage) {
		return errors.ErrWeakPassword
	}
	return errors.NewAPIError(resp.StatusCode, fmt.Sprintf("create user failed: %s %s", errResp.Error, errResp.ErrorMessage))
}

func isPasswordPolicyError(parts ...string) bool {
	for _, p := range parts {
		p = strings.ToLower(p)
		if strings.Contains(p, "password") {
			return true
		}
	}
	return false
}
