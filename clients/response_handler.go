package clients

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/hkinc45/dev-kitchen-session/errors"
)

// HandleResponse handles decoding HTTP responses from the persistence API.
// It decodes either the success body or an APIError carrying the failure kind.
func HandleResponse(resp *http.Response, successBody interface{}) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Read the full body to log it for debugging non-2xx responses.
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			log.Warn().Err(err).Int("status", resp.StatusCode).Msg("failed to read error response body")
			return errors.NewAPIError(resp.StatusCode, "failed to read error response body")
		}
		log.Debug().Int("status", resp.StatusCode).Str("body", string(bodyBytes)).Msg("persistence api returned non-2xx response")

		// Replace the response body with a new reader so it can be read again by the JSON decoder.
		resp.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		var apiErr errors.APIError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Message == "" {
			if resp.StatusCode == http.StatusNotFound {
				return errors.NewNotFoundError("resource not found")
			}
			// If we can't decode a structured error, use the raw body we already read.
			return errors.NewAPIError(resp.StatusCode, fmt.Sprintf("unknown error: %s", string(bodyBytes)))
		}
		if apiErr.Kind == "" {
			return errors.NewAPIError(resp.StatusCode, apiErr.Message)
		}
		apiErr.StatusCode = resp.StatusCode // Ensure status code is set
		return &apiErr
	}

	if successBody != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(successBody); err != nil {
			return errors.NewAPIError(http.StatusInternalServerError, fmt.Sprintf("failed to decode success response: %v", err))
		}
	}

	return nil
}
