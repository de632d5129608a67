package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Kind classifies every failure the session engine can report to a consumer.
type Kind string

const (
	KindUnknown              Kind = "Unknown"
	KindInvalidCredentials   Kind = "InvalidCredentials"
	KindSessionExpired       Kind = "SessionExpired"
	KindNetwork              Kind = "NetworkError"
	KindEmailAlreadyInUse    Kind = "EmailAlreadyInUse"
	KindWeakPassword         Kind = "WeakPassword"
	KindValidation           Kind = "ValidationError"
	KindNotFound             Kind = "NotFound"
	KindForbidden            Kind = "Forbidden"
	KindPasswordUpdateFailed Kind = "PasswordUpdateFailed"
	KindConflict             Kind = "Conflict"
)

// APIError represents a structured error response from a service.
// Kind is carried on the wire so clients do not have to guess from the status code alone.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"error"`
	Kind       Kind   `json:"kind,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status code %d, message: %s", e.StatusCode, e.Message)
}

func NewAPIError(statusCode int, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Message:    message,
		Kind:       kindForStatus(statusCode),
	}
}

// New builds an APIError of the given kind with the status code that kind travels under.
func New(kind Kind, message string) *APIError {
	return &APIError{
		StatusCode: StatusFor(kind),
		Message:    message,
		Kind:       kind,
	}
}

func NewValidationError(message string) *APIError {
	return New(KindValidation, message)
}

func NewNotFoundError(message string) *APIError {
	return New(KindNotFound, message)
}

func NewForbiddenError(message string) *APIError {
	return New(KindForbidden, message)
}

func NewUnauthorizedError(message string) *APIError {
	return New(KindSessionExpired, message)
}

func NewBadRequestError(message string) *APIError {
	return New(KindValidation, message)
}

func NewInternalServerError(message string) *APIError {
	return &APIError{StatusCode: http.StatusInternalServerError, Message: message, Kind: KindUnknown}
}

func NewNetworkError(message string) *APIError {
	return New(KindNetwork, message)
}

// Pre-defined error types
var (
	ErrConflict             = New(KindConflict, "resource already exists")
	ErrAddressExists        = New(KindConflict, "address already exists")
	ErrInvalidCredentials   = New(KindInvalidCredentials, "invalid email or password")
	ErrSessionExpired       = New(KindSessionExpired, "session expired")
	ErrEmailAlreadyInUse    = New(KindEmailAlreadyInUse, "email already in use")
	ErrWeakPassword         = New(KindWeakPassword, "password does not meet the password policy")
	ErrPasswordUpdateFailed = New(KindPasswordUpdateFailed, "password update failed")
)

// StatusFor returns the HTTP status code a kind is transported with.
func StatusFor(kind Kind) int {
	switch kind {
	case KindInvalidCredentials, KindSessionExpired:
		return http.StatusUnauthorized
	case KindEmailAlreadyInUse, KindConflict:
		return http.StatusConflict
	case KindWeakPassword, KindValidation, KindPasswordUpdateFailed:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func kindForStatus(statusCode int) Kind {
	switch {
	case statusCode == http.StatusUnauthorized:
		return KindSessionExpired
	case statusCode == http.StatusForbidden:
		return KindForbidden
	case statusCode == http.StatusNotFound:
		return KindNotFound
	case statusCode == http.StatusConflict:
		return KindConflict
	case statusCode == http.StatusBadRequest, statusCode == http.StatusUnprocessableEntity:
		return KindValidation
	case statusCode == http.StatusBadGateway, statusCode == http.StatusServiceUnavailable,
		statusCode == http.StatusGatewayTimeout:
		return KindNetwork
	default:
		return KindUnknown
	}
}

// Classify maps any error returned by the identity source, a store or a backend onto a Kind.
// A nil error classifies as KindUnknown.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		if apiErr.Kind != "" {
			return apiErr.Kind
		}
		return kindForStatus(apiErr.StatusCode)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return KindNetwork
	}
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		return KindNetwork
	}
	return KindUnknown
}

// Is reports whether err classifies as kind.
func Is(err error, kind Kind) bool {
	return err != nil && Classify(err) == kind
}

// Wrap attaches a kind to an arbitrary error while keeping it unwrappable.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }

func (e *kindError) Unwrap() error { return e.err }

func (e *kindError) As(target any) bool {
	apiErr, ok := target.(**APIError)
	if !ok {
		return false
	}
	*apiErr = &APIError{StatusCode: StatusFor(e.kind), Message: e.err.Error(), Kind: e.kind}
	return true
}
