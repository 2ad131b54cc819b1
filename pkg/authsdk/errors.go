package authsdk

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	ErrInvalidCredentials = errors.New("authsdk: invalid credentials")
	ErrOTPRequired        = errors.New("authsdk: otp confirmation required")
	ErrOTPInvalid         = errors.New("authsdk: otp invalid")
	ErrValidationFailed   = errors.New("authsdk: validation failed")
	ErrNetworkUnavailable = errors.New("authsdk: network unavailable")
	ErrServerError        = errors.New("authsdk: server error")

	// ErrAuthExpired is surfaced by the session request pipeline once a
	// refresh failed or a refreshed token was still rejected.
	ErrAuthExpired = errors.New("authsdk: authentication expired")

	// ErrSessionReplaced is surfaced by the session request pipeline when a
	// logout and a new login happened while the request was being retried.
	// The request is not resent with the new session's credentials.
	ErrSessionReplaced = errors.New("authsdk: session replaced during request")
)

// APIError is an HTTP-level failure returned by the API.
type APIError struct {
	Op         string
	StatusCode int
	Message    string

	// Kind is the taxonomy sentinel this error unwraps to.
	Kind error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("authsdk: %s: HTTP %d: %s", e.Op, e.StatusCode, msg)
}

func (e *APIError) Unwrap() error { return e.Kind }

// ValidationError is a request rejected before it was sent. Fields maps form
// field names to the reason they were rejected.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "authsdk: validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// kindForStatus is the default mapping from HTTP status to taxonomy.
// Operations override it where the status has a narrower meaning.
func kindForStatus(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrInvalidCredentials
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return ErrValidationFailed
	default:
		return ErrServerError
	}
}

// isOTPMessage reports whether a server message asks for OTP confirmation.
func isOTPMessage(msg string) bool {
	return strings.Contains(strings.ToUpper(msg), "OTP")
}
