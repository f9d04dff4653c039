// Package gdrive provides an HTTP client for the Google Drive v3 REST API
// with automatic retry, rate limiting, and error classification.
package gdrive

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, gdrive.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("gdrive: bad request")
	ErrUnauthorized = errors.New("gdrive: unauthorized")
	ErrForbidden    = errors.New("gdrive: forbidden")
	ErrNotFound     = errors.New("gdrive: not found")
	ErrRateLimited  = errors.New("gdrive: rate limited")
	ErrServerError  = errors.New("gdrive: server error")
)

// DriveError wraps a sentinel error with HTTP status code and the API error
// message body for debugging.
type DriveError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *DriveError) Error() string {
	return fmt.Sprintf("gdrive: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *DriveError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
// Rate limits and server-side failures are transient; everything else fails
// the request immediately.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// TokenError wraps a TokenSource failure. Acquiring a token is not an API
// attempt, so the client never retries these: repeating the request cannot
// mint a token the source already failed to produce.
type TokenError struct {
	Err error
}

func (e *TokenError) Error() string {
	return "gdrive: obtaining token: " + e.Err.Error()
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// IsAuth reports whether err is an authentication or authorization failure:
// a 401/403 from the API, or any failure to obtain a bearer token. Callers
// treat these as fatal — no further useful work can proceed without a valid
// token, so they propagate immediately instead of degrading.
func IsAuth(err error) bool {
	var tokenErr *TokenError
	if errors.As(err, &tokenErr) {
		return true
	}

	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}
