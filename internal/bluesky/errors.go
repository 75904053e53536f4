package bluesky

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrNotAuthenticated is returned by calls that need a session before Login.
var ErrNotAuthenticated = errors.New("not authenticated: call Login first")

// APIError is a non-2xx XRPC response. Name and Message come from the
// standard {"error", "message"} body when present.
type APIError struct {
	Status  int
	Name    string
	Message string
}

func (e *APIError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("API error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s: %s", e.Status, e.Name, e.Message)
}

// Error names with special handling.
const (
	errAccountTakedown    = "AccountTakedown"
	errAccountDeactivated = "AccountDeactivated"
	errExpiredToken       = "ExpiredToken"
	errNotFound           = "NotFound"
	errInvalidRequest     = "InvalidRequest"
)

// IsRetryable reports whether err is worth another attempt: rate limiting,
// server errors and network failures. A takedown is final.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Name == errAccountTakedown {
			return false
		}
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// isUnavailable reports whether err means the requested record or account
// cannot be shown. Lookups treat that as "not found".
func isUnavailable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Name {
	case errAccountTakedown, errAccountDeactivated, errNotFound:
		return true
	case errInvalidRequest:
		return apiErr.Status == http.StatusBadRequest
	}
	return apiErr.Status == http.StatusNotFound
}
