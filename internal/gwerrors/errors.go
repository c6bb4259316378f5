// Package gwerrors holds the error kinds shared by the discovery and
// forwarding paths and their mapping onto HTTP responses.
package gwerrors

import (
	"errors"
	"net/http"
)

var (
	ErrRouteNotFound      = errors.New("endpoint not found")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrBackendTimeout     = errors.New("backend timeout")
	ErrMalformedManifest  = errors.New("malformed route manifest")
	ErrBadStatus          = errors.New("unexpected backend status")
	ErrCredential         = errors.New("backend credential unavailable")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("rate limited")
)

// HTTPStatus maps an error returned by the gateway onto the status code sent
// to the caller. Unknown errors are internal errors.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrRouteNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBackendTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrBackendUnavailable), errors.Is(err, ErrCredential):
		return http.StatusBadGateway
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Message is the caller-facing text for err. Wrapped details are never
// exposed; they only go to the log.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrRouteNotFound):
		return "Endpoint not found"
	case errors.Is(err, ErrBackendTimeout):
		return "Backend timed out"
	case errors.Is(err, ErrBackendUnavailable), errors.Is(err, ErrCredential):
		return "Backend unavailable"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "Rate limit exceeded"
	default:
		return "Internal server error"
	}
}
