// Package common defines shared constants and sentinel errors used across
// the gateway layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Request taxonomy. The HTTP layer maps each of these to one status code.
	ErrorUnauthorized    = errors.New("unauthorized")
	ErrorForbidden       = errors.New("forbidden")
	ErrorBadRequest      = errors.New("bad request")
	ErrorPayloadTooLarge = errors.New("payload too large")
	ErrorTooManyRequests = errors.New("too many requests")
	ErrorInternal        = errors.New("internal error")
	ErrVersionConflict   = errors.New("version conflict")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired = errors.New("token expired")
)
