// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrConnection indicates the external directory could not be reached or queried.
	// Synchronization aborts on it.
	ErrConnection = errors.New("directory connection")
)

// Token kinds. Each decode/encode failure wraps exactly one of them.
var (
	// ErrMalformedToken indicates a structurally invalid token (segments, encoding, header).
	ErrMalformedToken = errors.New("malformed token")

	// ErrExpiredToken indicates the exp claim is in the past, missing or not numeric.
	ErrExpiredToken = errors.New("token expired")

	// ErrSignature indicates the signature does not match the signing input.
	ErrSignature = errors.New("signature verification failed")

	// ErrConfig indicates unusable codec configuration, e.g. an unsupported algorithm.
	ErrConfig = errors.New("token configuration")
)

// Kind returns a short stable label for the sentinel err wraps, "ok" for nil.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMalformedToken):
		return "malformed"
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	case errors.Is(err, ErrSignature):
		return "signature"
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrConnection):
		return "connection"
	}
	return "error"
}
