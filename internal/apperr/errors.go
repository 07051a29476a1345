// Package apperr holds the sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidKey    = errors.New("invalid document key")
	ErrSerialize     = errors.New("document is not JSON-serializable")
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrInvalidBundle = errors.New("invalid backup bundle")
)
