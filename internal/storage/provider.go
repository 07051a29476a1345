// Package storage defines the document substrate abstraction and its implementations.
package storage

import (
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/agencydesk/internal/apperr"
	"github.com/starford/agencydesk/internal/models"
)

// Provider is the interface for document substrate operations.
// Keys are flat strings; values are opaque bytes (JSON in practice).
type Provider interface {
	// List returns metadata for every stored document.
	List() ([]models.DocumentMeta, error)
	// Read returns the raw bytes stored under key. Missing keys match apperr.ErrNotFound.
	Read(key string) ([]byte, error)
	// Write replaces the content stored under key.
	Write(key string, content []byte) error
	// Delete removes key. Missing keys match apperr.ErrNotFound.
	Delete(key string) error
}

// MaxKeyLength bounds document key length.
const MaxKeyLength = 128

var keyRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._-]*$`)

// ValidateKey reports whether key can be stored by every provider.
// Keys map to file names on the FS provider, so separators and traversal are rejected.
func ValidateKey(key string) error {
	err := validation.Validate(key,
		validation.Required,
		validation.Length(1, MaxKeyLength),
		validation.Match(keyRe),
	)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", apperr.ErrInvalidKey, key, err)
	}
	return nil
}
