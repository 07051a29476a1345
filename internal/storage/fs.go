package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/agencydesk/internal/apperr"
	"github.com/starford/agencydesk/internal/checksum"
	"github.com/starford/agencydesk/internal/models"
)

// Ext is the file extension used for documents on disk.
const Ext = ".json"

const tmpPattern = ".agencydesk-tmp-*"

// FS implements Provider backed by the local file system, one file per document.
type FS struct {
	root string // absolute path to data directory
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute data directory.
func (f *FS) Root() string {
	return f.root
}

// KeyFromPath maps a file path under root back to its document key.
// ok is false for anything that is not a document file.
func (f *FS) KeyFromPath(path string) (key string, ok bool) {
	rel, err := filepath.Rel(f.root, path)
	if err != nil || rel != filepath.Base(rel) || !strings.HasSuffix(rel, Ext) {
		return "", false
	}
	key = strings.TrimSuffix(rel, Ext)
	if ValidateKey(key) != nil {
		return "", false
	}
	return key, true
}

// pathFor validates key and resolves it to an absolute file path under root.
func (f *FS) pathFor(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	abs := filepath.Join(f.root, key+Ext)
	// Ensure the resolved path is still directly under root.
	if filepath.Dir(abs) != f.root {
		return "", fmt.Errorf("%w: %q escapes data root", apperr.ErrInvalidKey, key)
	}
	return abs, nil
}

// List returns metadata for every document file directly under root.
func (f *FS) List() ([]models.DocumentMeta, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	var out []models.DocumentMeta
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key, ok := f.KeyFromPath(filepath.Join(f.root, e.Name()))
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("storage: list: %w", err)
		}
		data, err := os.ReadFile(filepath.Join(f.root, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("storage: list: %w", err)
		}
		out = append(out, models.DocumentMeta{
			Key:       key,
			Size:      len(data),
			Checksum:  checksum.Sum(data),
			UpdatedAt: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Read returns the raw bytes of a document file.
func (f *FS) Read(key string) ([]byte, error) {
	abs, err := f.pathFor(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("storage: read %s: %w", key, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return data, nil
}

// Write atomically writes content: tmp file → fsync → rename.
// A failed write leaves the previous file intact.
func (f *FS) Write(key string, content []byte) error {
	abs, err := f.pathFor(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.root, tmpPattern)
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Delete removes a document file.
func (f *FS) Delete(key string) error {
	abs, err := f.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("storage: delete %s: %w", key, apperr.ErrNotFound)
		}
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}
