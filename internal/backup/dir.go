package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DirDestination writes bundles into a local directory. A second backup on the
// same day replaces the first.
type DirDestination struct {
	dir string
}

func NewDirDestination(dir string) (*DirDestination, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &DirDestination{dir: dir}, nil
}

func (d *DirDestination) Write(_ context.Context, name string, data []byte) error {
	path := filepath.Join(d.dir, filepath.Base(name))
	tmp, err := os.CreateTemp(d.dir, ".backup-*")
	if err != nil {
		return fmt.Errorf("backup temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close backup: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename backup: %w", err)
	}
	return nil
}
