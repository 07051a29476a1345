package storage

import (
	"fmt"
	"os"
)

// Supported drivers.
const (
	DriverFS       = "fs"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Open builds the provider for driver. path is the data directory (fs) or
// database file (sqlite); dsn is the Postgres connection string.
// Providers holding resources implement io.Closer.
func Open(driver, path, dsn string) (Provider, error) {
	switch driver {
	case DriverFS, "":
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create data dir: %w", err)
		}
		f, err := NewFS(path)
		if err != nil {
			return nil, err
		}
		return f, nil
	case DriverSQLite:
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := OpenPostgres(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}
