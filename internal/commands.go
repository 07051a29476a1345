package internal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/agencydesk/internal/docstore"
	"github.com/starford/agencydesk/internal/mcpserver"
)

// OriginCLI tags changes made by one-shot commands.
const OriginCLI = "cli"

// Export writes a backup bundle into dir (or to w when dir is "-") and records
// the export as the last backup. It returns where the bundle went.
func Export(ctx context.Context, dir string, w io.Writer, opts ...Option) (string, error) {
	app, err := newApplication(opts)
	if err != nil {
		return "", err
	}
	logger := app.newLogger()
	store, _, closeStore, err := openStore(app.config, logger)
	if err != nil {
		return "", err
	}
	defer closeStore()

	var buf bytes.Buffer
	name, at, err := store.WriteBundle(ctx, &buf)
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}

	where := "stdout"
	if dir == "-" {
		if _, err := w.Write(buf.Bytes()); err != nil {
			return "", fmt.Errorf("export: %w", err)
		}
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("export: %w", err)
		}
		where = filepath.Join(dir, name)
		if err := os.WriteFile(where, buf.Bytes(), 0o644); err != nil {
			return "", fmt.Errorf("export: %w", err)
		}
	}

	if err := store.RecordBackup(at); err != nil {
		return where, fmt.Errorf("export: %w", err)
	}
	return where, nil
}

// Import restores the bundle at path. Nothing is written if the bundle is invalid.
func Import(ctx context.Context, path string, opts ...Option) (int, error) {
	app, err := newApplication(opts)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}
	logger := app.newLogger()
	store, _, closeStore, err := openStore(app.config, logger)
	if err != nil {
		return 0, err
	}
	defer closeStore()

	n, err := store.ImportData(docstore.WithOrigin(ctx, OriginCLI), data)
	if err != nil {
		return 0, fmt.Errorf("import %s: %w", path, err)
	}
	return n, nil
}

// Cleanup removes the configured legacy documents and returns how many were removed.
func Cleanup(ctx context.Context, opts ...Option) (int, error) {
	app, err := newApplication(opts)
	if err != nil {
		return 0, err
	}
	logger := app.newLogger()
	store, _, closeStore, err := openStore(app.config, logger)
	if err != nil {
		return 0, err
	}
	defer closeStore()

	return store.CleanupOldData(docstore.WithOrigin(ctx, OriginCLI)), nil
}

// ServeMCP runs the MCP server on stdin/stdout until the client disconnects.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := app.newLogger()
	store, _, closeStore, err := openStore(app.config, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	logger.Info("MCP server starting", slog.String("version", app.version))
	return mcpserver.New(store, app.version).ServeStdio()
}
