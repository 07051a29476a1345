package internal

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/starford/agencydesk/internal/docstore"
	"github.com/starford/agencydesk/internal/storage"
)

// openStore opens the configured substrate and wraps it in a document store.
// The returned close function releases the substrate.
func openStore(cfg *Config, logger *slog.Logger) (*docstore.Store, storage.Provider, func(), error) {
	provider, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.DSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init storage: %w", err)
	}
	closeFn := func() {
		if c, ok := provider.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Warn("storage close failed", slog.String("error", err.Error()))
			}
		}
	}

	opts := []docstore.Option{
		docstore.WithLogger(logger),
		docstore.WithAppName(cfg.App.Name),
		docstore.WithMaxDocumentBytes(cfg.Documents.MaxDocumentBytes),
	}
	if cfg.Documents.Keys != nil {
		opts = append(opts, docstore.WithKnownKeys(cfg.Documents.Keys))
	}
	if cfg.Documents.LegacyKeys != nil {
		opts = append(opts, docstore.WithLegacyKeys(cfg.Documents.LegacyKeys))
	}
	return docstore.New(provider, opts...), provider, closeFn, nil
}
