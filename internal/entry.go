// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/agencydesk/internal/api"
	"github.com/starford/agencydesk/internal/backup"
	"github.com/starford/agencydesk/internal/changefeed"
	"github.com/starford/agencydesk/internal/docstore"
	"github.com/starford/agencydesk/internal/events"
	"github.com/starford/agencydesk/internal/storage"
	"github.com/starford/agencydesk/internal/watcher"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.newLogger()

	instance := uuid.NewString()
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("storage_path", cfg.Storage.Path),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("instance", instance),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, provider, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if n := store.CleanupOldData(ctx); n > 0 {
		logger.Info("legacy documents removed", slog.Int("count", n))
	}

	// Change feed for connected clients.
	broker := changefeed.NewBroker(2 * time.Second)
	defer broker.Close()
	cancelFeed := store.OnChange("", func(c docstore.Change) {
		broker.PublishChange(c.Key, c.Origin, c.Deleted)
	})
	defer cancelFeed()

	// Cross-instance relay.
	var (
		bus   *events.Bus
		relay *events.Relay
	)
	if cfg.Events.Enabled() {
		bus, err = events.Dial(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			return fmt.Errorf("init events: %w", err)
		}
		defer bus.Close()
		relay = events.NewRelay(store, bus, instance, logger)
		defer relay.Attach()()
		logger.Info("relay enabled", slog.String("subject", bus.Subject()), slog.String("instance", instance))
	}

	// Scheduled backups.
	if cfg.Backup.Enabled() {
		dests, err := backupDestinations(ctx, cfg.Backup)
		if err != nil {
			return fmt.Errorf("init backup: %w", err)
		}
		sched := backup.NewScheduler(store, dests, cfg.Backup.Interval, logger)
		sched.Start()
		defer sched.Stop()
	}

	apiRouter := api.NewRouter(store, cfg.Auth.API(), broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := store.Keys(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}
	// Streaming clients end when the broker closes.
	httpServer.RegisterOnShutdown(broker.Close)

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Out-of-band edits to the data directory.
	if fsp, ok := provider.(*storage.FS); ok {
		g.Go(func() error {
			return watcher.Watch(gCtx, fsp, watcher.DefaultDebounce, logger, func(key string) {
				store.NotifyExternal(key, docstore.OriginExternal)
			})
		})
	}

	if relay != nil {
		g.Go(func() error {
			return relay.Run(gCtx, bus)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so background loops stop with the server.
var errShutdown = errors.New("shutdown")

func backupDestinations(ctx context.Context, cfg BackupConfig) ([]backup.Destination, error) {
	var dests []backup.Destination
	if cfg.Dir != "" {
		d, err := backup.NewDirDestination(cfg.Dir)
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
	}
	if cfg.S3.Bucket != "" {
		d, err := backup.NewS3Destination(ctx, cfg.S3.Bucket, cfg.S3.Prefix, cfg.S3.Region, cfg.S3.Endpoint)
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
	}
	return dests, nil
}
