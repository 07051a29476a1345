package internal

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	logOutput io.Writer
	version   string
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogOutput redirects logs. The MCP server needs stdout for the protocol.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}

func newApplication(opts []Option) (*application, error) {
	app := &application{
		logOutput: os.Stdout,
		version:   "dev",
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger initializes the structured JSON logger.
func (a *application) newLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}
