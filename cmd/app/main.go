package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/agencydesk/internal"
	pkgconfig "github.com/starford/agencydesk/pkg/config"
)

var version = "dev"

func loadOptions(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func runExport(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	opts = append(opts, internal.WithLogOutput(os.Stderr))
	where, err := internal.Export(ctx, cmd.String("out"), os.Stdout, opts...)
	if err != nil {
		return err
	}
	if where != "stdout" {
		fmt.Fprintf(os.Stderr, "exported to %s\n", where)
	}
	return nil
}

func runImport(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("import: bundle file argument is required")
	}
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	opts = append(opts, internal.WithLogOutput(os.Stderr))
	n, err := internal.Import(ctx, path, opts...)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d documents\n", n)
	return nil
}

func runCleanup(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	opts = append(opts, internal.WithLogOutput(os.Stderr))
	n, err := internal.Cleanup(ctx, opts...)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d legacy documents\n", n)
	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:    "agencydesk",
		Usage:   "Document store for the agency dashboard with backups and live change notifications",
		Version: version,
		Action:  run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (.yaml or .toml)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server (default)",
				Action: run,
			},
			{
				Name:  "export",
				Usage: "Write a backup bundle and record it as the last backup",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Directory for the bundle file, or - for stdout",
						Value:   ".",
					},
				},
				Action: runExport,
			},
			{
				Name:      "import",
				Usage:     "Restore documents from a backup bundle",
				ArgsUsage: "<bundle.json>",
				Action:    runImport,
			},
			{
				Name:   "cleanup",
				Usage:  "Remove legacy documents",
				Action: runCleanup,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: runMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
