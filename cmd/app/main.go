package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/gitnote/internal"
	pkgconfig "github.com/starford/gitnote/pkg/config"
)

var version = "dev"

type runFunc func(ctx context.Context, opts ...internal.Option) error

func action(run runFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		configPath := cmd.String("config")

		cfg := internal.NewDefaultConfig()
		if err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}

		opts := []internal.Option{
			internal.WithConfig(cfg),
			internal.WithVersion(version),
		}

		if err := run(ctx, opts...); err != nil {
			return fmt.Errorf("app run error: %w", err)
		}
		return nil
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "gitnote",
		Usage:   "Notes stored in a git repository, synchronized with a remote and cached in SQLite",
		Version: version,
		Action:  action(internal.Run),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API with background sync (default)",
				Action: action(internal.Run),
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: action(internal.RunMCP),
			},
			{
				Name:   "sync",
				Usage:  "Commit, pull, push and refresh the cache once, then exit",
				Action: action(internal.RunSync),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
