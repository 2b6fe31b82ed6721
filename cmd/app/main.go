package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/blink/internal"
	pkgconfig "github.com/starford/blink/pkg/config"
)

type runner func(ctx context.Context, opts ...internal.Option) error

func action(run runner) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		configPath := cmd.String("config")

		cfg := internal.NewDefaultConfig()
		if _, err := pkgconfig.LoadOrDefault(configPath, cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}

		if err := run(ctx, internal.WithConfig(cfg)); err != nil {
			return fmt.Errorf("app run error: %w", err)
		}
		return nil
	}
}

func main() {
	cmd := &cli.Command{
		Name:   "blink",
		Usage:  "Local note store with detached note windows",
		Action: action(internal.Run),
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
				Usage:  "Run the control API, event stream and file watcher",
				Action: action(internal.Run),
			},
			{
				Name:   "mcp",
				Usage:  "Serve note tools over MCP on stdio",
				Action: action(internal.RunMCP),
			},
			{
				Name:   "reconcile",
				Usage:  "Load the notes directory once, repair it, rebuild the index and print the report",
				Action: action(internal.RunReconcile),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
