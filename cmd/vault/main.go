package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/vault/internal"
	pkgconfig "github.com/starford/vault/pkg/config"
)

func loadOptions(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.Root().String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
	}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, opts...)
}

func list(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.RunList(ctx, os.Stdout, cmd.String("query"), cmd.String("url"), opts...)
}

func export(ctx context.Context, cmd *cli.Command) (err error) {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if out := cmd.String("out"); out != "" && out != "-" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}
	return internal.RunExport(ctx, w, cmd.String("format"), opts...)
}

func reviewLoop(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.RunReview(ctx, os.Stdin, os.Stdout, opts...)
}

func apply(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.RunApply(ctx, os.Stdout, cmd.String("url"), opts...)
}

func main() {
	cmd := &cli.Command{
		Name:   "vault",
		Usage:  "Save page highlights and re-anchor them when the page is revisited",
		Action: serve,
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
				Usage:  "Run the HTTP API (default)",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdio",
				Action: mcp,
			},
			{
				Name:   "list",
				Usage:  "List saved highlights",
				Action: list,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Filter by text, title or url"},
					&cli.StringFlag{Name: "url", Usage: "Only highlights from this page"},
				},
			},
			{
				Name:   "export",
				Usage:  "Export every highlight",
				Action: export,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "txt", Usage: "txt, json or md"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (default stdout)"},
				},
			},
			{
				Name:   "review",
				Usage:  "Step through highlights one at a time",
				Action: reviewLoop,
			},
			{
				Name:   "apply",
				Usage:  "Render a page with its highlights applied and print the HTML",
				Action: apply,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Required: true, Usage: "Page URL"},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
