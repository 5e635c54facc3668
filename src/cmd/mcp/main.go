//go:build !test

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"nudge/src/internal/config"
	"nudge/src/internal/gateway"
	"nudge/src/internal/mcpserver"
	"nudge/src/internal/session"
	"nudge/src/internal/storage"
)

const version = "0.1.0"

func run(ctx context.Context, cmd *cli.Command) error {
	// stdout carries the protocol
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	st, err := storage.New(cfg.StorageDir)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	gw, err := gateway.New(ctx, cfg, st, gateway.WithoutChannels(), gateway.WithoutAgent())
	if err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	defer gw.Close()

	srv, err := mcpserver.New(gw.Dispatcher, cmd.String("owner"), version)
	if err != nil {
		return err
	}
	slog.Info("serving MCP on stdio", "owner", cmd.String("owner"))
	return srv.ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:   "nudge-mcp",
		Usage:  "Expose the reminder, calendar and messaging tools to MCP clients over stdio",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Sources: cli.EnvVars("NUDGE_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "owner",
				Usage:   "User the tool calls act for",
				Value:   session.DefaultSessionID,
				Sources: cli.EnvVars("NUDGE_MCP_OWNER"),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
