//go:build !test

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"nudge/src/internal/api"
	"nudge/src/internal/config"
	"nudge/src/internal/gateway"
	"nudge/src/internal/storage"
)

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if addr := cmd.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	level := slog.LevelInfo
	if cfg.Agents.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	st, err := storage.New(cfg.StorageDir)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if created, err := st.BootstrapSoul(cmd.String("soul")); err != nil {
		slog.Warn("failed to bootstrap soul.md", "error", err)
	} else if created {
		slog.Info("bootstrapped soul.md", "dir", cfg.StorageDir)
	}

	release, err := acquirePIDFile(filepath.Join(cfg.StorageDir, "nudge.pid"))
	if err != nil {
		return err
	}
	defer release()

	isLoopback := cfg.Server.EffectiveHost == "127.0.0.1" || cfg.Server.EffectiveHost == "localhost" || cfg.Server.EffectiveHost == "::1" || cfg.Server.EffectiveHost == "[::1]"
	if !isLoopback && cfg.Server.Key == "" {
		slog.Warn("binding to non-loopback address without server key; recommend setting config.server.key", "host", cfg.Server.EffectiveHost)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.New(ctx, cfg, st)
	if err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	defer func() {
		if err := gw.Close(); err != nil {
			slog.Error("gateway close failed", "error", err)
		}
	}()

	server := api.NewServer(gw)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.Run(gCtx)
	})
	g.Go(func() error {
		return server.ListenAndServe(gCtx, cfg.Server.Addr)
	})

	slog.Info("starting nudge", "addr", cfg.Server.Addr, "model", gw.PrimaryAgent.PrimaryModel())
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// acquirePIDFile refuses to start a second instance against the same
// storage directory and cleans up stale pid files.
func acquirePIDFile(pidPath string) (func(), error) {
	if pidBytes, err := os.ReadFile(pidPath); err == nil {
		pidStr := strings.TrimSpace(string(pidBytes))
		if pid, err := strconv.Atoi(pidStr); err == nil && pid > 0 {
			if syscall.Kill(pid, 0) == nil {
				return nil, fmt.Errorf("nudge already running (pid %d, pidfile %s)", pid, pidPath)
			}
			if err := os.Remove(pidPath); err != nil {
				slog.Warn("failed to remove stale pidfile", "path", pidPath, "error", err)
			} else {
				slog.Info("cleaned stale pidfile", "pid", pid)
			}
		}
	}

	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644); err != nil {
		return nil, fmt.Errorf("failed to write pidfile %s: %w", pidPath, err)
	}
	return func() {
		if err := os.Remove(pidPath); err != nil {
			slog.Error("failed to remove pidfile", "path", pidPath, "error", err)
		}
	}, nil
}

func main() {
	cmd := &cli.Command{
		Name:   "nudge",
		Usage:  "Reminder assistant server: chat API, reminder store and alert delivery",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (defaults to $NUDGE_STORAGE_DIR/config.yaml or ~/.nudge/config.yaml)",
				Sources: cli.EnvVars("NUDGE_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Listen address, overrides server.addr",
				Sources: cli.EnvVars("NUDGE_ADDR"),
			},
			&cli.StringFlag{
				Name:    "soul",
				Usage:   "Template used to create soul.md on first start",
				Sources: cli.EnvVars("NUDGE_SOUL_TEMPLATE"),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
