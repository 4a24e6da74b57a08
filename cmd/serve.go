package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/scriptkeeper/internal/config"
	"github.com/nextlevelbuilder/scriptkeeper/internal/frontend/chat"
	"github.com/nextlevelbuilder/scriptkeeper/internal/frontend/httpapi"
	"github.com/nextlevelbuilder/scriptkeeper/internal/reload"
	"github.com/nextlevelbuilder/scriptkeeper/internal/roommap"
	"github.com/nextlevelbuilder/scriptkeeper/internal/service"
	"github.com/nextlevelbuilder/scriptkeeper/internal/supervisor"
)

var noChat bool

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the evaluator with the configured frontends",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
	cmd.Flags().BoolVar(&noChat, "no-chat", false, "disable the chat frontend even if server.hostname is configured")
	return cmd
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func runServe() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	rooms := roommap.New()
	timeout := time.Duration(cfg.EvalTimeout()) * time.Millisecond
	sup, err := supervisor.New(cfg.StateRoot(), cfg.StateRepo(), cfg.SSHKeyPath(), rooms, timeout)
	if err != nil {
		slog.Error("failed to start supervisor", "error", err)
		os.Exit(1)
	}
	defer sup.Shutdown()

	svc := service.New(cfg, sup)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	libraryPath := filepath.Join(cfg.StateRoot(), "stolen-treasure.tcl")
	watcher, err := reload.New(sup, cfg.StateRoot(), libraryPath)
	if err != nil {
		slog.Warn("hot-reload watcher unavailable", "error", err)
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	var chatFrontend *chat.Frontend
	if !noChat && cfg.Server.Hostname != "" {
		chatFrontend = chat.New(&cfg.Server, svc, rooms)
		chatFrontend.Start(ctx)
		defer chatFrontend.Stop()
		slog.Info("chat frontend enabled", "server", cfg.Server.Hostname)
	}

	httpServer := httpapi.New(cfg, svc)
	go func() {
		if err := httpServer.Start(ctx); err != nil {
			slog.Error("http frontend error", "error", err)
		}
	}()
	slog.Info("scriptkeeper serving", "version", Version, "addr", cfg.GatewayAddr())

	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()
}
