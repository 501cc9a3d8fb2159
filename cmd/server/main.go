// Package main implements the entry point for the rhqueue server, which
// schedules RunningHub workflow runs in the background and exposes them over
// HTTP, WebSocket and optionally NATS.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/rhqueue/internal/config"
	"github.com/phrazzld/rhqueue/internal/platform/logger"
)

func main() {
	migrateCmd := flag.String("migrate", "", "Run a migration command (up, down, status, version) and exit")
	steps := flag.Int("steps", 1, "Number of migrations to roll back with -migrate=down")
	flag.Parse()

	if err := run(*migrateCmd, *steps); err != nil {
		slog.Error("rhqueue server failed", "error", err)
		os.Exit(1)
	}
}

// run loads configuration, sets up logging and either executes a migration
// command or serves until SIGINT or SIGTERM.
func run(migrateCmd string, steps int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	appLogger.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"storage_backend", cfg.Storage.Backend,
		"auth_enabled", cfg.Auth.JWTSecret != "",
		"nats_enabled", cfg.NATS.URL != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if migrateCmd != "" {
		return handleMigrations(ctx, cfg, appLogger, migrateCmd, steps)
	}

	app, err := newApplication(ctx, cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}
