package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/rhqueue/internal/config"
	"github.com/phrazzld/rhqueue/internal/platform/postgres"
)

// errNoDatabase is returned when a migration command runs without a database URL.
var errNoDatabase = errors.New("database.url is required for migrations")

// handleMigrations executes one migration command against the configured
// database. It is called from run when the -migrate flag is set.
func handleMigrations(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrateCmd string, steps int) error {
	if cfg.Database.URL == "" {
		return errNoDatabase
	}

	db, err := setupAppDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("error closing database connection", "error", err)
		}
	}()

	logger.Info("executing migrations", "command", migrateCmd)

	switch migrateCmd {
	case "up":
		err = postgres.RunMigrations(ctx, db)
	case "down":
		if steps < 1 {
			return fmt.Errorf("invalid step count %d: must be at least 1", steps)
		}
		err = postgres.RollbackMigrations(ctx, db, steps)
	case "status":
		err = postgres.MigrationStatus(ctx, db)
	case "version":
		var version int64
		version, err = postgres.MigrationVersion(ctx, db)
		if err == nil {
			logger.Info("current migration version", "version", version)
		}
	default:
		return fmt.Errorf("unknown migration command %q", migrateCmd)
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", migrateCmd, err)
	}

	logger.Info("migrations completed", "command", migrateCmd)
	return nil
}
