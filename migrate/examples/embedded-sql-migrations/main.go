/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	stdlog "log"

	"github.com/acronis/go-appkit/log"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/acronis/go-sdbmigrate"
	"github.com/acronis/go-sdbmigrate/migrate"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

func main() {
	if err := runMigrations(); err != nil {
		stdlog.Fatal(err)
	}
}

func runMigrations() error {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	var dryRun bool
	flag.BoolVar(&dryRun, "dry-run", false, "roll back transactional migrations after executing them")
	flag.Parse()

	cfg, err := sdbmigrate.LoadConfigFile(configPath)
	if err != nil {
		return err
	}

	logger, loggerClose := log.NewLogger(&log.Config{Output: log.OutputStderr, Level: log.LevelInfo})
	defer loggerClose()

	migrations, err := migrate.LoadMigrations(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	sessions, err := migrate.OpenSessions(cfg, "", logger)
	if err != nil {
		return err
	}
	defer func() { _ = migrate.CloseSessions(sessions) }()

	manager, err := migrate.NewManager(cfg, sessions, logger, migrate.WithDryRun(dryRun))
	if err != nil {
		return err
	}
	report, err := manager.Run(context.Background(), migrations)
	if err != nil {
		return err
	}
	logger.Info("migrations are applied", log.Int("count", report.AppliedCount()))
	return nil
}
