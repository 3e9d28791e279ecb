/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/spf13/cobra"

	"github.com/acronis/go-sdbmigrate"
	"github.com/acronis/go-sdbmigrate/migrate"
	"github.com/acronis/go-sdbmigrate/session"
)

const (
	pingRetryInterval = time.Second
	pingMaxRetries    = 10
)

// app holds what every database-facing command needs.
type app struct {
	cfg        *sdbmigrate.Config
	migrations []*migrate.Migration
	sessions   []*session.Session
	logger     log.FieldLogger
	closeFns   []func()
}

func (a *app) close() {
	if a.sessions != nil {
		if err := migrate.CloseSessions(a.sessions); err != nil {
			a.logger.Warn("failed to close database connections", log.Error(err))
		}
	}
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
}

// openApp validates the configuration and migrations before connecting to any database.
func openApp(opts options) (*app, error) {
	logger, closeLogger, err := newLogger(opts.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{logger: logger, closeFns: []func(){closeLogger}}
	if a.cfg, err = loadConfig(opts.ConfigFile, opts.ConfigOverrides); err != nil {
		a.close()
		return nil, err
	}
	if a.migrations, err = migrate.LoadDirMigrations(opts.MigrationsDir); err != nil {
		a.close()
		return nil, err
	}
	if a.sessions, err = migrate.OpenSessions(a.cfg, opts.Schema, logger,
		sdbmigrate.WithPingRetry(pingRetryInterval, pingMaxRetries)); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func runUp(cmd *cobra.Command, opts options, out io.Writer) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.close()

	managerOpts := []migrate.ManagerOption{
		migrate.WithDryRun(opts.DryRun),
		migrate.WithForceUpdateEnv(opts.ForceUpdateEnv),
		migrate.WithStrictDialectSQL(opts.StrictDialectSQL),
		migrate.WithRunLock(opts.LockTTL),
	}
	if opts.TargetVersion > noTargetVersion {
		managerOpts = append(managerOpts, migrate.WithTargetVersion(opts.TargetVersion))
	}
	var metrics *sdbmigrate.PrometheusMetrics
	if opts.MetricsTextfile != "" {
		metrics = sdbmigrate.NewPrometheusMetrics()
		managerOpts = append(managerOpts, migrate.WithMetrics(metrics))
	}

	manager, err := migrate.NewManager(a.cfg, a.sessions, a.logger, managerOpts...)
	if err != nil {
		return err
	}
	report, runErr := manager.Run(cmdContext(cmd), a.migrations)
	if report != nil {
		printReport(out, report)
	}
	if metrics != nil {
		if err = metrics.WriteToTextfile(opts.MetricsTextfile); err != nil {
			a.logger.Error("failed to write metrics textfile", log.String("path", opts.MetricsTextfile), log.Error(err))
		}
	}
	return runErr
}

func printReport(out io.Writer, report *migrate.Report) {
	mode := ""
	if report.DryRun {
		mode = " (dry run)"
	}
	_, _ = fmt.Fprintf(out, "run %s%s\n", report.RunID, mode)
	for _, db := range report.Databases {
		_, _ = fmt.Fprintf(out, "%s: version %d -> %d, applied %d, rolled back %d, skipped %d\n",
			db.Database, db.StartVersion, db.SchemaVersion, len(db.Applied), len(db.RolledBack), len(db.Skipped))
		for _, name := range db.Applied {
			_, _ = fmt.Fprintf(out, "  applied %s\n", name)
		}
		for _, name := range db.RolledBack {
			_, _ = fmt.Fprintf(out, "  rolled back %s\n", name)
		}
		for _, name := range db.Skipped {
			_, _ = fmt.Fprintf(out, "  skipped %s\n", name)
		}
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
