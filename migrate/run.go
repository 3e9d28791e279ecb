/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"context"
	"fmt"

	"github.com/acronis/go-appkit/log"

	"github.com/acronis/go-sdbmigrate"
	"github.com/acronis/go-sdbmigrate/dbconn"
	"github.com/acronis/go-sdbmigrate/distrlock"
	"github.com/acronis/go-sdbmigrate/session"
	"github.com/acronis/go-sdbmigrate/statetable"
)

// RunLockKey is the key of the run lock taken on every database.
const RunLockKey = "sdbmigrate_run"

// Report summarizes a run.
type Report struct {
	RunID     string
	DryRun    bool
	Databases []DatabaseReport
}

// DatabaseReport summarizes a run on a single database.
type DatabaseReport struct {
	Database      string
	StartVersion  int64
	SchemaVersion int64
	Applied       []string
	RolledBack    []string
	Skipped       []string
	TargetReached bool
}

// AppliedCount returns the number of migrations applied on all databases.
func (r *Report) AppliedCount() int {
	var n int
	for _, db := range r.Databases {
		n += len(db.Applied)
	}
	return n
}

// Run initializes the state of every database and applies migrations.
// With the run lock enabled the lock is taken on every database in configuration order first.
func (m *Manager) Run(ctx context.Context, migrations []*Migration) (*Report, error) {
	var report *Report
	run := func(ctx context.Context) error {
		if err := m.Init(ctx); err != nil {
			return err
		}
		var applyErr error
		report, applyErr = m.Apply(ctx, migrations)
		return applyErr
	}
	var err error
	if m.lockTTL > 0 {
		err = m.doExclusively(ctx, 0, run)
	} else {
		err = run(ctx)
	}
	return report, err
}

// doExclusively takes the run lock on the idx-th database and recurses into the next one.
// The lock lives in a dedicated autocommit connection of the session, so extending it
// doesn't wait for a long NOTRX migration holding the NoTrx connection.
func (m *Manager) doExclusively(ctx context.Context, idx int, fn func(ctx context.Context) error) error {
	if idx == len(m.sessions) {
		return fn(ctx)
	}
	s := m.sessions[idx]
	lockManager, err := distrlock.NewDBManager(s.Dialect, distrlock.WithSchema(s.Schema))
	if err != nil {
		return err
	}

	lockConn, err := s.LockConn()
	if err != nil {
		return err
	}

	var lock distrlock.DBLock
	if err = lockConn.WithAutocommit(ctx, func(cur *dbconn.Cursor) error {
		if s.Dialect == sdbmigrate.DialectPostgres && s.Schema != sdbmigrate.PostgresDefaultSchema {
			if _, execErr := cur.Exec(ctx, statetable.CreateSchemaSQL(s.Schema)); execErr != nil {
				return execErr
			}
		}
		if _, execErr := cur.Exec(ctx, lockManager.CreateTableSQL()); execErr != nil {
			return execErr
		}
		var lockErr error
		lock, lockErr = lockManager.NewLock(ctx, lockConn.DB(), RunLockKey)
		return lockErr
	}); err != nil {
		return fmt.Errorf("prepare run lock on %s: %w", s, err)
	}

	m.logger.Info("taking run lock", log.String("db", s.String()))
	return lock.DoExclusively(ctx, lockConn.DB(), func(ctx context.Context) error {
		return m.doExclusively(ctx, idx+1, fn)
	}, distrlock.WithLockTTL(m.lockTTL), distrlock.WithToken(m.runID), distrlock.WithLogger(m.logger))
}

// DatabaseStatus is the migration state of a database.
type DatabaseStatus struct {
	Database      string
	Initialized   bool
	SchemaVersion int64
	Applied       []session.AppliedMigration
	Pending       []string
}

// Status reads applied migrations of every database without changing anything.
// Migrations with versions above the schema version are reported as pending.
func (m *Manager) Status(ctx context.Context, migrations []*Migration) ([]DatabaseStatus, error) {
	sorted, err := sortMigrations(migrations)
	if err != nil {
		return nil, err
	}
	statuses := make([]DatabaseStatus, 0, len(m.sessions))
	for _, s := range m.sessions {
		st := DatabaseStatus{Database: s.String(), SchemaVersion: session.NoSchemaVersion}
		if err = s.Trx.WithTransaction(ctx, func(cur *dbconn.Cursor) error {
			exists, existsErr := statetable.Exists(ctx, cur, s, statetable.Migrations)
			if existsErr != nil || !exists {
				return existsErr
			}
			st.Initialized = true
			return statetable.LoadApplied(ctx, cur, s)
		}); err != nil {
			return nil, fmt.Errorf("read status of %s: %w", s, err)
		}
		if st.Initialized {
			st.SchemaVersion = s.SchemaVersion
			st.Applied = s.Applied
		}
		for _, mig := range sorted {
			if mig.Version() > st.SchemaVersion {
				st.Pending = append(st.Pending, mig.FileName())
			}
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}
