/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package envstate keeps the frozen sdbmigrate environment of every database consistent with the configuration.
package envstate

import (
	"context"
	"fmt"

	"github.com/acronis/go-appkit/log"
	"github.com/doug-martin/goqu/v9"

	"github.com/acronis/go-sdbmigrate"
	"github.com/acronis/go-sdbmigrate/dbconn"
	"github.com/acronis/go-sdbmigrate/session"
	"github.com/acronis/go-sdbmigrate/statetable"
)

// Manager initializes and verifies the environment persisted in databases.
type Manager struct {
	env    sdbmigrate.Env
	logger log.FieldLogger
}

// NewManager creates a new environment manager for the configured environment.
func NewManager(env sdbmigrate.Env, logger log.FieldLogger) *Manager {
	if env == nil {
		env = sdbmigrate.Env{}
	}
	return &Manager{env: env, logger: logger}
}

// IsInitialized reports whether at least one environment row exists.
func (m *Manager) IsInitialized(ctx context.Context, cur *dbconn.Cursor, s *session.Session) (bool, error) {
	query, args, err := statetable.Builder(s).
		From(statetable.Table(s, statetable.Env)).
		Select(goqu.COUNT(goqu.Star())).
		Prepared(true).ToSQL()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}
	row, err := cur.QueryRow(ctx, query, args...)
	if err != nil {
		return false, err
	}
	var cnt int
	if err = row.Scan(&cnt); err != nil {
		return false, fmt.Errorf("check env on %s: %w", s, err)
	}
	return cnt > 0, nil
}

// Initialize writes the configured environment when the database has none yet or when force is set.
// Rows are upserted, so a forced update doesn't fail on existing keys. A forced update also removes
// keys that are not configured anymore. It returns true if the environment was written.
func (m *Manager) Initialize(ctx context.Context, cur *dbconn.Cursor, s *session.Session, force bool) (bool, error) {
	initialized, err := m.IsInitialized(ctx, cur, s)
	if err != nil {
		return false, err
	}
	if initialized && !force {
		m.logger.Debug("env is already initialized", log.String("db", s.String()))
		return false, nil
	}
	if err = m.env.Validate(); err != nil {
		return false, err
	}
	if force {
		m.logger.Info("force update env", log.String("db", s.String()), log.Int("keys", len(m.env)))
		if err = m.deleteStaleKeys(ctx, cur, s); err != nil {
			return false, err
		}
	}

	for _, key := range m.env.Keys() {
		v := m.env[key]
		text, typ := v.Text(), string(v.TypeOrDefault())
		query, args, buildErr := statetable.Builder(s).
			Insert(statetable.Table(s, statetable.Env)).
			Rows(goqu.Record{"key": key, "value": text, "type": typ}).
			OnConflict(goqu.DoUpdate("key", goqu.Record{"value": text, "type": typ, "updated_at": goqu.L("NOW()")})).
			Prepared(true).ToSQL()
		if buildErr != nil {
			return false, fmt.Errorf("build query: %w", buildErr)
		}
		if _, err = cur.Exec(ctx, query, args...); err != nil {
			return false, fmt.Errorf("write env key %q on %s: %w", key, s, err)
		}
	}
	return true, nil
}

func (m *Manager) deleteStaleKeys(ctx context.Context, cur *dbconn.Cursor, s *session.Session) error {
	ds := statetable.Builder(s).Delete(statetable.Table(s, statetable.Env))
	if keys := m.env.Keys(); len(keys) > 0 {
		ds = ds.Where(goqu.C("key").NotIn(keys))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err = cur.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("delete stale env keys on %s: %w", s, err)
	}
	return nil
}

// VerifyAndLoad checks that the persisted environment matches the configuration exactly and
// stores the configured environment on the session. Any mismatch is a drift error.
func (m *Manager) VerifyAndLoad(ctx context.Context, cur *dbconn.Cursor, s *session.Session) error {
	query, args, err := statetable.Builder(s).
		From(statetable.Table(s, statetable.Env)).
		Select("key", "value", "type").
		Order(goqu.C("key").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	rows, err := cur.FetchAll(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("load env on %s: %w", s, err)
	}
	if len(rows) != len(m.env) {
		m.logger.Info("env record count mismatch", log.String("db", s.String()),
			log.Int("db_keys", len(rows)), log.Int("config_keys", len(m.env)))
		return fmt.Errorf("%w: env on %s is not equal to config env: record count mismatch (%d != %d)",
			sdbmigrate.ErrInvalidEnv, s, len(rows), len(m.env))
	}

	for _, row := range rows {
		if len(row) != 3 {
			return fmt.Errorf("load env on %s: unexpected row %v", s, row)
		}
		key, rawValue, dbType := fmt.Sprint(row[0]), fmt.Sprint(row[1]), sdbmigrate.EnvType(fmt.Sprint(row[2]))
		if err = m.verifyKey(s, key, rawValue, dbType); err != nil {
			return err
		}
	}
	s.Env = m.env
	return nil
}

func (m *Manager) verifyKey(s *session.Session, key, rawValue string, dbType sdbmigrate.EnvType) error {
	if !dbType.IsSupported() {
		return fmt.Errorf("%w: unsupported env type %q for key %q on %s", sdbmigrate.ErrInvalidEnv, dbType, key, s)
	}
	dbValue, err := dbType.Parse(rawValue)
	if err != nil {
		return fmt.Errorf("%w: env on %s has wrong value %q for key %q and type %s",
			sdbmigrate.ErrInvalidEnv, s, rawValue, key, dbType)
	}
	cfgVar, ok := m.env[key]
	if !ok {
		return fmt.Errorf("%w: env on %s has key %q that is absent in config env", sdbmigrate.ErrInvalidEnv, s, key)
	}
	cfgValue, err := cfgVar.Decoded()
	if err != nil {
		return fmt.Errorf("%w: invalid config value for key %q: %v", sdbmigrate.ErrInvalidEnv, key, err)
	}
	if cfgValue != dbValue {
		m.logger.Info("env value mismatch", log.String("key", key), log.String("db", s.String()),
			log.String("db_value", rawValue), log.String("config_value", cfgVar.Text()))
		return fmt.Errorf("%w: env on %s has different values for key %q (db: %q, config: %q)",
			sdbmigrate.ErrInvalidEnv, s, key, rawValue, cfgVar.Text())
	}
	if cfgType := cfgVar.TypeOrDefault(); cfgType != dbType {
		m.logger.Info("env type mismatch", log.String("key", key), log.String("db", s.String()),
			log.String("db_type", string(dbType)), log.String("config_type", string(cfgType)))
		return fmt.Errorf("%w: env on %s has different types for key %q (db: %s, config: %s)",
			sdbmigrate.ErrInvalidEnv, s, key, dbType, cfgType)
	}
	return nil
}
