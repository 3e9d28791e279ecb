/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package session holds the runtime state of a single target database during a run.
package session

import (
	"fmt"

	"github.com/acronis/go-appkit/log"

	"github.com/acronis/go-sdbmigrate"
	"github.com/acronis/go-sdbmigrate/dbconn"
	"github.com/acronis/go-sdbmigrate/sqltmpl"
)

// NoSchemaVersion is the schema version of a database without applied migrations.
const NoSchemaVersion int64 = -1

// AppliedMigration is a row of the applied migrations table.
type AppliedMigration struct {
	Version int64
	Name    string
}

// Session is a target database with its connections and the state loaded from it.
type Session struct {
	Config  sdbmigrate.DatabaseConfig
	Index   int
	Schema  string
	Dialect sdbmigrate.Dialect

	Trx   *dbconn.Conn
	NoTrx *dbconn.Conn
	// Lock is an autocommit connection used only by the run lock, so that extending the lock
	// never waits for a long statement running on NoTrx. It's opened on first use.
	Lock *dbconn.Conn

	SchemaVersion int64
	ShardIDs      []int
	Env           sdbmigrate.Env
	Applied       []AppliedMigration

	logger   log.FieldLogger
	openOpts []sdbmigrate.OpenOption
}

// New creates a session over already opened connections.
// An empty schema selects the default one: "public" for PostgreSQL and the database name for MySQL.
func New(cfg sdbmigrate.DatabaseConfig, index int, schema string, trx, noTrx *dbconn.Conn) (*Session, error) {
	schema, err := StateSchema(&cfg, schema)
	if err != nil {
		return nil, err
	}
	return &Session{
		Config:        cfg,
		Index:         index,
		Schema:        schema,
		Dialect:       cfg.Type,
		Trx:           trx,
		NoTrx:         noTrx,
		SchemaVersion: NoSchemaVersion,
	}, nil
}

// Open opens transactional and autocommit connections to the database and creates a session.
func Open(
	cfg sdbmigrate.DatabaseConfig, index int, schema string, logger log.FieldLogger, opts ...sdbmigrate.OpenOption,
) (*Session, error) {
	trx, err := dbconn.Open(&cfg, dbconn.ModeTransactional, logger, opts...)
	if err != nil {
		return nil, err
	}
	noTrx, err := dbconn.Open(&cfg, dbconn.ModeAutocommit, logger, opts...)
	if err != nil {
		_ = trx.Close()
		return nil, err
	}
	s, err := New(cfg, index, schema, trx, noTrx)
	if err != nil {
		_ = trx.Close()
		_ = noTrx.Close()
		return nil, err
	}
	s.logger = logger
	s.openOpts = opts
	return s, nil
}

// LockConn returns the connection of the run lock and opens it on first use.
func (s *Session) LockConn() (*dbconn.Conn, error) {
	if s.Lock != nil {
		return s.Lock, nil
	}
	lock, err := dbconn.Open(&s.Config, dbconn.ModeAutocommit, s.logger, s.openOpts...)
	if err != nil {
		return nil, fmt.Errorf("open lock connection to %s: %w", s, err)
	}
	s.Lock = lock
	return lock, nil
}

// StateSchema returns the schema where state tables of the database live.
// A custom schema is supported for PostgreSQL only, in MySQL the schema is the database itself.
func StateSchema(cfg *sdbmigrate.DatabaseConfig, custom string) (string, error) {
	switch cfg.Type {
	case sdbmigrate.DialectPostgres:
		if custom != "" {
			return custom, nil
		}
		return sdbmigrate.PostgresDefaultSchema, nil
	case sdbmigrate.DialectMySQL:
		if custom != "" && custom != cfg.Name {
			return "", fmt.Errorf("%w: custom state schema %q is not supported for %s",
				sdbmigrate.ErrInvalidConfig, custom, cfg.Type)
		}
		return cfg.Name, nil
	}
	return "", fmt.Errorf("%w: %q", sdbmigrate.ErrUnsupportedDialect, cfg.Type)
}

// String returns a short identity of the database used in logs and errors.
func (s *Session) String() string {
	return s.Config.String()
}

// Vars returns placeholder values for SQL templates: env values and the state schema.
func (s *Session) Vars() map[string]string {
	vars := make(map[string]string, len(s.Env)+1)
	for key, v := range s.Env {
		vars[key] = v.Text()
	}
	vars[sqltmpl.VarDBSchema] = s.Schema
	return vars
}

// Close closes all opened connections.
func (s *Session) Close() error {
	var firstErr error
	for _, c := range []*dbconn.Conn{s.Trx, s.NoTrx, s.Lock} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
