/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package statetable owns the engine-private state tables: their DDL per dialect and
// the query builder used to read and write them.
package statetable

import (
	"context"
	"fmt"

	"github.com/acronis/go-appkit/log"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"    // register goqu dialect
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // register goqu dialect
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/acronis/go-sdbmigrate"
	"github.com/acronis/go-sdbmigrate/dbconn"
	"github.com/acronis/go-sdbmigrate/session"
	"github.com/acronis/go-sdbmigrate/sqltmpl"
)

// State table names.
const (
	Migrations    = "_sdbmigrate_migrations"
	ShardingState = "_sdbmigrate_sharding_state"
	Env           = "_sdbmigrate_env"
)

// Names returns the state tables in creation order.
func Names() []string {
	return []string{Migrations, ShardingState, Env}
}

var createTableTemplates = map[string]sqltmpl.Template{
	Migrations: {
		Postgres: `CREATE TABLE IF NOT EXISTS <db_schema>._sdbmigrate_migrations (
			version BIGINT NOT NULL PRIMARY KEY,
			migration_name TEXT NOT NULL,
			applied_at TIMESTAMP WITHOUT TIME ZONE NOT NULL DEFAULT NOW()
		)`,
		MySQL: `CREATE TABLE IF NOT EXISTS <db_schema>._sdbmigrate_migrations (
			version BIGINT NOT NULL PRIMARY KEY,
			migration_name TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	},
	ShardingState: {
		Postgres: `CREATE TABLE IF NOT EXISTS <db_schema>._sdbmigrate_sharding_state (
			id INTEGER NOT NULL PRIMARY KEY,
			shard_count INTEGER NOT NULL,
			shard_ids JSON NOT NULL,
			created_at TIMESTAMP WITHOUT TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITHOUT TIME ZONE NOT NULL DEFAULT NOW()
		)`,
		MySQL: `CREATE TABLE IF NOT EXISTS <db_schema>._sdbmigrate_sharding_state (
			id INTEGER NOT NULL PRIMARY KEY,
			shard_count INTEGER NOT NULL,
			shard_ids JSON NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	},
	Env: {
		Postgres: `CREATE TABLE IF NOT EXISTS <db_schema>._sdbmigrate_env (
			key VARCHAR(128) PRIMARY KEY,
			value TEXT NOT NULL,
			type VARCHAR(128) NOT NULL DEFAULT 'str',
			created_at TIMESTAMP WITHOUT TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITHOUT TIME ZONE NOT NULL DEFAULT NOW()
		)`,
		MySQL: "CREATE TABLE IF NOT EXISTS <db_schema>._sdbmigrate_env (\n" +
			"\t\t\t`key` VARCHAR(128) PRIMARY KEY,\n" +
			"\t\t\t`value` TEXT NOT NULL,\n" +
			"\t\t\t`type` VARCHAR(128) NOT NULL DEFAULT 'str',\n" +
			"\t\t\t`created_at` TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,\n" +
			"\t\t\t`updated_at` TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP\n" +
			"\t\t)",
	},
}

// CreateTableSQL returns the dialect-specific DDL for creating the state table in the schema.
func CreateTableSQL(dialect sdbmigrate.Dialect, schema, table string) (string, error) {
	tmpl, ok := createTableTemplates[table]
	if !ok {
		return "", fmt.Errorf("unknown state table %q", table)
	}
	return tmpl.Resolve(dialect, map[string]string{sqltmpl.VarDBSchema: dialect.QuoteIdent(schema)})
}

// CreateSchemaSQL returns DDL for creating a custom PostgreSQL schema.
func CreateSchemaSQL(schema string) string {
	return "CREATE SCHEMA IF NOT EXISTS " + sdbmigrate.DialectPostgres.QuoteIdent(schema)
}

// Builder returns a goqu query builder for the dialect of the session.
func Builder(s *session.Session) goqu.DialectWrapper {
	return goqu.Dialect(string(s.Dialect))
}

// Table returns a schema-qualified state table expression.
func Table(s *session.Session, table string) exp.IdentifierExpression {
	return goqu.S(s.Schema).Table(table)
}

// Exists reports whether the table exists in the state schema of the session.
func Exists(ctx context.Context, cur *dbconn.Cursor, s *session.Session, table string) (bool, error) {
	query, args, err := Builder(s).
		From(goqu.S("information_schema").Table("tables")).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C("table_schema").Eq(s.Schema), goqu.C("table_name").Eq(table)).
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
		return false, fmt.Errorf("check table %s exists: %w", table, err)
	}
	return cnt > 0, nil
}

// Ensure creates the state schema (PostgreSQL custom schema only) and the missing state tables.
func Ensure(ctx context.Context, cur *dbconn.Cursor, s *session.Session, logger log.FieldLogger) error {
	if s.Dialect == sdbmigrate.DialectPostgres && s.Schema != sdbmigrate.PostgresDefaultSchema {
		if _, err := cur.Exec(ctx, CreateSchemaSQL(s.Schema)); err != nil {
			return fmt.Errorf("create schema %s on %s: %w", s.Schema, s, err)
		}
	}
	for _, table := range Names() {
		exists, err := Exists(ctx, cur, s, table)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		logger.Info("creating sdbmigrate state table",
			log.String("table", table), log.String("schema", s.Schema), log.String("db", s.String()))
		ddl, err := CreateTableSQL(s.Dialect, s.Schema, table)
		if err != nil {
			return err
		}
		if _, err = cur.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create state table %s on %s: %w", table, s, err)
		}
	}
	return nil
}
