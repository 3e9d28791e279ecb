/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package statetable

import (
	"context"
	"fmt"
	"strconv"

	"github.com/doug-martin/goqu/v9"

	"github.com/acronis/go-sdbmigrate/dbconn"
	"github.com/acronis/go-sdbmigrate/session"
)

// LoadApplied reads applied migrations ordered by version and sets the schema version of the session.
func LoadApplied(ctx context.Context, cur *dbconn.Cursor, s *session.Session) error {
	query, args, err := Builder(s).
		From(Table(s, Migrations)).
		Select("version", "migration_name").
		Order(goqu.C("version").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	rows, err := cur.FetchAll(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("load applied migrations on %s: %w", s, err)
	}

	applied := make([]session.AppliedMigration, 0, len(rows))
	version := session.NoSchemaVersion
	for _, row := range rows {
		if len(row) != 2 {
			return fmt.Errorf("load applied migrations on %s: unexpected row %v", s, row)
		}
		if version, err = toInt64(row[0]); err != nil {
			return fmt.Errorf("load applied migrations on %s: %w", s, err)
		}
		applied = append(applied, session.AppliedMigration{Version: version, Name: fmt.Sprint(row[1])})
	}
	s.Applied = applied
	s.SchemaVersion = version
	return nil
}

// RecordApplied writes the applied migration row.
func RecordApplied(ctx context.Context, cur *dbconn.Cursor, s *session.Session, version int64, name string) error {
	query, args, err := Builder(s).
		Insert(Table(s, Migrations)).
		Rows(goqu.Record{"version": version, "migration_name": name}).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err = cur.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("record migration %s on %s: %w", name, s, err)
	}
	return nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil //nolint:gosec // versions are small
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse version %q: %w", n, err)
		}
		return i, nil
	}
	return 0, fmt.Errorf("unexpected version type %T", v)
}
