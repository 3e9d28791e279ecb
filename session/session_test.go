/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-sdbmigrate"
	"github.com/acronis/go-sdbmigrate/dbconn"
	"github.com/acronis/go-sdbmigrate/sqltmpl"
)

func TestStateSchema(t *testing.T) {
	pg := &sdbmigrate.DatabaseConfig{Type: sdbmigrate.DialectPostgres, Name: "sdb"}
	my := &sdbmigrate.DatabaseConfig{Type: sdbmigrate.DialectMySQL, Name: "sdb"}

	schema, err := StateSchema(pg, "")
	require.NoError(t, err)
	require.Equal(t, "public", schema)

	schema, err = StateSchema(pg, "migrations")
	require.NoError(t, err)
	require.Equal(t, "migrations", schema)

	schema, err = StateSchema(my, "")
	require.NoError(t, err)
	require.Equal(t, "sdb", schema)

	_, err = StateSchema(my, "other")
	require.ErrorIs(t, err, sdbmigrate.ErrInvalidConfig)

	_, err = StateSchema(&sdbmigrate.DatabaseConfig{Type: "oracle"}, "")
	require.ErrorIs(t, err, sdbmigrate.ErrUnsupportedDialect)
}

func TestSession(t *testing.T) {
	cfg := sdbmigrate.DatabaseConfig{Type: sdbmigrate.DialectMySQL, Host: "mysql-host", Name: "sdb1", Password: "secret"}
	s, err := New(cfg, 1, "", nil, nil)
	require.NoError(t, err)

	require.Equal(t, NoSchemaVersion, s.SchemaVersion)
	require.Equal(t, "DB[host=mysql-host, name=sdb1, type=mysql]", s.String())
	require.NotContains(t, s.String(), "secret")

	s.Env = sdbmigrate.Env{"region_id": {Value: 1, Type: sdbmigrate.EnvTypeInt}}
	require.Equal(t, map[string]string{"region_id": "1", "db_schema": "sdb1"}, s.Vars())

	got := sqltmpl.Resolve("SELECT `key` FROM <db_schema>.t WHERE r = <region_id>", s.Vars())
	require.Equal(t, "SELECT `key` FROM sdb1.t WHERE r = 1", got)
	require.NoError(t, s.Close())
}

func TestSession_LockConn(t *testing.T) {
	cfg := sdbmigrate.DatabaseConfig{Type: sdbmigrate.DialectPostgres, Host: "pg-host", Port: 5432, Name: "sdb1"}
	s, err := New(cfg, 0, "", nil, nil)
	require.NoError(t, err)

	lock := dbconn.New(nil, dbconn.ModeAutocommit, "lock", nil)
	s.Lock = lock
	got, err := s.LockConn()
	require.NoError(t, err)
	require.Same(t, lock, got)
}
