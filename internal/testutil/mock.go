/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package testutil contains helpers shared by tests of sdbmigrate packages.
package testutil

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/acronis/go-appkit/log"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-sdbmigrate"
	"github.com/acronis/go-sdbmigrate/dbconn"
	"github.com/acronis/go-sdbmigrate/session"
)

// MockSession is a session whose connections are backed by sqlmock.
type MockSession struct {
	*session.Session
	TrxMock   sqlmock.Sqlmock
	NoTrxMock sqlmock.Sqlmock
	LockMock  sqlmock.Sqlmock
}

// ExpectationsWereMet checks expectations of all mocks.
func (m *MockSession) ExpectationsWereMet(t *testing.T) {
	t.Helper()
	require.NoError(t, m.TrxMock.ExpectationsWereMet())
	require.NoError(t, m.NoTrxMock.ExpectationsWereMet())
	require.NoError(t, m.LockMock.ExpectationsWereMet())
}

// NewMockSession creates a session over sqlmock connections.
// Each connection is limited to one open connection like the ones opened by session.Open.
func NewMockSession(t *testing.T, cfg sdbmigrate.DatabaseConfig, index int, schema string) *MockSession {
	t.Helper()
	trxDB, trxMock, err := sqlmock.New()
	require.NoError(t, err)
	noTrxDB, noTrxMock, err := sqlmock.New()
	require.NoError(t, err)
	lockDB, lockMock, err := sqlmock.New()
	require.NoError(t, err)
	for _, db := range []*sql.DB{trxDB, noTrxDB, lockDB} {
		db.SetMaxOpenConns(1)
	}

	logger := log.NewDisabledLogger()
	s, err := session.New(cfg, index, schema,
		dbconn.New(trxDB, dbconn.ModeTransactional, cfg.String()+"/trx", logger),
		dbconn.New(noTrxDB, dbconn.ModeAutocommit, cfg.String()+"/notrx", logger))
	require.NoError(t, err)
	s.Lock = dbconn.New(lockDB, dbconn.ModeAutocommit, cfg.String()+"/lock", logger)
	t.Cleanup(func() { _ = s.Close() })
	return &MockSession{Session: s, TrxMock: trxMock, NoTrxMock: noTrxMock, LockMock: lockMock}
}

// PostgresDB returns a PostgreSQL database config used in tests.
func PostgresDB(name string) sdbmigrate.DatabaseConfig {
	return sdbmigrate.DatabaseConfig{Type: sdbmigrate.DialectPostgres, Host: "pg-host", Port: 5432, Name: name}
}

// MySQLDB returns a MySQL database config used in tests.
func MySQLDB(name string) sdbmigrate.DatabaseConfig {
	return sdbmigrate.DatabaseConfig{Type: sdbmigrate.DialectMySQL, Host: "mysql-host", Port: 3306, Name: name}
}
