/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package distrlock

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-sdbmigrate"
)

const testToken = "3f2b2a56-8d1e-4d3b-9a7a-1e2f3c4d5e6f"

func TestNewDBManager(t *testing.T) {
	m, err := NewDBManager(sdbmigrate.DialectPostgres, WithSchema("migrations"))
	require.NoError(t, err)
	require.Equal(t,
		`CREATE TABLE IF NOT EXISTS "migrations"."_sdbmigrate_lock" (lock_key varchar(40) PRIMARY KEY, token uuid, expire_at timestamp);`,
		m.CreateTableSQL())

	m, err = NewDBManager(sdbmigrate.DialectMySQL, WithSchema("sdb"), WithTableName("locks"))
	require.NoError(t, err)
	require.Equal(t, "DROP TABLE IF EXISTS `sdb`.`locks`;", m.DropTableSQL())

	_, err = NewDBManager(sdbmigrate.Dialect("mssql"))
	require.ErrorIs(t, err, sdbmigrate.ErrUnsupportedDialect)
}

func TestDBManager_NewLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() // nolint: errcheck

	m, err := NewDBManager(sdbmigrate.DialectMySQL, WithSchema("sdb"))
	require.NoError(t, err)

	_, err = m.NewLock(context.Background(), db, "")
	require.Error(t, err)
	_, err = m.NewLock(context.Background(), db, "0123456789012345678901234567890123456789x")
	require.Error(t, err)

	mock.ExpectExec(regexp.QuoteMeta(m.queries.initLock)).WithArgs("sdbmigrate").
		WillReturnResult(sqlmock.NewResult(0, 1))
	lock, err := m.NewLock(context.Background(), db, "sdbmigrate")
	require.NoError(t, err)
	require.Equal(t, "sdbmigrate", lock.Key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLock_DoExclusively(t *testing.T) {
	m, err := NewDBManager(sdbmigrate.DialectPostgres, WithSchema("public"))
	require.NoError(t, err)
	ttl := time.Minute

	t.Run("acquired and released", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close() // nolint: errcheck

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(m.queries.acquireLock)).
			WithArgs("60000000 microseconds", testToken, "sdbmigrate", testToken).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(m.queries.releaseLock)).WithArgs("sdbmigrate", testToken).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		lock := DBLock{Key: "sdbmigrate", manager: m}
		var called bool
		err = lock.DoExclusively(context.Background(), db, func(ctx context.Context) error {
			called = true
			return nil
		}, WithLockTTL(ttl), WithToken(testToken))
		require.NoError(t, err)
		require.True(t, called)
		require.Equal(t, testToken, lock.Token())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("held by another run", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close() // nolint: errcheck

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(m.queries.acquireLock)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		lock := DBLock{Key: "sdbmigrate", manager: m}
		err = lock.DoExclusively(context.Background(), db, func(ctx context.Context) error {
			t.Fatal("must not be called")
			return nil
		}, WithLockTTL(ttl))
		require.ErrorIs(t, err, ErrLockAlreadyAcquired)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDBLock_AcquireWithToken_InvalidToken(t *testing.T) {
	m, err := NewDBManager(sdbmigrate.DialectPostgres)
	require.NoError(t, err)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() // nolint: errcheck

	lock := DBLock{Key: "sdbmigrate", manager: m}
	require.Error(t, lock.AcquireWithToken(context.Background(), db, "not-a-uuid", time.Minute))
	require.Empty(t, lock.Token())
	require.NoError(t, mock.ExpectationsWereMet())
}
