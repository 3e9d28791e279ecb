/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package envstate

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/acronis/go-appkit/log"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-sdbmigrate"
	"github.com/acronis/go-sdbmigrate/dbconn"
	"github.com/acronis/go-sdbmigrate/internal/testutil"
)

const (
	pgCountEnv  = `SELECT COUNT\(\*\) FROM "public"."_sdbmigrate_env"`
	pgUpsertEnv = `INSERT INTO "public"."_sdbmigrate_env" .+ ON CONFLICT`
	pgSelectEnv = `SELECT "key", "value", "type" FROM "public"."_sdbmigrate_env"`
)

func TestManager_Initialize(t *testing.T) {
	env := sdbmigrate.Env{"region_id": {Value: 1, Type: sdbmigrate.EnvTypeInt}}

	tests := []struct {
		name        string
		force       bool
		initMock    func(m sqlmock.Sqlmock)
		wantWritten bool
	}{
		{
			name: "first initialization",
			initMock: func(m sqlmock.Sqlmock) {
				m.ExpectBegin()
				m.ExpectQuery(pgCountEnv).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
				m.ExpectExec(pgUpsertEnv).WithArgs("region_id", "int", "1", "int", "1").
					WillReturnResult(sqlmock.NewResult(0, 1))
				m.ExpectCommit()
			},
			wantWritten: true,
		},
		{
			name: "frozen",
			initMock: func(m sqlmock.Sqlmock) {
				m.ExpectBegin()
				m.ExpectQuery(pgCountEnv).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
				m.ExpectCommit()
			},
		},
		{
			name:  "forced update",
			force: true,
			initMock: func(m sqlmock.Sqlmock) {
				m.ExpectBegin()
				m.ExpectQuery(pgCountEnv).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
				m.ExpectExec(`DELETE FROM "public"."_sdbmigrate_env" WHERE .+NOT IN`).WithArgs("region_id").
					WillReturnResult(sqlmock.NewResult(0, 1))
				m.ExpectExec(pgUpsertEnv).WithArgs("region_id", "int", "1", "int", "1").
					WillReturnResult(sqlmock.NewResult(0, 2))
				m.ExpectCommit()
			},
			wantWritten: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := testutil.NewMockSession(t, testutil.PostgresDB("sdb"), 0, "")
			tt.initMock(ms.TrxMock)

			var written bool
			err := ms.Trx.WithTransaction(context.Background(), func(cur *dbconn.Cursor) error {
				var initErr error
				written, initErr = NewManager(env, log.NewDisabledLogger()).Initialize(context.Background(), cur, ms.Session, tt.force)
				return initErr
			})
			require.NoError(t, err)
			require.Equal(t, tt.wantWritten, written)
			ms.ExpectationsWereMet(t)
		})
	}
}

func TestManager_Initialize_MySQLUpsert(t *testing.T) {
	ms := testutil.NewMockSession(t, testutil.MySQLDB("sdb"), 0, "")
	ms.TrxMock.ExpectBegin()
	ms.TrxMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `sdb`.`_sdbmigrate_env`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	// Keys are written in sorted order.
	ms.TrxMock.ExpectExec("INSERT INTO `sdb`.`_sdbmigrate_env` .+ ON DUPLICATE KEY UPDATE").
		WithArgs("ratio", "float", "0.5", "float", "0.5").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ms.TrxMock.ExpectExec("INSERT INTO `sdb`.`_sdbmigrate_env` .+ ON DUPLICATE KEY UPDATE").
		WithArgs("region", "str", "eu", "str", "eu").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ms.TrxMock.ExpectCommit()

	env := sdbmigrate.Env{
		"ratio":  {Value: 0.5, Type: sdbmigrate.EnvTypeFloat},
		"region": {Value: "eu"},
	}
	err := ms.Trx.WithTransaction(context.Background(), func(cur *dbconn.Cursor) error {
		_, initErr := NewManager(env, log.NewDisabledLogger()).Initialize(context.Background(), cur, ms.Session, false)
		return initErr
	})
	require.NoError(t, err)
	ms.ExpectationsWereMet(t)
}

func TestManager_VerifyAndLoad(t *testing.T) {
	envRows := func(rows ...[3]string) *sqlmock.Rows {
		r := sqlmock.NewRows([]string{"key", "value", "type"})
		for _, row := range rows {
			r.AddRow(row[0], row[1], row[2])
		}
		return r
	}

	tests := []struct {
		name    string
		env     sdbmigrate.Env
		dbRows  *sqlmock.Rows
		wantErr bool
	}{
		{
			name:   "matches",
			env:    sdbmigrate.Env{"region_id": {Value: 1, Type: sdbmigrate.EnvTypeInt}, "region": {Value: "eu"}},
			dbRows: envRows([3]string{"region", "eu", "str"}, [3]string{"region_id", "1", "int"}),
		},
		{
			name:   "float matches",
			env:    sdbmigrate.Env{"ratio": {Value: 0.25, Type: sdbmigrate.EnvTypeFloat}},
			dbRows: envRows([3]string{"ratio", "0.250", "float"}),
		},
		{
			name:    "value drift",
			env:     sdbmigrate.Env{"region_id": {Value: 2, Type: sdbmigrate.EnvTypeInt}},
			dbRows:  envRows([3]string{"region_id", "1", "int"}),
			wantErr: true,
		},
		{
			name:    "type drift",
			env:     sdbmigrate.Env{"region_id": {Value: "1"}},
			dbRows:  envRows([3]string{"region_id", "1", "int"}),
			wantErr: true,
		},
		{
			name:    "record count mismatch",
			env:     sdbmigrate.Env{"region_id": {Value: 1, Type: sdbmigrate.EnvTypeInt}, "region": {Value: "eu"}},
			dbRows:  envRows([3]string{"region_id", "1", "int"}),
			wantErr: true,
		},
		{
			name:    "key absent in config",
			env:     sdbmigrate.Env{"region": {Value: "eu"}},
			dbRows:  envRows([3]string{"zone", "eu", "str"}),
			wantErr: true,
		},
		{
			name:    "unsupported persisted type",
			env:     sdbmigrate.Env{"region": {Value: "eu"}},
			dbRows:  envRows([3]string{"region", "eu", "list"}),
			wantErr: true,
		},
		{
			name:    "persisted value is not decodable",
			env:     sdbmigrate.Env{"region_id": {Value: 1, Type: sdbmigrate.EnvTypeInt}},
			dbRows:  envRows([3]string{"region_id", "one", "int"}),
			wantErr: true,
		},
		{
			name:   "empty env",
			env:    nil,
			dbRows: envRows(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := testutil.NewMockSession(t, testutil.PostgresDB("sdb"), 0, "")
			ms.TrxMock.ExpectBegin()
			ms.TrxMock.ExpectQuery(pgSelectEnv).WillReturnRows(tt.dbRows)
			if tt.wantErr {
				ms.TrxMock.ExpectRollback()
			} else {
				ms.TrxMock.ExpectCommit()
			}

			err := ms.Trx.WithTransaction(context.Background(), func(cur *dbconn.Cursor) error {
				return NewManager(tt.env, log.NewDisabledLogger()).VerifyAndLoad(context.Background(), cur, ms.Session)
			})
			ms.ExpectationsWereMet(t)
			if tt.wantErr {
				require.ErrorIs(t, err, sdbmigrate.ErrInvalidEnv)
				require.Contains(t, err.Error(), "DB[host=pg-host, name=sdb, type=postgres]")
				require.Nil(t, ms.Env)
				return
			}
			require.NoError(t, err)
			require.Len(t, ms.Env, len(tt.env))
		})
	}
}
