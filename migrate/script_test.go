/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-sdbmigrate"
	"github.com/acronis/go-sdbmigrate/dbconn"
	"github.com/acronis/go-sdbmigrate/internal/testutil"
)

func TestRunScript(t *testing.T) {
	ms := testutil.NewMockSession(t, testutil.PostgresDB("a"), 0, "")
	ms.NoTrxMock.ExpectQuery(`SELECT id FROM users`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	ms.NoTrxMock.ExpectQuery(`SELECT count\(\*\) FROM users WHERE id > \$1`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	ms.NoTrxMock.ExpectExec(`INSERT INTO audit`).WithArgs("eu", 7).WillReturnResult(sqlmock.NewResult(0, 1))

	body := `
// fetch helpers return rows as lists
len(cursor.FetchAll("SELECT id FROM users"))
cursor.FetchOne("SELECT count(*) FROM users WHERE id > $1", 1)

cursor.Exec("INSERT INTO audit (region, shard) VALUES ($1, $2)", env.region.value, shard_id)
`
	shardID := 7
	err := ms.NoTrx.WithAutocommit(context.Background(), func(cur *dbconn.Cursor) error {
		return runScript(context.Background(), cur, body, sdbmigrate.Env{"region": {Value: "eu"}}, &shardID)
	})
	require.NoError(t, err)
	ms.ExpectationsWereMet(t)
}

func TestScriptCursor_Exec(t *testing.T) {
	ms := testutil.NewMockSession(t, testutil.PostgresDB("a"), 0, "")
	errNoRowsAffected := errors.New("rows affected are not reported")
	ms.NoTrxMock.ExpectExec(`UPDATE users SET name`).WillReturnResult(sqlmock.NewResult(0, 3))
	ms.NoTrxMock.ExpectExec(`UPDATE users SET name`).WillReturnResult(sqlmock.NewErrorResult(errNoRowsAffected))

	err := ms.NoTrx.WithAutocommit(context.Background(), func(cur *dbconn.Cursor) error {
		c := &ScriptCursor{ctx: context.Background(), cur: cur}
		affected, execErr := c.Exec("UPDATE users SET name = 'a'")
		require.NoError(t, execErr)
		require.Equal(t, int64(3), affected)

		_, execErr = c.Exec("UPDATE users SET name = 'b'")
		require.ErrorIs(t, execErr, errNoRowsAffected)
		return nil
	})
	require.NoError(t, err)
	ms.ExpectationsWereMet(t)

	ms.NoTrxMock.ExpectExec(`DELETE FROM users`).WillReturnResult(sqlmock.NewErrorResult(errNoRowsAffected))
	err = ms.NoTrx.WithAutocommit(context.Background(), func(cur *dbconn.Cursor) error {
		return runScript(context.Background(), cur, `cursor.Exec("DELETE FROM users")`, nil, nil)
	})
	require.ErrorIs(t, err, errNoRowsAffected)
	ms.ExpectationsWereMet(t)
}

func TestRunScript_CompileErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown name", body: `os.Exit(1)`},
		{name: "shard id in plain script", body: `cursor.Exec("SELECT $1", shard_id)`},
		{name: "syntax error", body: `cursor.Exec("SELECT 1"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := testutil.NewMockSession(t, testutil.PostgresDB("a"), 0, "")
			err := ms.NoTrx.WithAutocommit(context.Background(), func(cur *dbconn.Cursor) error {
				return runScript(context.Background(), cur, "cursor.Exec(\"SELECT 1\")\n"+tt.body, nil, nil)
			})
			require.ErrorContains(t, err, "compile script line 2")
			ms.ExpectationsWereMet(t)
		})
	}
}
