/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dbconn

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/acronis/go-appkit/log"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Cursor executes statements within a connection scope. Every statement is logged at debug level.
type Cursor struct {
	q          querier
	conn       *Conn
	autocommit bool
	rolledBack bool
}

// Exec executes a statement that doesn't return rows.
func (c *Cursor) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := c.check(query, args); err != nil {
		return nil, err
	}
	return c.q.ExecContext(ctx, query, args...)
}

// QueryRow executes a query that is expected to return at most one row.
func (c *Cursor) QueryRow(ctx context.Context, query string, args ...interface{}) (*sql.Row, error) {
	if err := c.check(query, args); err != nil {
		return nil, err
	}
	return c.q.QueryRowContext(ctx, query, args...), nil
}

// FetchOne executes a query and returns the first row. Nil is returned when there are no rows.
func (c *Cursor) FetchOne(ctx context.Context, query string, args ...interface{}) ([]interface{}, error) {
	rows, err := c.fetch(ctx, query, args, 1)
	if err != nil {
		return nil, err
	}
	c.conn.logger.Debug("fetchone", log.String("result", fmt.Sprint(rows)))
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// FetchAll executes a query and returns all rows.
func (c *Cursor) FetchAll(ctx context.Context, query string, args ...interface{}) ([][]interface{}, error) {
	rows, err := c.fetch(ctx, query, args, 0)
	if err != nil {
		return nil, err
	}
	c.conn.logger.Debug("fetchall", log.Int("rows", len(rows)), log.String("result", fmt.Sprint(rows)))
	return rows, nil
}

// Rollback requests the rollback of the enclosing transaction.
// The transaction is rolled back when the scope exits, statements executed after the request fail.
func (c *Cursor) Rollback() error {
	if c.autocommit {
		return ErrRollbackNotSupported
	}
	c.rolledBack = true
	return nil
}

func (c *Cursor) check(query string, args []interface{}) error {
	if c.rolledBack {
		return ErrScopeRolledBack
	}
	c.conn.logger.Debug("execute SQL",
		log.String("query", query), log.String("args", fmt.Sprint(args)), log.String("conn", c.conn.name))
	return nil
}

// fetch reads up to limit rows (all rows when limit is 0).
// []byte values are converted to strings since drivers return text columns this way.
func (c *Cursor) fetch(ctx context.Context, query string, args []interface{}, limit int) (result [][]interface{}, err error) {
	if err = c.check(query, args); err != nil {
		return nil, err
	}
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err = rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result = append(result, values)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, rows.Err()
}
