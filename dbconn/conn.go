/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package dbconn provides a single capability surface over a database handle working either
// in transactional or in autocommit mode: scoped blocks that yield a logging cursor.
package dbconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/acronis/go-appkit/log"

	"github.com/acronis/go-sdbmigrate"
)

// Mode defines how statements executed via the connection take effect.
type Mode int

// Connection modes.
const (
	ModeTransactional Mode = iota
	ModeAutocommit
)

func (m Mode) String() string {
	if m == ModeAutocommit {
		return "autocommit"
	}
	return "transactional"
}

// Errors returned by Conn and Cursor.
var (
	ErrRollbackNotSupported = errors.New("rollback is not supported in autocommit mode")
	ErrNestedScope          = errors.New("nested connection scope is not allowed")
	ErrWrongMode            = errors.New("scope is not supported by connection mode")
	ErrScopeRolledBack      = errors.New("scope is already rolled back")
)

// Conn wraps a database handle that keeps exactly one live connection.
type Conn struct {
	db      *sql.DB
	mode    Mode
	name    string
	logger  log.FieldLogger
	inScope bool
}

// New creates a new Conn. The name is used in logs to identify the connection.
func New(db *sql.DB, mode Mode, name string, logger log.FieldLogger) *Conn {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	return &Conn{db: db, mode: mode, name: name, logger: logger}
}

// Open opens a connection to the database in the given mode.
func Open(cfg *sdbmigrate.DatabaseConfig, mode Mode, logger log.FieldLogger, opts ...sdbmigrate.OpenOption) (*Conn, error) {
	db, err := sdbmigrate.Open(cfg, mode == ModeAutocommit, true, opts...)
	if err != nil {
		return nil, err
	}
	return New(db, mode, fmt.Sprintf("%s/%s", cfg, mode), logger), nil
}

// DB returns the underlying database handle.
func (c *Conn) DB() *sql.DB {
	return c.db
}

// Mode returns the connection mode.
func (c *Conn) Mode() Mode {
	return c.mode
}

// Name returns the connection name used in logs.
func (c *Conn) Name() string {
	return c.name
}

// Close closes the underlying database handle.
func (c *Conn) Close() error {
	return c.db.Close()
}

// WithTransaction runs fn inside a transaction.
// Exactly one begin and one commit or rollback are issued per call.
// The transaction is committed when fn returns nil and the cursor was not rolled back explicitly,
// otherwise it's rolled back. Panics roll the transaction back and are re-raised.
func (c *Conn) WithTransaction(ctx context.Context, fn func(cur *Cursor) error) error {
	if c.mode != ModeTransactional {
		return fmt.Errorf("%w: transaction on %s connection", ErrWrongMode, c.mode)
	}
	if err := c.enterScope(); err != nil {
		return err
	}
	defer c.leaveScope()

	err := sdbmigrate.DoInTx(ctx, c.db, func(tx *sql.Tx) error {
		cur := &Cursor{q: tx, conn: c}
		if fnErr := fn(cur); fnErr != nil {
			return fnErr
		}
		if cur.rolledBack {
			return errExplicitRollback
		}
		return nil
	})
	if errors.Is(err, errExplicitRollback) {
		c.logger.Debug("transaction is rolled back on request", log.String("conn", c.name))
		return nil
	}
	return err
}

// WithAutocommit runs fn with a cursor whose statements take effect immediately.
func (c *Conn) WithAutocommit(ctx context.Context, fn func(cur *Cursor) error) error {
	if c.mode != ModeAutocommit {
		return fmt.Errorf("%w: autocommit on %s connection", ErrWrongMode, c.mode)
	}
	if err := c.enterScope(); err != nil {
		return err
	}
	defer c.leaveScope()

	return fn(&Cursor{q: c.db, conn: c, autocommit: true})
}

var errExplicitRollback = errors.New("explicit rollback")

func (c *Conn) enterScope() error {
	if c.inScope {
		return fmt.Errorf("%w: %s", ErrNestedScope, c.name)
	}
	c.inScope = true
	return nil
}

func (c *Conn) leaveScope() {
	c.inScope = false
}
