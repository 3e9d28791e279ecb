/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package sdbmigrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Ping retry defaults used by Open.
const (
	DefaultPingRetryInterval = 500 * time.Millisecond
	DefaultPingMaxRetries    = 5
)

// OpenOption is a functional option for Open.
type OpenOption func(*openOptions)

type openOptions struct {
	pingRetryInterval time.Duration
	pingMaxRetries    uint64
}

// WithPingRetry configures how many times and how often Open retries the initial ping.
func WithPingRetry(interval time.Duration, maxRetries uint64) OpenOption {
	return func(o *openOptions) {
		o.pingRetryInterval = interval
		o.pingMaxRetries = maxRetries
	}
}

// Open opens a database handle that holds exactly one live connection for the process lifetime.
// The autocommit flag selects the session mode for dialects where it's a connection property (MySQL).
func Open(cfg *DatabaseConfig, autocommit bool, ping bool, options ...OpenOption) (*sql.DB, error) {
	opts := openOptions{pingRetryInterval: DefaultPingRetryInterval, pingMaxRetries: DefaultPingMaxRetries}
	for _, opt := range options {
		opt(&opts)
	}

	if err := checkDialect(cfg.Type); err != nil {
		return nil, err
	}
	driverName, dsn := cfg.DriverNameAndDSN(autocommit)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if ping {
		b := backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.pingRetryInterval), opts.pingMaxRetries)
		if err = backoff.Retry(db.Ping, b); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping %s: %w", cfg, err)
		}
	}
	return db, nil
}

// DoInTx begins a new transaction, calls passed function and do commit or rollback
// depending on whether the function returns an error or not.
// If the function panics, the transaction is rolled back and the panic is re-raised.
func DoInTx(ctx context.Context, dbConn *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := dbConn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if err = tx.Commit(); err != nil {
			err = fmt.Errorf("commit tx: %w", err)
		}
	}()
	return fn(tx)
}
