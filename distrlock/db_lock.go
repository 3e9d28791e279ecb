/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package distrlock provides a lock stored in a table of the target database.
// sdbmigrate takes it on every database of a run so that two runs never interleave.
package distrlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/google/uuid"

	"github.com/acronis/go-sdbmigrate"
)

// DefaultTableName is a default name for the table that stores locks.
const DefaultTableName = "_sdbmigrate_lock"

// MaxKeyLength is the maximum length of a lock key.
const MaxKeyLength = 40

// Lock errors.
var (
	ErrLockAlreadyAcquired = errors.New("lock is already acquired")
	ErrLockAlreadyReleased = errors.New("lock is already released")
)

// DBManager creates locks stored in the SQL database.
type DBManager struct {
	queries dbQueries
}

// DBManagerOption is an option for NewDBManager.
type DBManagerOption func(*dbManagerOptions)

type dbManagerOptions struct {
	schema    string
	tableName string
}

// WithTableName sets a custom table name for the table that stores locks.
func WithTableName(tableName string) DBManagerOption {
	return func(o *dbManagerOptions) {
		o.tableName = tableName
	}
}

// WithSchema places the lock table into the schema (database for MySQL).
func WithSchema(schema string) DBManagerOption {
	return func(o *dbManagerOptions) {
		o.schema = schema
	}
}

// NewDBManager creates a new lock manager that uses SQL database as a backend.
func NewDBManager(dialect sdbmigrate.Dialect, options ...DBManagerOption) (*DBManager, error) {
	var opts dbManagerOptions
	for _, opt := range options {
		opt(&opts)
	}
	if opts.tableName == "" {
		opts.tableName = DefaultTableName
	}
	table := dialect.QuoteIdent(opts.tableName)
	if opts.schema != "" {
		table = dialect.QuoteIdent(opts.schema) + "." + table
	}
	q, err := newDBQueries(dialect, table)
	if err != nil {
		return nil, err
	}
	return &DBManager{q}, nil
}

// CreateTableSQL returns SQL query for creating a table that stores locks.
func (m *DBManager) CreateTableSQL() string {
	return m.queries.createTable
}

// DropTableSQL returns SQL query for dropping a table that stores locks.
func (m *DBManager) DropTableSQL() string {
	return m.queries.dropTable
}

// NewLock creates new initialized (but not acquired) lock.
func (m *DBManager) NewLock(ctx context.Context, executor SQLExecutor, key string) (DBLock, error) {
	if key == "" {
		return DBLock{}, fmt.Errorf("lock key cannot be empty")
	}
	if len(key) > MaxKeyLength {
		return DBLock{}, fmt.Errorf("lock key cannot be longer than %d symbols", MaxKeyLength)
	}
	if _, err := executor.ExecContext(ctx, m.queries.initLock, key); err != nil {
		return DBLock{}, fmt.Errorf("init lock with key %s: %w", key, err)
	}
	return DBLock{Key: key, manager: m}, nil
}

// DBLock represents a lock object in the database.
type DBLock struct {
	Key     string
	TTL     time.Duration
	token   string
	manager *DBManager
}

// Acquire acquires lock for the key in the database with a new random token.
func (l *DBLock) Acquire(ctx context.Context, executor SQLExecutor, lockTTL time.Duration) error {
	return l.AcquireWithToken(ctx, executor, uuid.NewString(), lockTTL)
}

// AcquireWithToken acquires lock for the key in the database with the given token.
// The lock held with the same token may be re-acquired, e.g. by a run that uses its run id as the token.
func (l *DBLock) AcquireWithToken(ctx context.Context, executor SQLExecutor, token string, lockTTL time.Duration) error {
	if _, err := uuid.Parse(token); err != nil {
		return fmt.Errorf("lock token must be uuid: %w", err)
	}
	interval := l.manager.queries.intervalMaker(lockTTL)
	err := execQueryAndCheckAffectedRow(ctx, executor, l.manager.queries.acquireLock,
		[]interface{}{interval, token, l.Key, token}, ErrLockAlreadyAcquired)
	if err != nil {
		return err
	}
	l.TTL = lockTTL
	l.token = token
	return nil
}

// Release releases lock for the key in the database.
func (l *DBLock) Release(ctx context.Context, executor SQLExecutor) error {
	return execQueryAndCheckAffectedRow(ctx, executor,
		l.manager.queries.releaseLock, []interface{}{l.Key, l.token}, ErrLockAlreadyReleased)
}

// Extend resets expiration timeout for already acquired lock.
// ErrLockAlreadyReleased is returned if lock is already released, in this case lock should be acquired again.
func (l *DBLock) Extend(ctx context.Context, executor SQLExecutor) error {
	interval := l.manager.queries.intervalMaker(l.TTL)
	return execQueryAndCheckAffectedRow(ctx, executor,
		l.manager.queries.extendLock, []interface{}{interval, l.Key, l.token}, ErrLockAlreadyReleased)
}

// Token returns token of the last acquired lock.
func (l *DBLock) Token() string {
	return l.token
}

type doOptions struct {
	lockTTL                time.Duration
	periodicExtendInterval time.Duration
	releaseTimeout         time.Duration
	token                  string
	logger                 log.FieldLogger
}

// DoOption is an option for DoExclusively method.
type DoOption func(*doOptions)

// WithLockTTL sets TTL for the lock acquired by DoExclusively.
func WithLockTTL(ttl time.Duration) DoOption {
	return func(o *doOptions) {
		o.lockTTL = ttl
	}
}

// WithPeriodicExtendInterval sets interval for periodic lock extension.
func WithPeriodicExtendInterval(interval time.Duration) DoOption {
	return func(o *doOptions) {
		o.periodicExtendInterval = interval
	}
}

// WithReleaseTimeout sets timeout for lock release.
func WithReleaseTimeout(timeout time.Duration) DoOption {
	return func(o *doOptions) {
		o.releaseTimeout = timeout
	}
}

// WithToken makes DoExclusively acquire the lock with the given uuid token instead of a random one.
func WithToken(token string) DoOption {
	return func(o *doOptions) {
		o.token = token
	}
}

// WithLogger sets logger for DoExclusively.
func WithLogger(logger log.FieldLogger) DoOption {
	return func(o *doOptions) {
		o.logger = logger
	}
}

// DoExclusively acquires the lock, calls passed function and releases the lock when the function is finished.
// Lock is acquired with a default TTL of 1 minute. TTL can be configured with WithLockTTL option.
// The lock is extended periodically within a separate goroutine, by default every half of the TTL.
// If the extension finds the lock released, the context passed to fn is canceled.
func (l *DBLock) DoExclusively(
	ctx context.Context,
	dbConn *sql.DB,
	fn func(ctx context.Context) error,
	options ...DoOption,
) error {
	var opts doOptions
	for _, opt := range options {
		opt(&opts)
	}
	if opts.lockTTL == 0 {
		opts.lockTTL = 1 * time.Minute
	}
	if opts.periodicExtendInterval == 0 {
		opts.periodicExtendInterval = opts.lockTTL / 2
	}
	if opts.releaseTimeout == 0 {
		opts.releaseTimeout = 5 * time.Second
	}
	if opts.token == "" {
		opts.token = uuid.NewString()
	}
	if opts.logger == nil {
		opts.logger = log.NewDisabledLogger()
	}
	logger := opts.logger.With(log.String("lock_key", l.Key), log.String("lock_token", opts.token))

	if acquireLockErr := sdbmigrate.DoInTx(ctx, dbConn, func(tx *sql.Tx) error {
		return l.AcquireWithToken(ctx, tx, opts.token, opts.lockTTL)
	}); acquireLockErr != nil {
		return acquireLockErr
	}
	logger.Debug("lock is acquired")

	//nolint:contextcheck // context.Background() is used to release the lock even if ctx is already canceled
	defer func() {
		releaseCtx, releaseCtxCancel := context.WithTimeout(context.Background(), opts.releaseTimeout)
		defer releaseCtxCancel()
		if releaseLockErr := sdbmigrate.DoInTx(releaseCtx, dbConn, func(tx *sql.Tx) error {
			return l.Release(releaseCtx, tx)
		}); releaseLockErr != nil {
			logger.Error("failed to release lock", log.Error(releaseLockErr))
			return
		}
		logger.Debug("lock is released")
	}()

	childCtx, childCtxCancel := context.WithCancel(ctx)
	defer childCtxCancel()

	periodicalExtensionExit := make(chan struct{})
	periodicalExtensionDone := make(chan struct{})
	defer func() {
		close(periodicalExtensionDone)
		<-periodicalExtensionExit
	}()

	go func() {
		defer close(periodicalExtensionExit)
		ticker := time.NewTicker(opts.periodicExtendInterval)
		defer ticker.Stop()
		for {
			select {
			case <-periodicalExtensionDone:
				return
			case <-ticker.C:
				if extendErr := sdbmigrate.DoInTx(ctx, dbConn, func(tx *sql.Tx) error {
					return l.Extend(ctx, tx)
				}); extendErr != nil {
					logger.Error("failed to extend lock", log.Error(extendErr))
					if errors.Is(extendErr, ErrLockAlreadyReleased) {
						childCtxCancel()
						return
					}
				}
			}
		}
	}()

	return fn(childCtx)
}

func execQueryAndCheckAffectedRow(
	ctx context.Context, executor SQLExecutor, query string, args []interface{}, errOnNoAffectedRows error,
) error {
	result, err := executor.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	// lib/pq may swallow the cancellation error when the same ctx is used for BeginTx and ExecContext
	// (https://github.com/lib/pq/issues/874).
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var affected int64
	if affected, err = result.RowsAffected(); err != nil {
		return err
	} else if affected == 0 {
		return errOnNoAffectedRows
	}
	return nil
}

type dbQueries struct {
	createTable   string
	dropTable     string
	initLock      string
	acquireLock   string
	releaseLock   string
	extendLock    string
	intervalMaker func(interval time.Duration) string
}

func newDBQueries(dialect sdbmigrate.Dialect, table string) (dbQueries, error) {
	switch dialect {
	case sdbmigrate.DialectPostgres:
		return dbQueries{
			createTable:   fmt.Sprintf(postgresCreateTableQuery, table),
			dropTable:     fmt.Sprintf(postgresDropTableQuery, table),
			initLock:      fmt.Sprintf(postgresInitLockQuery, table),
			acquireLock:   fmt.Sprintf(postgresAcquireLockQuery, table),
			releaseLock:   fmt.Sprintf(postgresReleaseLockQuery, table),
			extendLock:    fmt.Sprintf(postgresExtendLockQuery, table),
			intervalMaker: postgresMakeInterval,
		}, nil
	case sdbmigrate.DialectMySQL:
		return dbQueries{
			createTable:   fmt.Sprintf(mySQLCreateTableQuery, table),
			dropTable:     fmt.Sprintf(mySQLDropTableQuery, table),
			initLock:      fmt.Sprintf(mySQLInitLockQuery, table),
			acquireLock:   fmt.Sprintf(mySQLAcquireLockQuery, table),
			releaseLock:   fmt.Sprintf(mySQLReleaseLockQuery, table),
			extendLock:    fmt.Sprintf(mySQLExtendLockQuery, table),
			intervalMaker: mySQLMakeInterval,
		}, nil
	default:
		return dbQueries{}, fmt.Errorf("%w: %q", sdbmigrate.ErrUnsupportedDialect, dialect)
	}
}

// SQLExecutor is implemented by *sql.DB and *sql.Tx.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

//nolint:lll
const (
	postgresCreateTableQuery = `CREATE TABLE IF NOT EXISTS %s (lock_key varchar(40) PRIMARY KEY, token uuid, expire_at timestamp);`
	postgresDropTableQuery   = `DROP TABLE IF EXISTS %s;`
	postgresInitLockQuery    = `INSERT INTO %s (lock_key) VALUES ($1) ON CONFLICT (lock_key) DO NOTHING;`
	postgresAcquireLockQuery = `UPDATE %s SET expire_at = NOW() + $1::interval, token = $2 WHERE lock_key = $3 AND ((expire_at IS NULL OR expire_at < NOW()) OR token = $4);`
	postgresReleaseLockQuery = `UPDATE %s SET expire_at = NULL WHERE lock_key = $1 AND token = $2 AND expire_at >= NOW();`
	postgresExtendLockQuery  = `UPDATE %s SET expire_at = NOW() + $1::interval WHERE lock_key = $2 AND token = $3 AND expire_at >= NOW();`
)

func postgresMakeInterval(interval time.Duration) string {
	return strconv.FormatInt(interval.Microseconds(), 10) + " microseconds"
}

//nolint:lll
const (
	mySQLCreateTableQuery = "CREATE TABLE IF NOT EXISTS %s (lock_key VARCHAR(40) PRIMARY KEY, token VARCHAR(36), expire_at BIGINT);"
	mySQLDropTableQuery   = "DROP TABLE IF EXISTS %s;"
	mySQLInitLockQuery    = "INSERT IGNORE %s (lock_key) VALUES (?);"
	mySQLAcquireLockQuery = "UPDATE %s SET expire_at = UNIX_TIMESTAMP(DATE_ADD(CURTIME(4), INTERVAL ? MICROSECOND))*10000, token = ? WHERE lock_key = ? AND ((expire_at IS NULL OR expire_at < UNIX_TIMESTAMP(CURTIME(4))*10000) OR token = ?);"
	mySQLReleaseLockQuery = "UPDATE %s SET expire_at = NULL WHERE lock_key = ? AND token = ? AND expire_at >= UNIX_TIMESTAMP(CURTIME(4))*10000;"
	mySQLExtendLockQuery  = "UPDATE %s SET expire_at = UNIX_TIMESTAMP(DATE_ADD(CURTIME(4), INTERVAL ? MICROSECOND))*10000 WHERE lock_key = ? AND token = ? AND expire_at >= UNIX_TIMESTAMP(CURTIME(4))*10000;"
)

func mySQLMakeInterval(interval time.Duration) string {
	return strconv.FormatInt(interval.Microseconds(), 10)
}
