/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package sdbmigrate

import (
	"errors"
	"fmt"
)

// Configuration and drift errors. Both kinds are fatal for the current run.
var (
	ErrInvalidConfig         = errors.New("invalid sdbmigrate config")
	ErrInvalidShardingConfig = fmt.Errorf("%w: sharding", ErrInvalidConfig)
	ErrInvalidEnv            = fmt.Errorf("%w: env", ErrInvalidConfig)
	ErrUnsupportedDialect    = fmt.Errorf("%w: unsupported dialect", ErrInvalidConfig)
)

// ErrInvalidMigrationName is returned when a migration file name doesn't match the expected pattern.
var ErrInvalidMigrationName = errors.New("invalid migration name")

// ExecutionError is returned when a migration body fails on a database.
// The whole run is aborted, partially applied migrations require operator intervention.
type ExecutionError struct {
	Migration string
	Database  string
	Err       error
}

// Error implements error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("apply migration %s on %s: %v", e.Migration, e.Database, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}
