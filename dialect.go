/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package sdbmigrate

import "fmt"

// Dialect defines the possible types for SQL dialects.
type Dialect string

// Supported SQL dialects.
const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// Supported driver names.
const (
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// PostgresDefaultSchema is a schema where state tables live in PostgreSQL databases
// when no custom schema is configured.
const PostgresDefaultSchema = "public"

// SupportedDialects returns the list of supported dialects.
func SupportedDialects() []Dialect {
	return []Dialect{DialectPostgres, DialectMySQL}
}

// IsSupported reports whether the dialect is one of the supported ones.
func (d Dialect) IsSupported() bool {
	for _, supported := range SupportedDialects() {
		if d == supported {
			return true
		}
	}
	return false
}

// DefaultDriver returns the database/sql driver name used for the dialect by default.
func (d Dialect) DefaultDriver() string {
	switch d {
	case DialectPostgres:
		return DriverPgx
	case DialectMySQL:
		return DriverMySQL
	}
	return ""
}

// SupportedDrivers returns driver names that may be used for the dialect.
func (d Dialect) SupportedDrivers() []string {
	switch d {
	case DialectPostgres:
		return []string{DriverPgx, DriverPostgres}
	case DialectMySQL:
		return []string{DriverMySQL}
	}
	return nil
}

// QuoteIdent quotes an identifier (schema or table name) according to the dialect.
func (d Dialect) QuoteIdent(name string) string {
	if d == DialectMySQL {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}

func checkDialect(d Dialect) error {
	if !d.IsSupported() {
		return fmt.Errorf("%w: %q, should be one of %v", ErrUnsupportedDialect, d, SupportedDialects())
	}
	return nil
}
