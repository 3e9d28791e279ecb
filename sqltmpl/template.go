/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package sqltmpl resolves logical SQL statements into executable ones for a concrete database:
// it picks the dialect variant and substitutes <name> placeholders.
package sqltmpl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/acronis/go-sdbmigrate"
)

// Reserved placeholder names.
const (
	VarDBSchema = "db_schema"
	VarShardID  = "shard_id"
)

// Template is a logical SQL statement expressed once, with optional per-dialect overrides.
type Template struct {
	Default  string
	Postgres string
	MySQL    string
}

// New returns a template with the same text for all dialects.
func New(sql string) Template {
	return Template{Default: sql}
}

// Variant returns the statement text for the dialect.
// The dialect-specific variant wins, otherwise the default one is used.
// In strict mode the fallback to the default variant is disabled.
func (t Template) Variant(dialect sdbmigrate.Dialect, strict bool) (string, error) {
	var specific string
	switch dialect {
	case sdbmigrate.DialectPostgres:
		specific = t.Postgres
	case sdbmigrate.DialectMySQL:
		specific = t.MySQL
	default:
		return "", fmt.Errorf("%w: %q", sdbmigrate.ErrUnsupportedDialect, dialect)
	}
	if specific != "" {
		return specific, nil
	}
	if t.Default != "" && !strict {
		return t.Default, nil
	}
	return "", fmt.Errorf("%w: no SQL variant for %s", sdbmigrate.ErrUnsupportedDialect, dialect)
}

// Resolve picks the dialect variant and substitutes the known placeholders.
func (t Template) Resolve(dialect sdbmigrate.Dialect, vars map[string]string) (string, error) {
	sql, err := t.Variant(dialect, false)
	if err != nil {
		return "", err
	}
	return Resolve(sql, vars), nil
}

// Resolve substitutes every <name> placeholder whose name is present in vars.
// A name is any text up to the next '>' that contains no '<'.
// Unknown placeholders (e.g. <shard_id>) are left untouched for a later pass.
func Resolve(sql string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(sql, "<") {
		return sql
	}
	var b strings.Builder
	b.Grow(len(sql))
	for {
		start := strings.IndexByte(sql, '<')
		if start < 0 {
			b.WriteString(sql)
			return b.String()
		}
		end := strings.IndexByte(sql[start+1:], '>')
		if end < 0 {
			b.WriteString(sql)
			return b.String()
		}
		end += start + 1
		name := sql[start+1 : end]
		if val, ok := vars[name]; ok {
			b.WriteString(sql[:start])
			b.WriteString(val)
			sql = sql[end+1:]
			continue
		}
		// Not a known placeholder, keep '<' and go on right after it: "a < b AND c <x>" must still resolve <x>.
		b.WriteString(sql[:start+1])
		sql = sql[start+1:]
	}
}

// ResolveShard substitutes the <shard_id> placeholder.
func ResolveShard(sql string, shardID int) string {
	return strings.ReplaceAll(sql, "<"+VarShardID+">", strconv.Itoa(shardID))
}
