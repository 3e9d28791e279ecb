/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/acronis/go-sdbmigrate"
	"github.com/acronis/go-sdbmigrate/dbconn"
)

// Names bound in migration scripts.
const (
	ScriptVarCursor  = "cursor"
	ScriptVarEnv     = "env"
	ScriptVarShardID = "shard_id"
)

// ScriptCursor is the only way a migration script reaches the database.
type ScriptCursor struct {
	ctx context.Context
	cur *dbconn.Cursor
}

// Exec executes a statement and returns the number of affected rows.
func (c *ScriptCursor) Exec(query string, args ...interface{}) (int64, error) {
	res, err := c.cur.Exec(c.ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get affected rows: %w", err)
	}
	return affected, nil
}

// FetchOne executes a query and returns the first row or nil.
func (c *ScriptCursor) FetchOne(query string, args ...interface{}) ([]interface{}, error) {
	return c.cur.FetchOne(c.ctx, query, args...)
}

// FetchAll executes a query and returns all rows.
func (c *ScriptCursor) FetchAll(query string, args ...interface{}) ([][]interface{}, error) {
	return c.cur.FetchAll(c.ctx, query, args...)
}

// scriptEnv builds the names visible to a script. env maps every key to its "value" and "type".
func scriptEnv(ctx context.Context, cur *dbconn.Cursor, env sdbmigrate.Env, shardID *int) (map[string]interface{}, error) {
	vars := make(map[string]interface{}, len(env))
	for key, v := range env {
		decoded, err := v.Decoded()
		if err != nil {
			return nil, fmt.Errorf("decode env key %q: %w", key, err)
		}
		vars[key] = map[string]interface{}{"value": decoded, "type": string(v.TypeOrDefault())}
	}
	bindings := map[string]interface{}{
		ScriptVarCursor: &ScriptCursor{ctx: ctx, cur: cur},
		ScriptVarEnv:    vars,
	}
	if shardID != nil {
		bindings[ScriptVarShardID] = *shardID
	}
	return bindings, nil
}

// compileScript compiles every line of the script against the bindings.
// Blank lines and lines starting with "#" or "//" are skipped.
func compileScript(body string, bindings map[string]interface{}) ([]*vm.Program, error) {
	var programs []*vm.Program
	for i, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		program, err := expr.Compile(line, expr.Env(bindings))
		if err != nil {
			return nil, fmt.Errorf("compile script line %d: %w", i+1, err)
		}
		programs = append(programs, program)
	}
	return programs, nil
}

// runScript compiles the whole script first, so a typo fails before any statement is executed.
func runScript(ctx context.Context, cur *dbconn.Cursor, body string, env sdbmigrate.Env, shardID *int) error {
	bindings, err := scriptEnv(ctx, cur, env, shardID)
	if err != nil {
		return err
	}
	programs, err := compileScript(body, bindings)
	if err != nil {
		return err
	}
	for i, program := range programs {
		if _, err = expr.Run(program, bindings); err != nil {
			return fmt.Errorf("run script expression %d: %w", i+1, err)
		}
	}
	return nil
}
