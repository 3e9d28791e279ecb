/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package sqltmpl

import (
	"strings"

	"github.com/acronis/go-sdbmigrate"
)

type splitState int

const (
	stateNormal splitState = iota
	stateSingleQuote
	stateDoubleQuote
	stateBacktick
	stateLineComment
	stateBlockComment
	stateDollarQuote
)

// Split splits SQL text into individual statements.
// Semicolons inside quoted strings, identifiers, comments and (for PostgreSQL) dollar-quoted
// bodies don't terminate a statement. Statements consisting only of comments and whitespace
// are dropped. The terminating semicolon is kept.
func Split(dialect sdbmigrate.Dialect, sql string) []string {
	var (
		statements []string
		cur        strings.Builder
		hasContent bool
		state      = stateNormal
		dollarTag  string
	)
	flush := func() {
		stmt := strings.TrimSpace(cur.String())
		if hasContent && stmt != ";" {
			statements = append(statements, stmt)
		}
		cur.Reset()
		hasContent = false
	}

	mysql := dialect == sdbmigrate.DialectMySQL
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		next := byte(0)
		if i+1 < len(sql) {
			next = sql[i+1]
		}

		switch state {
		case stateNormal:
			switch {
			case c == ';':
				cur.WriteByte(c)
				flush()
				continue
			case c == '\'':
				state = stateSingleQuote
			case c == '"':
				state = stateDoubleQuote
			case c == '`' && mysql:
				state = stateBacktick
			case c == '-' && next == '-', c == '#' && mysql:
				state = stateLineComment
			case c == '/' && next == '*':
				state = stateBlockComment
				cur.WriteString("/*")
				i++
				continue
			case c == '$' && !mysql:
				if tag, ok := dollarQuoteTag(sql[i:]); ok {
					state = stateDollarQuote
					dollarTag = tag
					cur.WriteString(tag)
					hasContent = true
					i += len(tag) - 1
					continue
				}
			}
			if state != stateLineComment && state != stateBlockComment && !isSpace(c) {
				hasContent = true
			}
			cur.WriteByte(c)

		case stateSingleQuote, stateDoubleQuote, stateBacktick:
			cur.WriteByte(c)
			quote := map[splitState]byte{stateSingleQuote: '\'', stateDoubleQuote: '"', stateBacktick: '`'}[state]
			if c == '\\' && mysql && state != stateBacktick && next != 0 {
				cur.WriteByte(next)
				i++
				continue
			}
			if c == quote {
				if next == quote {
					// Doubled quote is an escaped quote.
					cur.WriteByte(next)
					i++
					continue
				}
				state = stateNormal
			}

		case stateLineComment:
			cur.WriteByte(c)
			if c == '\n' {
				state = stateNormal
			}

		case stateBlockComment:
			cur.WriteByte(c)
			if c == '*' && next == '/' {
				cur.WriteByte(next)
				i++
				state = stateNormal
			}

		case stateDollarQuote:
			if strings.HasPrefix(sql[i:], dollarTag) {
				cur.WriteString(dollarTag)
				i += len(dollarTag) - 1
				state = stateNormal
				continue
			}
			cur.WriteByte(c)
		}
	}
	flush()
	return statements
}

// dollarQuoteTag returns the opening tag ($$ or $tag$) if s starts with one.
func dollarQuoteTag(s string) (string, bool) {
	for j := 1; j < len(s); j++ {
		c := s[j]
		if c == '$' {
			return s[:j+1], true
		}
		isLetter := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
		isDigit := c >= '0' && c <= '9'
		if !isLetter && !(isDigit && j > 1) {
			return "", false
		}
	}
	return "", false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}
