/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/acronis/go-sdbmigrate"
	"github.com/acronis/go-sdbmigrate/sqltmpl"
)

// A SQL body may be split into dialect sections by marker lines:
//
//	-- sdbmigrate:dialect postgres
//	-- sdbmigrate:dialect mysql
//	-- sdbmigrate:dialect default
//
// Text before the first marker belongs to the default section.
var dialectMarkerRe = regexp.MustCompile(`^\s*--\s*sdbmigrate:dialect\s+(\S+)\s*$`)

// ParseSQLBody splits a SQL migration body into dialect variants.
func ParseSQLBody(body string) (sqltmpl.Template, error) {
	sections := map[string]*strings.Builder{"default": {}}
	current := "default"
	for _, line := range strings.SplitAfter(body, "\n") {
		if match := dialectMarkerRe.FindStringSubmatch(strings.TrimRight(line, "\r\n")); match != nil {
			current = match[1]
			switch sdbmigrate.Dialect(current) {
			case sdbmigrate.DialectPostgres, sdbmigrate.DialectMySQL:
			default:
				if current != "default" {
					return sqltmpl.Template{}, fmt.Errorf("%w: dialect section %q", sdbmigrate.ErrUnsupportedDialect, current)
				}
			}
			if _, ok := sections[current]; !ok {
				sections[current] = &strings.Builder{}
			}
			continue
		}
		sections[current].WriteString(line)
	}

	tmpl := sqltmpl.Template{Default: sections["default"].String()}
	if strings.TrimSpace(tmpl.Default) == "" {
		tmpl.Default = ""
	}
	if b, ok := sections[string(sdbmigrate.DialectPostgres)]; ok {
		tmpl.Postgres = b.String()
	}
	if b, ok := sections[string(sdbmigrate.DialectMySQL)]; ok {
		tmpl.MySQL = b.String()
	}
	return tmpl, nil
}
