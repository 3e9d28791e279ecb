/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package sdbmigrate

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// PostgresSSLMode defines possible values for Postgres sslmode connection parameter.
type PostgresSSLMode string

// Postgres SSL modes.
const (
	PostgresSSLModeDisable    PostgresSSLMode = "disable"
	PostgresSSLModeRequire    PostgresSSLMode = "require"
	PostgresSSLModeVerifyCA   PostgresSSLMode = "verify-ca"
	PostgresSSLModeVerifyFull PostgresSSLMode = "verify-full"
)

// PostgresDefaultSSLMode is used when sslMode is not set for the database.
const PostgresDefaultSSLMode = PostgresSSLModeDisable

// DriverNameAndDSN returns driver name and DSN for connecting to the database.
// MySQL session autocommit is controlled via DSN, Postgres connections are always in autocommit
// mode outside explicit transactions.
func (c *DatabaseConfig) DriverNameAndDSN(autocommit bool) (driverName, dsn string) {
	switch c.Type {
	case DialectMySQL:
		return c.DriverName(), MakeMySQLDSN(c, autocommit)
	case DialectPostgres:
		return c.DriverName(), MakePostgresDSN(c)
	}
	return "", ""
}

// MakeMySQLDSN makes DSN for opening MySQL database.
func MakeMySQLDSN(cfg *DatabaseConfig, autocommit bool) string {
	c := mysql.NewConfig()
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.DBName = cfg.Name
	c.ParseTime = true
	c.Params = make(map[string]string, len(cfg.AdditionalParameters)+1)
	for k, v := range cfg.AdditionalParameters {
		c.Params[k] = v
	}
	c.Params["autocommit"] = strconv.FormatBool(autocommit)
	return c.FormatDSN()
}

// MakePostgresDSN makes DSN for opening Postgres database.
func MakePostgresDSN(cfg *DatabaseConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = PostgresDefaultSSLMode
	}
	connURI := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     cfg.Name,
		RawQuery: fmt.Sprintf("sslmode=%s", url.QueryEscape(string(sslMode))),
	}
	if len(cfg.AdditionalParameters) == 0 {
		return connURI.String()
	}
	return urlWithOptionalParameters(connURI, cfg.AdditionalParameters, map[string]struct{}{"sslmode": {}})
}

func urlWithOptionalParameters(
	u url.URL,
	params map[string]string,
	keysToIgnore map[string]struct{},
) string {
	queryParts := make([]string, 0, len(params))
	for k, v := range params {
		if _, ok := keysToIgnore[k]; ok {
			continue
		}
		queryParts = append(queryParts, fmt.Sprintf("%s=%s", k, url.QueryEscape(v)))
	}
	if len(queryParts) == 0 {
		return u.String()
	}
	sort.Strings(queryParts) // Sort to make DSN deterministic.
	u.RawQuery += "&" + strings.Join(queryParts, "&")
	return u.String()
}
