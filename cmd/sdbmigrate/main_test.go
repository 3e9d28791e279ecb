/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-sdbmigrate"
	"github.com/acronis/go-sdbmigrate/migrate"
)

const validConfig = `
databases:
  - type: postgres
    host: pg-host
    port: 5432
    name: app
    user: app
shard_count: 2
shard_distribution_mode: auto
env:
  region:
    value: eu
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCreateCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "migrations")

	out, err := execute(t, "create", "init", "-d", dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "V0001__TRX_PLAIN__init.sql"), strings.TrimSpace(out))

	out, err = execute(t, "create", "add_items", "--shard", "--notrx", "-d", dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "V0002__NOTRX_SHARD__add_items.sql"), strings.TrimSpace(out))

	_, err = execute(t, "create", "backfill", "--expr", "-d", dir)
	require.NoError(t, err)

	migrations, err := migrate.LoadDirMigrations(dir)
	require.NoError(t, err)
	require.Len(t, migrations, 3)
	require.Equal(t, migrate.LangExpr, migrations[2].Lang())
	body, err := migrations[2].Body()
	require.NoError(t, err)
	require.Equal(t, "# backfill\n", body)

	_, err = execute(t, "create", "Bad-Name", "-d", dir)
	require.Error(t, err)
	_, err = execute(t, "create", "-d", dir)
	require.Error(t, err)
}

func TestCreateCommand_DirFromEnv(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "from-env")
	t.Setenv("SDBMIGRATE_MIGRATIONS_DIR", dir)

	_, err := execute(t, "create", "init")
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, "V0001__TRX_PLAIN__init.sql"))
}

func TestUpCommand_FailsBeforeConnecting(t *testing.T) {
	dir := t.TempDir()
	migrationsDir := filepath.Join(dir, "migrations")
	require.NoError(t, os.Mkdir(migrationsDir, 0o755))

	t.Run("unknown log level", func(t *testing.T) {
		cfgPath := writeFile(t, dir, "valid.yaml", validConfig)
		_, err := execute(t, "-c", cfgPath, "-d", migrationsDir, "-l", "verbose")
		require.ErrorContains(t, err, "unknown log level")
	})

	t.Run("missing config file", func(t *testing.T) {
		_, err := execute(t, "up", "-c", filepath.Join(dir, "absent.yaml"), "-d", migrationsDir)
		require.ErrorContains(t, err, "read config")
	})

	t.Run("invalid config", func(t *testing.T) {
		cfgPath := writeFile(t, dir, "empty.yaml", "shard_count: 0\n")
		_, err := execute(t, "up", "-c", cfgPath, "-d", migrationsDir)
		require.ErrorContains(t, err, "at least one database")
	})

	t.Run("invalid migration name", func(t *testing.T) {
		cfgPath := writeFile(t, dir, "valid.yaml", validConfig)
		badDir := filepath.Join(dir, "bad")
		require.NoError(t, os.Mkdir(badDir, 0o755))
		writeFile(t, badDir, "init.sql", "SELECT 1;")
		_, err := execute(t, "status", "-c", cfgPath, "-d", badDir)
		require.ErrorContains(t, err, "init.sql")
	})
}

func TestLoadConfig(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "cfg.yaml", validConfig)
	cfg, err := loadConfig(cfgPath, configOverrides{})
	require.NoError(t, err)
	require.Len(t, cfg.Databases, 1)
	require.Equal(t, 2, cfg.ShardCount)
	require.Equal(t, "app", cfg.Databases[0].Name)
	require.Contains(t, cfg.Env, "region")
}

func TestLoadConfig_KeepsKeyCase(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "cfg.yaml", `
databases:
  - type: mysql
    host: mysql-host
    port: 3306
    name: app
    additionalParameters:
      parseTime: "true"
env:
  RegionID:
    value: 1
    type: int
`)
	cfg, err := loadConfig(cfgPath, configOverrides{})
	require.NoError(t, err)
	require.Equal(t, []string{"RegionID"}, cfg.Env.Keys())
	require.Equal(t, map[string]string{"parseTime": "true"}, cfg.Databases[0].AdditionalParameters)

	libCfg, err := sdbmigrate.LoadConfigFile(cfgPath)
	require.NoError(t, err)
	require.Equal(t, libCfg, cfg)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "cfg.yaml", validConfig)
	t.Setenv("SDBMIGRATE_SHARD_COUNT", "6")

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	cfg, err := loadConfig(cfgPath, readConfigOverrides(v))
	require.NoError(t, err)
	require.Equal(t, 6, cfg.ShardCount)
	require.Equal(t, sdbmigrate.ShardDistributionAuto, cfg.ShardDistributionMode)

	t.Setenv("SDBMIGRATE_SHARD_DISTRIBUTION_MODE", "manual")
	_, err = loadConfig(cfgPath, readConfigOverrides(v))
	require.ErrorIs(t, err, sdbmigrate.ErrInvalidConfig)
}
