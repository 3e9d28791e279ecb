/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/acronis/go-sdbmigrate"
)

// EnvPrefix is the prefix of environment variables overriding flags and configuration keys.
const EnvPrefix = "SDBMIGRATE"

const (
	keyConfigFile       = "config_file"
	keyMigrationsDir    = "migrations_dir"
	keyLogLevel         = "log_level"
	keyTargetVersion    = "target_schema_version"
	keyDryRun           = "dry_run"
	keyForceUpdateEnv   = "force_update_env"
	keySchema           = "schema"
	keyStrictDialectSQL = "strict_dialect_sql"
	keyLockTTL          = "lock_ttl"
	keyMetricsTextfile  = "metrics_textfile"
)

// noTargetVersion means all migrations are applied.
const noTargetVersion = -1

// options are resolved values of flags and environment variables.
type options struct {
	ConfigFile       string
	MigrationsDir    string
	LogLevel         string
	TargetVersion    int64
	DryRun           bool
	ForceUpdateEnv   bool
	Schema           string
	StrictDialectSQL bool
	LockTTL          time.Duration
	MetricsTextfile  string
	ConfigOverrides  configOverrides
}

func readOptions(v *viper.Viper) options {
	return options{
		ConfigFile:       v.GetString(keyConfigFile),
		MigrationsDir:    v.GetString(keyMigrationsDir),
		LogLevel:         v.GetString(keyLogLevel),
		TargetVersion:    v.GetInt64(keyTargetVersion),
		DryRun:           v.GetBool(keyDryRun),
		ForceUpdateEnv:   v.GetBool(keyForceUpdateEnv),
		Schema:           v.GetString(keySchema),
		StrictDialectSQL: v.GetBool(keyStrictDialectSQL),
		LockTTL:          v.GetDuration(keyLockTTL),
		MetricsTextfile:  v.GetString(keyMetricsTextfile),
		ConfigOverrides:  readConfigOverrides(v),
	}
}

// newRootCommand builds the command tree. Running the root command is the same as "up".
func newRootCommand(out io.Writer) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "sdbmigrate",
		Short:         "Apply versioned SQL and script migrations to sharded PostgreSQL and MySQL databases",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUp(cmd, readOptions(v), out)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringP("config-file", "c", "sdbmigrate.yaml", "path to the YAML configuration file")
	pf.StringP("migrations-dir", "d", "migrations", "directory with migration files")
	pf.StringP("log-level", "l", string(log.LevelInfo), "log level (error, warn, info, debug)")
	pf.Int64P("target-schema-version", "t", noTargetVersion, "stop after this schema version (-1 applies all)")
	pf.Bool("dry-run", false, "execute transactional migrations and roll them back")
	pf.Bool("force-update-env", false, "overwrite the stored environment with the configured one")
	pf.String("schema", "", "PostgreSQL schema for state tables")
	pf.Bool("strict-dialect-sql", false, "require a dialect section in every SQL migration")
	pf.Duration("lock-ttl", 0, "take the run lock with this TTL on every database (0 disables it)")
	pf.String("metrics-textfile", "", "write Prometheus metrics of the run to this file")
	for key, flag := range map[string]string{
		keyConfigFile:       "config-file",
		keyMigrationsDir:    "migrations-dir",
		keyLogLevel:         "log-level",
		keyTargetVersion:    "target-schema-version",
		keyDryRun:           "dry-run",
		keyForceUpdateEnv:   "force-update-env",
		keySchema:           "schema",
		keyStrictDialectSQL: "strict-dialect-sql",
		keyLockTTL:          "lock-ttl",
		keyMetricsTextfile:  "metrics-textfile",
	} {
		_ = v.BindPFlag(key, pf.Lookup(flag))
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runUp(cmd, readOptions(v), out)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations of every database",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runStatus(cmd, readOptions(v), out)
			},
		},
		newCreateCommand(v, out),
	)
	return rootCmd
}

func newLogger(level string) (log.FieldLogger, func(), error) {
	lvl := log.Level(strings.ToLower(level))
	switch lvl {
	case log.LevelError, log.LevelWarn, log.LevelInfo, log.LevelDebug:
	default:
		return nil, nil, fmt.Errorf("unknown log level %q", level)
	}
	logger, closeFn := log.NewLogger(&log.Config{Output: log.OutputStderr, Level: lvl, Format: log.FormatText})
	return logger, closeFn, nil
}

// Configuration keys that may be overridden by SDBMIGRATE_* variables.
const (
	keyShardCount            = "shard_count"
	keyShardDistributionMode = "shard_distribution_mode"
	keyShardOnDB             = "shard_on_db"
)

// configOverrides are configuration values set through environment variables.
type configOverrides struct {
	shardCount            *int
	shardDistributionMode *string
	shardOnDB             *int
}

func readConfigOverrides(v *viper.Viper) configOverrides {
	var o configOverrides
	if v.IsSet(keyShardCount) {
		n := v.GetInt(keyShardCount)
		o.shardCount = &n
	}
	if v.IsSet(keyShardDistributionMode) {
		mode := v.GetString(keyShardDistributionMode)
		o.shardDistributionMode = &mode
	}
	if v.IsSet(keyShardOnDB) {
		n := v.GetInt(keyShardOnDB)
		o.shardOnDB = &n
	}
	return o
}

// loadConfig reads the configuration file and applies SDBMIGRATE_* overrides of the sharding keys.
// The file is decoded by LoadConfigFile so the case of env keys and DSN parameters is kept.
func loadConfig(path string, overrides configOverrides) (*sdbmigrate.Config, error) {
	cfg, err := sdbmigrate.LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	if overrides == (configOverrides{}) {
		return cfg, nil
	}
	if overrides.shardCount != nil {
		cfg.ShardCount = *overrides.shardCount
	}
	if overrides.shardDistributionMode != nil {
		cfg.ShardDistributionMode = sdbmigrate.ShardDistributionMode(*overrides.shardDistributionMode)
	}
	if overrides.shardOnDB != nil {
		cfg.ShardOnDB = *overrides.shardOnDB
	}
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s with %s_* overrides: %w", path, EnvPrefix, err)
	}
	return cfg, nil
}
