/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package sdbmigrate

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/acronis/go-appkit/config"
	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

const (
	cfgKeyDatabases             = "databases"
	cfgKeyShardCount            = "shard_count"
	cfgKeyShardDistributionMode = "shard_distribution_mode"
	cfgKeyShardOnDB             = "shard_on_db"
	cfgKeyEnv                   = "env"
)

// ShardDistributionMode defines how shard ids are distributed between databases.
type ShardDistributionMode string

// Shard distribution modes.
const (
	ShardDistributionNone   ShardDistributionMode = "none"
	ShardDistributionAuto   ShardDistributionMode = "auto"
	ShardDistributionManual ShardDistributionMode = "manual"
)

// Config represents a validated sdbmigrate configuration.
type Config struct {
	Databases             []DatabaseConfig      `mapstructure:"databases" yaml:"databases" json:"databases"`
	ShardCount            int                   `mapstructure:"shard_count" yaml:"shard_count" json:"shard_count"`
	ShardDistributionMode ShardDistributionMode `mapstructure:"shard_distribution_mode" yaml:"shard_distribution_mode" json:"shard_distribution_mode"` //nolint:lll
	ShardOnDB             int                   `mapstructure:"shard_on_db" yaml:"shard_on_db" json:"shard_on_db"`
	Env                   Env                   `mapstructure:"env" yaml:"env" json:"env"`
}

var _ config.Config = (*Config)(nil)

// DatabaseConfig represents a single target database.
type DatabaseConfig struct {
	Type                 Dialect           `mapstructure:"type" yaml:"type" json:"type"`
	Driver               string            `mapstructure:"driver" yaml:"driver" json:"driver"`
	Host                 string            `mapstructure:"host" yaml:"host" json:"host"`
	Port                 int               `mapstructure:"port" yaml:"port" json:"port"`
	Name                 string            `mapstructure:"name" yaml:"name" json:"name"`
	User                 string            `mapstructure:"user" yaml:"user" json:"user"`
	Password             string            `mapstructure:"password" yaml:"password" json:"password"`
	SSLMode              PostgresSSLMode   `mapstructure:"sslMode" yaml:"sslMode" json:"sslMode"`
	AdditionalParameters map[string]string `mapstructure:"additionalParameters" yaml:"additionalParameters" json:"additionalParameters"` //nolint:lll
	Shards               []ShardRange      `mapstructure:"shards" yaml:"shards" json:"shards"`
}

// ShardRange is an inclusive range of shard ids declared for a database in manual distribution mode.
type ShardRange struct {
	Min int `mapstructure:"min" yaml:"min" json:"min"`
	Max int `mapstructure:"max" yaml:"max" json:"max"`
}

// DriverName returns the configured driver or the default one for the dialect.
func (c *DatabaseConfig) DriverName() string {
	if c.Driver != "" {
		return c.Driver
	}
	return c.Type.DefaultDriver()
}

// String returns a short human-readable identity of the database. Credentials are never included.
func (c *DatabaseConfig) String() string {
	return fmt.Sprintf("DB[host=%s, name=%s, type=%s]", c.Host, c.Name, c.Type)
}

// LoadConfigFile reads a YAML configuration file and validates it.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyShardCount, 0)
	dp.SetDefault(cfgKeyShardDistributionMode, string(ShardDistributionNone))
	dp.SetDefault(cfgKeyShardOnDB, 0)
}

// Set sets configuration values from config.DataProvider.
// Viper-backed providers lowercase map keys, so env keys and additionalParameters arrive lowercased.
// LoadConfigFile keeps their case.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if err = decodeRaw(dp.Get(cfgKeyDatabases), &c.Databases); err != nil {
		return dp.WrapKeyErr(cfgKeyDatabases, err)
	}
	if c.ShardCount, err = dp.GetInt(cfgKeyShardCount); err != nil {
		return err
	}
	modes := []string{string(ShardDistributionNone), string(ShardDistributionAuto), string(ShardDistributionManual)}
	var modeStr string
	if modeStr, err = dp.GetStringFromSet(cfgKeyShardDistributionMode, modes, false); err != nil {
		return err
	}
	c.ShardDistributionMode = ShardDistributionMode(modeStr)
	if c.ShardOnDB, err = dp.GetInt(cfgKeyShardOnDB); err != nil {
		return err
	}
	if err = decodeRaw(dp.Get(cfgKeyEnv), &c.Env); err != nil {
		return dp.WrapKeyErr(cfgKeyEnv, err)
	}

	return c.Validate()
}

func decodeRaw(raw interface{}, result interface{}) error {
	if raw == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           result,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.TextUnmarshallerHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// Validate checks the configuration. It must pass before any database is touched.
func (c *Config) Validate() error {
	if len(c.Databases) == 0 {
		return fmt.Errorf("%w: at least one database must be configured", ErrInvalidConfig)
	}
	for i := range c.Databases {
		if err := c.Databases[i].validate(); err != nil {
			return fmt.Errorf("databases[%d]: %w", i, err)
		}
	}
	if err := c.validateSharding(); err != nil {
		return err
	}
	return c.Env.Validate()
}

func (c *DatabaseConfig) validate() error {
	if err := checkDialect(c.Type); err != nil {
		return err
	}
	driverOK := false
	for _, d := range c.Type.SupportedDrivers() {
		if d == c.DriverName() {
			driverOK = true
			break
		}
	}
	if !driverOK {
		return fmt.Errorf("%w: driver %q is not supported for %s, should be one of %v",
			ErrInvalidConfig, c.Driver, c.Type, c.Type.SupportedDrivers())
	}
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) validateSharding() error {
	if c.ShardCount < 0 {
		return fmt.Errorf("%w: shard_count must not be negative", ErrInvalidShardingConfig)
	}
	switch c.ShardDistributionMode {
	case "", ShardDistributionNone:
		return nil
	case ShardDistributionAuto:
		if _, err := c.AutoShardsPerDB(); err != nil {
			return err
		}
		return nil
	case ShardDistributionManual:
		return c.validateManualShards()
	}
	return fmt.Errorf("%w: invalid shard_distribution_mode %q", ErrInvalidShardingConfig, c.ShardDistributionMode)
}

// AutoShardsPerDB returns the number of shards owned by every database in auto distribution mode.
func (c *Config) AutoShardsPerDB() (int, error) {
	dbCount := len(c.Databases)
	if dbCount == 0 || c.ShardCount%dbCount != 0 {
		return 0, fmt.Errorf("%w: can't distribute %d shards on %d databases fairly",
			ErrInvalidShardingConfig, c.ShardCount, dbCount)
	}
	perDB := c.ShardCount / dbCount
	if c.ShardOnDB != 0 && c.ShardOnDB != perDB {
		return 0, fmt.Errorf("%w: shard_count %d does not match shard_on_db*database_count: %d * %d",
			ErrInvalidShardingConfig, c.ShardCount, c.ShardOnDB, dbCount)
	}
	return perDB, nil
}

func (c *Config) validateManualShards() error {
	type owned struct {
		ShardRange
		db int
	}
	var ranges []owned
	for i := range c.Databases {
		for _, r := range c.Databases[i].Shards {
			if r.Min > r.Max {
				return fmt.Errorf("%w: %s has shard range with min %d greater than max %d",
					ErrInvalidShardingConfig, &c.Databases[i], r.Min, r.Max)
			}
			if r.Min < 0 || r.Max >= c.ShardCount {
				return fmt.Errorf("%w: %s has shard range [%d, %d] outside of [0, %d)",
					ErrInvalidShardingConfig, &c.Databases[i], r.Min, r.Max, c.ShardCount)
			}
			ranges = append(ranges, owned{r, i})
		}
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Min < ranges[j].Min })
	next := 0
	for _, r := range ranges {
		if r.Min < next {
			return fmt.Errorf("%w: shard %d is owned by more than one database (%s)",
				ErrInvalidShardingConfig, r.Min, &c.Databases[r.db])
		}
		if r.Min > next {
			return fmt.Errorf("%w: shards [%d, %d] are not owned by any database",
				ErrInvalidShardingConfig, next, r.Min-1)
		}
		next = r.Max + 1
	}
	if next != c.ShardCount {
		return fmt.Errorf("%w: shards [%d, %d] are not owned by any database",
			ErrInvalidShardingConfig, next, c.ShardCount-1)
	}
	return nil
}
