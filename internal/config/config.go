package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"weather-oracle/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Keys      KeysConfig      `mapstructure:"keys"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Source    SourceConfig    `mapstructure:"source"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	// InvocationLockKey serialises contract invocations across processes.
	InvocationLockKey int64 `mapstructure:"invocation_lock_key"`
}

// OracleConfig describes the deployed contract.
type OracleConfig struct {
	Contract              string        `mapstructure:"contract"`
	Relayer               string        `mapstructure:"relayer"`
	Asset                 string        `mapstructure:"asset"`
	Recipient             string        `mapstructure:"recipient"`
	EpochDuration         time.Duration `mapstructure:"epoch_duration"`
	ContinuityRequirement uint32        `mapstructure:"continuity_requirement"`
	Threshold             uint32        `mapstructure:"threshold"`
	// RequestWindow bounds the age of signed calls the host accepts.
	RequestWindow time.Duration `mapstructure:"request_window"`
}

// EpochSeconds returns the epoch duration in whole seconds.
func (o OracleConfig) EpochSeconds() uint32 {
	return uint32(o.EpochDuration / time.Second)
}

// KeysConfig holds hex-encoded secp256k1 private keys.
type KeysConfig struct {
	Owner   string `mapstructure:"owner"`
	Relayer string `mapstructure:"relayer"`
}

// SchedulerConfig governs reporting cadence.
type SchedulerConfig struct {
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	StartupDelay      time.Duration `mapstructure:"startup_delay"`
	RunOnStart        bool          `mapstructure:"run_on_start"`
	MaxReportsPerTick int           `mapstructure:"max_reports_per_tick"`
	AdvisoryLockKey   int64         `mapstructure:"advisory_lock_key"`
}

// SourceConfig selects where measured values come from.
type SourceConfig struct {
	Kind  string  `mapstructure:"kind"`
	Scale float64 `mapstructure:"scale"`
	// StaticValue is reported for every epoch when Kind is "static".
	StaticValue float64         `mapstructure:"static_value"`
	OpenMeteo   OpenMeteoConfig `mapstructure:"open_meteo"`
	Feed        FeedConfig      `mapstructure:"feed"`
}

// OpenMeteoConfig covers the Open-Meteo archive API.
type OpenMeteoConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Latitude       float64       `mapstructure:"latitude"`
	Longitude      float64       `mapstructure:"longitude"`
	Variable       string        `mapstructure:"variable"`
	Aggregation    string        `mapstructure:"aggregation"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// FeedConfig covers an on-chain aggregator feed.
type FeedConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	Address        string        `mapstructure:"address"`
	Decimals       int32         `mapstructure:"decimals"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEATHERORACLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "weather-oracle")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("oracle.epoch_duration", "24h")
	v.SetDefault("oracle.continuity_requirement", 2)
	v.SetDefault("oracle.threshold", 10)
	v.SetDefault("oracle.request_window", "5m")

	v.SetDefault("scheduler.settle_delay", "5m")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.max_reports_per_tick", 30)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x776f7261))

	v.SetDefault("source.kind", "open-meteo")
	v.SetDefault("source.scale", 1.0)
	v.SetDefault("source.open_meteo.base_url", "https://archive-api.open-meteo.com/v1")
	v.SetDefault("source.open_meteo.variable", "temperature_2m")
	v.SetDefault("source.open_meteo.aggregation", "max")
	v.SetDefault("source.open_meteo.request_timeout", "10s")
	v.SetDefault("source.open_meteo.user_agent", "weather-oracle/1.0")
	v.SetDefault("source.feed.decimals", 8)
	v.SetDefault("source.feed.request_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "")
	v.SetDefault("database.invocation_lock_key", int64(0x6f726163))
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Oracle.EpochDuration < time.Second || c.Oracle.EpochDuration%time.Second != 0 {
		return fmt.Errorf("oracle.epoch_duration must be a positive whole number of seconds")
	}
	if c.Oracle.EpochDuration/time.Second > 1<<32-1 {
		return fmt.Errorf("oracle.epoch_duration does not fit in 32 bits of seconds")
	}
	if c.Oracle.RequestWindow < 0 {
		return fmt.Errorf("oracle.request_window cannot be negative")
	}
	for name, addr := range map[string]string{
		"oracle.contract":  c.Oracle.Contract,
		"oracle.relayer":   c.Oracle.Relayer,
		"oracle.asset":     c.Oracle.Asset,
		"oracle.recipient": c.Oracle.Recipient,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("%s is not a hex address: %q", name, addr)
		}
	}
	if c.Scheduler.MaxReportsPerTick <= 0 {
		return fmt.Errorf("scheduler.max_reports_per_tick must be greater than zero")
	}
	if c.Scheduler.SettleDelay < 0 {
		return fmt.Errorf("scheduler.settle_delay cannot be negative")
	}
	if c.Source.Scale <= 0 {
		return fmt.Errorf("source.scale must be greater than zero")
	}
	switch c.Source.Kind {
	case "open-meteo", "feed", "static":
	default:
		return fmt.Errorf("source.kind must be one of open-meteo, feed, static: %q", c.Source.Kind)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
