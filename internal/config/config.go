package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"vortex-ramp/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig              `mapstructure:"app"`
	Logging  logging.Config         `mapstructure:"logging"`
	Database DatabaseConfig         `mapstructure:"database"`
	Provider ProviderConfig         `mapstructure:"provider"`
	Signer   SignerConfig           `mapstructure:"signer"`
	Chains   map[string]ChainConfig `mapstructure:"chains"`
	Fees     FeesConfig             `mapstructure:"fees"`
	Workers  WorkersConfig          `mapstructure:"workers"`
	Alerting AlertingConfig         `mapstructure:"alerting"`
	Export   ExportConfig           `mapstructure:"export"`
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
}

// ProviderConfig covers the KYC/payment provider API.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	MaxRetries     int           `mapstructure:"max_retries"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SignerConfig covers the transaction signing sidecar.
type SignerConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ChainConfig describes one settlement ledger.
type ChainConfig struct {
	RPCURL             string        `mapstructure:"rpc_url"`
	SettlementAsset    string        `mapstructure:"settlement_asset"`
	SettlementDecimals int32         `mapstructure:"settlement_decimals"`
	BuybackToken       string        `mapstructure:"buyback_token"`
	SwapRouter         string        `mapstructure:"swap_router"`
	Multicall          string        `mapstructure:"multicall"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	ConfirmTimeout     time.Duration `mapstructure:"confirm_timeout"`
}

// FeesConfig defines platform fee collection parameters.
type FeesConfig struct {
	CollectorAddress string        `mapstructure:"collector_address"`
	StartWindow      time.Duration `mapstructure:"start_window"`
	EphemeralFunding float64       `mapstructure:"ephemeral_funding"`
}

// WorkersConfig governs the background worker cadences and windows.
type WorkersConfig struct {
	RecoveryInterval  time.Duration `mapstructure:"recovery_interval"`
	RecoveryIdle      time.Duration `mapstructure:"recovery_idle"`
	UnhandledInterval time.Duration `mapstructure:"unhandled_interval"`
	GraceWindow       time.Duration `mapstructure:"grace_window"`
	AbandonHorizon    time.Duration `mapstructure:"abandon_horizon"`
	AlertWindow       time.Duration `mapstructure:"alert_window"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	CleanupRetention  time.Duration `mapstructure:"cleanup_retention"`
}

// AlertingConfig defines operator alert routing.
type AlertingConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Cooldown time.Duration `mapstructure:"cooldown"`
	Slack    SlackConfig   `mapstructure:"slack"`
}

// SlackConfig describes the Slack webhook sink.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VORTEXRAMP")
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
	v.SetDefault("app.name", "vortex-ramp")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.service", "vortex-ramp")

	v.SetDefault("provider.request_timeout", "10s")
	v.SetDefault("provider.rate_per_second", 5.0)
	v.SetDefault("provider.max_retries", 3)
	v.SetDefault("provider.user_agent", "vortex-ramp/1.0")

	v.SetDefault("signer.request_timeout", "10s")

	v.SetDefault("fees.start_window", "5m")
	v.SetDefault("fees.ephemeral_funding", 0.01)

	v.SetDefault("workers.recovery_interval", "5m")
	v.SetDefault("workers.recovery_idle", "10m")
	v.SetDefault("workers.unhandled_interval", "15m")
	v.SetDefault("workers.grace_window", "10m")
	v.SetDefault("workers.abandon_horizon", "72h")
	v.SetDefault("workers.alert_window", "24h")
	v.SetDefault("workers.cleanup_interval", "1h")
	v.SetDefault("workers.cleanup_retention", "168h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.slack.enabled", false)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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
	if c.Workers.GraceWindow <= 0 {
		return fmt.Errorf("workers.grace_window must be greater than zero")
	}
	if c.Workers.AbandonHorizon <= c.Workers.GraceWindow {
		return fmt.Errorf("workers.abandon_horizon must exceed workers.grace_window")
	}
	if c.Fees.StartWindow <= 0 {
		return fmt.Errorf("fees.start_window must be greater than zero")
	}
	if c.Provider.MaxRetries < 0 {
		return fmt.Errorf("provider.max_retries cannot be negative")
	}
	if c.Alerting.Slack.Enabled && c.Alerting.Slack.WebhookURL == "" {
		return fmt.Errorf("alerting.slack.webhook_url must be configured")
	}
	for name, chain := range c.Chains {
		if chain.SettlementDecimals < 0 {
			return fmt.Errorf("chains.%s.settlement_decimals cannot be negative", name)
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
