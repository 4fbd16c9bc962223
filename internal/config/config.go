package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"arbwatch/internal/logging"
	"arbwatch/internal/market"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig           `mapstructure:"app"`
	Logging    logging.Config      `mapstructure:"logging"`
	Database   DatabaseConfig      `mapstructure:"database"`
	Monitor    MonitorConfig       `mapstructure:"monitor"`
	Validation ValidationConfig    `mapstructure:"validation"`
	Costs      CostConfig          `mapstructure:"costs"`
	Checkpoint CheckpointConfig    `mapstructure:"checkpoint"`
	RateLimit  RateLimitConfig     `mapstructure:"ratelimit"`
	Venues     VenuesConfig        `mapstructure:"venues"`
	Alerting   AlertingConfig      `mapstructure:"alerting"`
	Export     ExportConfig        `mapstructure:"export"`
	Pairs      []market.MarketPair `mapstructure:"pairs"`
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
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// MonitorConfig governs the polling loop.
type MonitorConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	Duration     time.Duration `mapstructure:"duration"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
}

// ValidationConfig bounds what counts as a usable quote.
type ValidationConfig struct {
	MinPrice float64       `mapstructure:"min_price"`
	MaxPrice float64       `mapstructure:"max_price"`
	MaxAge   time.Duration `mapstructure:"max_quote_age"`
}

// CostConfig captures the transaction cost model.
type CostConfig struct {
	GasFeePerTrade float64 `mapstructure:"gas_fee_per_trade"`
	FeeBasis       string  `mapstructure:"fee_basis"`
}

// CheckpointConfig governs crash-safe window snapshots.
type CheckpointConfig struct {
	Path            string        `mapstructure:"path"`
	Interval        time.Duration `mapstructure:"interval"`
	RecoveryTimeout time.Duration `mapstructure:"recovery_timeout"`
}

// RateLimitConfig tunes the backoff controller.
type RateLimitConfig struct {
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	FailureWindow   time.Duration `mapstructure:"failure_window"`
	AlertThreshold  int           `mapstructure:"alert_threshold"`
	AlertCooldown   time.Duration `mapstructure:"alert_cooldown"`
	ExtendThreshold int           `mapstructure:"extend_threshold"`
	ExtendCooldown  time.Duration `mapstructure:"extend_cooldown"`
	RelaxAfter      time.Duration `mapstructure:"relax_after"`
	RelaxEvery      time.Duration `mapstructure:"relax_every"`
}

// VenuesConfig covers the two upstream quote sources.
type VenuesConfig struct {
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Kalshi     KalshiConfig     `mapstructure:"kalshi"`
}

// PolymarketConfig captures Gamma API connectivity.
type PolymarketConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// KalshiConfig captures Kalshi trade API connectivity.
type KalshiConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	APIKey         string        `mapstructure:"api_key"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARBWATCH")
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
	v.SetDefault("app.name", "arbwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("monitor.interval", "30s")
	v.SetDefault("monitor.duration", "24h")
	v.SetDefault("monitor.startup_delay", "0s")

	v.SetDefault("validation.min_price", 0.01)
	v.SetDefault("validation.max_price", 0.99)
	v.SetDefault("validation.max_quote_age", "10s")

	v.SetDefault("costs.gas_fee_per_trade", 0.0)
	v.SetDefault("costs.fee_basis", "ask")

	v.SetDefault("checkpoint.path", "data/checkpoint.json")
	v.SetDefault("checkpoint.interval", "5m")
	v.SetDefault("checkpoint.recovery_timeout", "5m")

	v.SetDefault("ratelimit.max_interval", "10m")
	v.SetDefault("ratelimit.failure_window", "30m")
	v.SetDefault("ratelimit.alert_threshold", 3)
	v.SetDefault("ratelimit.alert_cooldown", "60s")
	v.SetDefault("ratelimit.extend_threshold", 5)
	v.SetDefault("ratelimit.extend_cooldown", "5m")
	v.SetDefault("ratelimit.relax_after", "30m")
	v.SetDefault("ratelimit.relax_every", "10m")

	v.SetDefault("venues.polymarket.base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("venues.polymarket.request_timeout", "10s")
	v.SetDefault("venues.polymarket.user_agent", "arbwatch/1.0")
	v.SetDefault("venues.kalshi.base_url", "https://api.elections.kalshi.com/trade-api/v2")
	v.SetDefault("venues.kalshi.request_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x61726277))
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

// Validate performs sanity checks on the configuration values. Malformed
// config is rejected here, at startup, never at first use.
func (c *Config) Validate() error {
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be greater than zero")
	}
	if c.Monitor.Duration < 0 {
		return fmt.Errorf("monitor.duration cannot be negative")
	}
	if c.Validation.MinPrice < 0 || c.Validation.MaxPrice > 1 || c.Validation.MinPrice >= c.Validation.MaxPrice {
		return fmt.Errorf("validation price bounds must satisfy 0 <= min < max <= 1")
	}
	if c.Validation.MaxAge <= 0 {
		return fmt.Errorf("validation.max_quote_age must be greater than zero")
	}
	if c.Costs.GasFeePerTrade < 0 {
		return fmt.Errorf("costs.gas_fee_per_trade cannot be negative")
	}
	switch c.Costs.FeeBasis {
	case "ask", "bid":
	default:
		return fmt.Errorf("costs.fee_basis must be %q or %q", "ask", "bid")
	}
	if c.Checkpoint.Path == "" {
		return fmt.Errorf("checkpoint.path is required")
	}
	if c.Checkpoint.Interval <= 0 {
		return fmt.Errorf("checkpoint.interval must be greater than zero")
	}
	if c.Checkpoint.RecoveryTimeout <= 0 {
		return fmt.Errorf("checkpoint.recovery_timeout must be greater than zero")
	}
	if c.RateLimit.AlertThreshold <= 0 {
		return fmt.Errorf("ratelimit.alert_threshold must be greater than zero")
	}
	if c.RateLimit.ExtendThreshold <= 0 {
		return fmt.Errorf("ratelimit.extend_threshold must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	seen := make(map[string]struct{}, len(c.Pairs))
	for i, pair := range c.Pairs {
		if pair.ID == "" {
			return fmt.Errorf("pairs[%d].id is required", i)
		}
		if _, dup := seen[pair.ID]; dup {
			return fmt.Errorf("pairs[%d].id %q duplicates an earlier pair", i, pair.ID)
		}
		seen[pair.ID] = struct{}{}
		if pair.PolymarketEvent == "" || pair.PolymarketMarketID == "" {
			return fmt.Errorf("pairs[%d] (%s) is missing polymarket identifiers", i, pair.ID)
		}
		if pair.KalshiEvent == "" || pair.KalshiMarketID == "" {
			return fmt.Errorf("pairs[%d] (%s) is missing kalshi identifiers", i, pair.ID)
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
