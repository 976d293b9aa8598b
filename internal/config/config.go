// Package config defines the top-level configuration for propdesk and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PROPDESK_* environment variables.
type Config struct {
	Store      string           `toml:"store"` // "postgres" or "memory"
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Kalshi     KalshiConfig     `toml:"kalshi"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Engine     EngineConfig     `toml:"engine"`
	Tiers      []TierConfig     `toml:"tiers"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns"`
	MaxConnLifetime duration `toml:"max_conn_lifetime"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Without Redis the engine
// reads market data straight from the venue and runs a single sweeper.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`

	PriceTTL     duration `toml:"price_ttl"`
	OrderbookTTL duration `toml:"orderbook_ttl"`
	MarketTTL    duration `toml:"market_ttl"`
}

// PolymarketConfig holds the read-only Polymarket API endpoints.
type PolymarketConfig struct {
	GammaHost         string   `toml:"gamma_host"`
	ClobHost          string   `toml:"clob_host"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Timeout           duration `toml:"timeout"`
	// BookMaxAge bounds how old a cached book may be when the live fetch fails.
	BookMaxAge duration `toml:"book_max_age"`
}

// KalshiConfig enables Kalshi event lookups for the arbitrage guard. Trades
// tagged with the kalshi platform are checked against Kalshi events.
type KalshiConfig struct {
	Enabled           bool     `toml:"enabled"`
	BaseURL           string   `toml:"base_url"`
	APIKeyID          string   `toml:"api_key_id"`
	PrivateKeyPath    string   `toml:"private_key_path"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Timeout           duration `toml:"timeout"`
}

// S3Config holds S3-compatible object storage parameters for ledger archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	APIKey          string   `toml:"api_key"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPI       string   `toml:"telegram_api"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// EngineConfig holds the execution and evaluation parameters shared by all
// challenges.
type EngineConfig struct {
	MaxSlippage         float64  `toml:"max_slippage"`
	FeeRate             float64  `toml:"fee_rate"`
	ResolvedHigh        float64  `toml:"resolved_high"`
	ResolvedLow         float64  `toml:"resolved_low"`
	IdempotencyTTL      duration `toml:"idempotency_ttl"`
	PendingFailureGrace duration `toml:"pending_failure_grace"`
	SweepInterval       duration `toml:"sweep_interval"`
	SweepConcurrency    int      `toml:"sweep_concurrency"`
	ArchiveBatch        int      `toml:"archive_batch"`
	SettleResolved      bool     `toml:"settle_resolved"`
}

// TierConfig is one purchasable challenge size and the rules it is created with.
// Percentages are fractions (0.10 = 10%).
type TierConfig struct {
	Name                        string  `toml:"name"`
	StartingBalance             float64 `toml:"starting_balance"`
	ProfitTargetPercent         float64 `toml:"profit_target_percent"`
	MaxTotalDrawdownPercent     float64 `toml:"max_total_drawdown_percent"`
	MaxDailyDrawdownPercent     float64 `toml:"max_daily_drawdown_percent"`
	MaxPositionSizePercent      float64 `toml:"max_position_size_percent"`
	MaxCategoryExposurePercent  float64 `toml:"max_category_exposure_percent"`
	MinMarketVolume             float64 `toml:"min_market_volume"`
	LowVolumeThreshold          float64 `toml:"low_volume_threshold"`
	LowVolumeMaxPositionPercent float64 `toml:"low_volume_max_position_percent"`
	MaxVolumeImpactPercent      float64 `toml:"max_volume_impact_percent"`
	MaxOpenPositions            int     `toml:"max_open_positions"`
	DurationDays                int     `toml:"duration_days"`
}

// Rules converts the tier to the immutable rules a challenge is created with.
func (t TierConfig) Rules() domain.RulesConfig {
	return domain.RulesConfig{
		MaxTotalDrawdownPercent:     domain.DecimalFromFloat(t.MaxTotalDrawdownPercent),
		MaxDailyDrawdownPercent:     domain.DecimalFromFloat(t.MaxDailyDrawdownPercent),
		ProfitTargetPercent:         domain.DecimalFromFloat(t.ProfitTargetPercent),
		MaxPositionSizePercent:      domain.DecimalFromFloat(t.MaxPositionSizePercent),
		MaxCategoryExposurePercent:  domain.DecimalFromFloat(t.MaxCategoryExposurePercent),
		MinMarketVolume:             domain.DecimalFromFloat(t.MinMarketVolume),
		LowVolumeThreshold:          domain.DecimalFromFloat(t.LowVolumeThreshold),
		LowVolumeMaxPositionPercent: domain.DecimalFromFloat(t.LowVolumeMaxPositionPercent),
		MaxVolumeImpactPercent:      domain.DecimalFromFloat(t.MaxVolumeImpactPercent),
		MaxOpenPositions:            t.MaxOpenPositions,
		DurationDays:                t.DurationDays,
	}.WithThresholds(domain.DecimalFromFloat(t.StartingBalance))
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func defaultTier(name string, balance float64) TierConfig {
	return TierConfig{
		Name:                        name,
		StartingBalance:             balance,
		ProfitTargetPercent:         0.10,
		MaxTotalDrawdownPercent:     0.10,
		MaxDailyDrawdownPercent:     0.05,
		MaxPositionSizePercent:      0.05,
		MaxCategoryExposurePercent:  0.10,
		MinMarketVolume:             50_000,
		LowVolumeThreshold:          250_000,
		LowVolumeMaxPositionPercent: 0.025,
		MaxVolumeImpactPercent:      0.10,
		DurationDays:                30,
	}
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Store: "postgres",
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "propdesk",
			User:            "postgres",
			SSLMode:         "disable",
			PoolMaxConns:    10,
			PoolMinConns:    2,
			MaxConnLifetime: duration{30 * time.Minute},
			RunMigrations:   true,
		},
		Redis: RedisConfig{
			Enabled:      true,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "propdesk:",
			PriceTTL:     duration{30 * time.Second},
			OrderbookTTL: duration{30 * time.Second},
			MarketTTL:    duration{5 * time.Minute},
		},
		Polymarket: PolymarketConfig{
			GammaHost:         "https://gamma-api.polymarket.com",
			ClobHost:          "https://clob.polymarket.com",
			RequestsPerSecond: 10,
			Timeout:           duration{10 * time.Second},
			BookMaxAge:        duration{5 * time.Second},
		},
		Kalshi: KalshiConfig{
			BaseURL:           "https://api.elections.kalshi.com/trade-api/v2",
			RequestsPerSecond: 10,
			Timeout:           duration{10 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "propdesk-ledgers",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"challenge_failed", "challenge_passed", "challenge_funded", "challenge_pending_failure"},
		},
		Engine: EngineConfig{
			MaxSlippage:         0.05,
			FeeRate:             0,
			ResolvedHigh:        0.95,
			ResolvedLow:         0.05,
			IdempotencyTTL:      duration{10 * time.Minute},
			PendingFailureGrace: duration{24 * time.Hour},
			SweepInterval:       duration{time.Minute},
			SweepConcurrency:    8,
			ArchiveBatch:        50,
			SettleResolved:      true,
		},
		Tiers: []TierConfig{
			defaultTier("5k", 5_000),
			defaultTier("10k", 10_000),
			defaultTier("25k", 25_000),
			defaultTier("50k", 50_000),
			defaultTier("100k", 100_000),
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// Tier returns the tier named name.
func (c *Config) Tier(name string) (TierConfig, bool) {
	for _, t := range c.Tiers {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return TierConfig{}, false
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"sweeper": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, sweeper, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	switch c.Store {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown store %q (valid: postgres, memory)", c.Store))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Polymarket.GammaHost == "" || c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: gamma_host and clob_host must not be empty")
	}
	if c.Kalshi.Enabled {
		if c.Kalshi.BaseURL == "" {
			errs = append(errs, "kalshi: base_url must not be empty")
		}
		if c.Kalshi.PrivateKeyPath != "" && c.Kalshi.APIKeyID == "" {
			errs = append(errs, "kalshi: api_key_id is required with private_key_path")
		}
	}
	if c.Polymarket.RequestsPerSecond <= 0 {
		errs = append(errs, "polymarket: requests_per_second must be > 0")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	e := c.Engine
	if e.MaxSlippage < 0 || e.MaxSlippage >= 1 {
		errs = append(errs, "engine: max_slippage must be in [0, 1)")
	}
	if e.FeeRate < 0 || e.FeeRate >= 1 {
		errs = append(errs, "engine: fee_rate must be in [0, 1)")
	}
	if e.ResolvedLow <= 0 || e.ResolvedHigh >= 1 || e.ResolvedLow >= e.ResolvedHigh {
		errs = append(errs, "engine: require 0 < resolved_low < resolved_high < 1")
	}
	if e.SweepInterval.Duration <= 0 {
		errs = append(errs, "engine: sweep_interval must be > 0")
	}
	if e.SweepConcurrency < 1 {
		errs = append(errs, "engine: sweep_concurrency must be >= 1")
	}

	if len(c.Tiers) == 0 {
		errs = append(errs, "tiers: at least one tier is required")
	}
	seen := make(map[string]bool, len(c.Tiers))
	for i, t := range c.Tiers {
		name := strings.ToLower(t.Name)
		if name == "" {
			errs = append(errs, fmt.Sprintf("tiers[%d]: name must not be empty", i))
		} else if seen[name] {
			errs = append(errs, fmt.Sprintf("tiers[%d]: duplicate name %q", i, t.Name))
		}
		seen[name] = true
		if t.StartingBalance <= 0 {
			errs = append(errs, fmt.Sprintf("tiers[%d]: starting_balance must be > 0", i))
		}
		for _, p := range []struct {
			field string
			v     float64
		}{
			{"profit_target_percent", t.ProfitTargetPercent},
			{"max_total_drawdown_percent", t.MaxTotalDrawdownPercent},
			{"max_daily_drawdown_percent", t.MaxDailyDrawdownPercent},
		} {
			if p.v <= 0 || p.v >= 1 {
				errs = append(errs, fmt.Sprintf("tiers[%d]: %s must be in (0, 1)", i, p.field))
			}
		}
		if t.DurationDays < 1 {
			errs = append(errs, fmt.Sprintf("tiers[%d]: duration_days must be >= 1", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
