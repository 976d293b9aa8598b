package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PROPDESK_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		// [[tiers]] in the file replace the default list as a whole.
		tiers := cfg.Tiers
		cfg.Tiers = nil
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
		if len(cfg.Tiers) == 0 {
			cfg.Tiers = tiers
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PROPDESK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Store, "PROPDESK_STORE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PROPDESK_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PROPDESK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PROPDESK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PROPDESK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PROPDESK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PROPDESK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PROPDESK_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PROPDESK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PROPDESK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PROPDESK_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PROPDESK_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PROPDESK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PROPDESK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PROPDESK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PROPDESK_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "PROPDESK_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "PROPDESK_REDIS_KEY_PREFIX")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "PROPDESK_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.ClobHost, "PROPDESK_POLYMARKET_CLOB_HOST")
	setFloat64(&cfg.Polymarket.RequestsPerSecond, "PROPDESK_POLYMARKET_REQUESTS_PER_SECOND")
	setDuration(&cfg.Polymarket.Timeout, "PROPDESK_POLYMARKET_TIMEOUT")

	// ── Kalshi ──
	setBool(&cfg.Kalshi.Enabled, "PROPDESK_KALSHI_ENABLED")
	setStr(&cfg.Kalshi.BaseURL, "PROPDESK_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.APIKeyID, "PROPDESK_KALSHI_API_KEY_ID")
	setStr(&cfg.Kalshi.PrivateKeyPath, "PROPDESK_KALSHI_PRIVATE_KEY_PATH")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PROPDESK_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PROPDESK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PROPDESK_S3_REGION")
	setStr(&cfg.S3.Bucket, "PROPDESK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PROPDESK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PROPDESK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PROPDESK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PROPDESK_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "PROPDESK_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "PROPDESK_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "PROPDESK_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "PROPDESK_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PROPDESK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PROPDESK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PROPDESK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PROPDESK_NOTIFY_EVENTS")

	// ── Engine ──
	setFloat64(&cfg.Engine.MaxSlippage, "PROPDESK_ENGINE_MAX_SLIPPAGE")
	setFloat64(&cfg.Engine.FeeRate, "PROPDESK_ENGINE_FEE_RATE")
	setDuration(&cfg.Engine.PendingFailureGrace, "PROPDESK_ENGINE_PENDING_FAILURE_GRACE")
	setDuration(&cfg.Engine.SweepInterval, "PROPDESK_ENGINE_SWEEP_INTERVAL")
	setInt(&cfg.Engine.SweepConcurrency, "PROPDESK_ENGINE_SWEEP_CONCURRENCY")
	setBool(&cfg.Engine.SettleResolved, "PROPDESK_ENGINE_SETTLE_RESOLVED")

	// ── Top-level ──
	setStr(&cfg.Mode, "PROPDESK_MODE")
	setStr(&cfg.LogLevel, "PROPDESK_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
