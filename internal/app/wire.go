package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	s3blob "github.com/alanyoungcy/propdesk/internal/blob/s3"
	"github.com/alanyoungcy/propdesk/internal/arbitrage"
	"github.com/alanyoungcy/propdesk/internal/cache/redis"
	"github.com/alanyoungcy/propdesk/internal/config"
	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/notify"
	"github.com/alanyoungcy/propdesk/internal/platform/kalshi"
	"github.com/alanyoungcy/propdesk/internal/platform/polymarket"
	"github.com/alanyoungcy/propdesk/internal/server/handler"
	"github.com/alanyoungcy/propdesk/internal/service"
	"github.com/alanyoungcy/propdesk/internal/store/memory"
	"github.com/alanyoungcy/propdesk/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional members are nil when their backend is disabled.
type Dependencies struct {
	// Stores
	Challenges domain.ChallengeStore
	Positions  domain.PositionStore
	Trades     domain.TradeStore
	Ledger     s3blob.LedgerSource
	Locker     domain.ChallengeLocker
	Audit      domain.AuditStore

	// Market data
	Markets *service.MarketDataService
	// EventResolvers maps each venue to its event source for the arbitrage guard.
	EventResolvers map[domain.Platform]arbitrage.EventResolver

	// Redis
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager
	Bus         domain.EventBus

	// Blob storage
	BlobReader domain.BlobReader
	Archiver   domain.LedgerArchiver

	// Notifications
	Notifier *notify.Notifier

	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	// --- Persistence ---
	switch cfg.Store {
	case "memory":
		logger.WarnContext(ctx, "using in-memory store, state is lost on restart")
		store := memory.New()
		deps.Challenges = store
		deps.Positions = store
		deps.Trades = store.Ledger()
		deps.Ledger = store.Ledger()
		deps.Locker = store
		deps.Audit = store
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		trades := postgres.NewTradeStore(pool)
		deps.Challenges = postgres.NewChallengeStore(pool)
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Trades = trades
		deps.Ledger = trades
		deps.Locker = postgres.NewLocker(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	}

	// --- Redis ---
	mdCfg := service.MarketDataConfig{
		BookMaxAge: cfg.Polymarket.BookMaxAge.Duration,
		Logger:     logger,
	}
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		mdCfg.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		mdCfg.BookCache = redis.NewOrderbookCache(redisClient, cfg.Redis.OrderbookTTL.Duration)
		mdCfg.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.MarketTTL.Duration)
		mdCfg.EventCache = redis.NewEventCache(redisClient, cfg.Redis.MarketTTL.Duration)
		mdCfg.PriceMaxAge = cfg.Redis.PriceTTL.Duration

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewEventBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		logger.WarnContext(ctx, "redis disabled, market data is not cached and the daily reset is not coordinated")
	}

	// --- Market data ---
	timeout := cfg.Polymarket.Timeout.Duration
	mdCfg.Markets = polymarket.NewGammaClient(cfg.Polymarket.GammaHost, cfg.Polymarket.RequestsPerSecond, timeout)
	mdCfg.Books = polymarket.NewClobClient(cfg.Polymarket.ClobHost, cfg.Polymarket.RequestsPerSecond, timeout)
	deps.Markets = service.NewMarketDataService(mdCfg)
	deps.EventResolvers = map[domain.Platform]arbitrage.EventResolver{
		domain.PlatformPolymarket: deps.Markets,
	}

	if cfg.Kalshi.Enabled {
		kc := kalshi.NewClient(cfg.Kalshi.BaseURL, cfg.Kalshi.APIKeyID, cfg.Kalshi.RequestsPerSecond, cfg.Kalshi.Timeout.Duration)
		if cfg.Kalshi.PrivateKeyPath != "" {
			pemBytes, err := os.ReadFile(cfg.Kalshi.PrivateKeyPath)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: kalshi private key: %w", err)
			}
			if err := kc.SetRSAPrivateKey(pemBytes); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: %w", err)
			}
		}
		deps.EventResolvers[domain.PlatformKalshi] = kc
	}

	// --- S3 ledger archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.Challenges,
			deps.Positions,
			deps.Ledger,
			deps.Audit,
		)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
