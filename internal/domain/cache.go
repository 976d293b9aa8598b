package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache provides fast access to the latest prices.
type PriceCache interface {
	SetPrice(ctx context.Context, marketID string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, marketID string) (decimal.Decimal, time.Time, error)
}

// OrderbookCache keeps the last fetched book of each market.
type OrderbookCache interface {
	SetSnapshot(ctx context.Context, book OrderBook) error
	GetSnapshot(ctx context.Context, marketID string) (OrderBook, error)
}

// MarketCache provides fast market metadata lookups.
type MarketCache interface {
	Set(ctx context.Context, market MarketInfo) error
	Get(ctx context.Context, id string) (MarketInfo, error)
	Invalidate(ctx context.Context, id string) error
}

// EventCache provides event lookups by event id and by outcome market id.
type EventCache interface {
	Set(ctx context.Context, event EventInfo) error
	GetByMarketID(ctx context.Context, marketID string) (EventInfo, error)
	Invalidate(ctx context.Context, eventID string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// EventBus publishes engine events for downstream consumers.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
