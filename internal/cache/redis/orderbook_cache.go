package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// OrderbookCache implements domain.OrderbookCache using Redis sorted sets and
// hashes for each market's YES book.
//
// Key schema:
//
//	book:{marketID}:bids     - sorted set of bid prices (score = price)
//	book:{marketID}:asks     - sorted set of ask prices (score = price)
//	book:{marketID}:bid:size - hash mapping price -> size for bids
//	book:{marketID}:ask:size - hash mapping price -> size for asks
//	book:{marketID}:meta     - hash with "ts" field (snapshot timestamp)
//
// Prices and sizes are stored as decimal strings; scores only order levels.
type OrderbookCache struct {
	c   *Client
	ttl time.Duration
}

// NewOrderbookCache creates an OrderbookCache backed by the given Client.
func NewOrderbookCache(c *Client, ttl time.Duration) *OrderbookCache {
	return &OrderbookCache{c: c, ttl: ttl}
}

func (oc *OrderbookCache) keys(marketID string) (bids, asks, bidSize, askSize, meta string) {
	base := oc.c.key("book:", marketID)
	return base + ":bids", base + ":asks", base + ":bid:size", base + ":ask:size", base + ":meta"
}

// SetSnapshot atomically replaces the stored book of a market.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, book domain.OrderBook) error {
	bidsKey, asksKey, bidSizeKey, askSizeKey, metaKey := oc.keys(book.MarketID)

	pipe := oc.c.rdb.TxPipeline()
	pipe.Del(ctx, bidsKey, asksKey, bidSizeKey, askSizeKey, metaKey)

	for _, lvl := range book.Bids {
		p := lvl.Price.String()
		pipe.ZAdd(ctx, bidsKey, redis.Z{Score: lvl.Price.InexactFloat64(), Member: p})
		pipe.HSet(ctx, bidSizeKey, p, lvl.Size.String())
	}
	for _, lvl := range book.Asks {
		p := lvl.Price.String()
		pipe.ZAdd(ctx, asksKey, redis.Z{Score: lvl.Price.InexactFloat64(), Member: p})
		pipe.HSet(ctx, askSizeKey, p, lvl.Size.String())
	}
	pipe.HSet(ctx, metaKey, "ts", strconv.FormatInt(book.Timestamp.UnixNano(), 10))

	if oc.ttl > 0 {
		for _, k := range []string{bidsKey, asksKey, bidSizeKey, askSizeKey, metaKey} {
			pipe.Expire(ctx, k, oc.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set orderbook snapshot %s: %w", book.MarketID, err)
	}
	return nil
}

// GetSnapshot reconstructs a market's book, bids highest first and asks
// lowest first. It returns domain.ErrNotFound if no snapshot exists.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, marketID string) (domain.OrderBook, error) {
	bidsKey, asksKey, bidSizeKey, askSizeKey, metaKey := oc.keys(marketID)

	pipe := oc.c.rdb.Pipeline()
	bidsCmd := pipe.ZRevRange(ctx, bidsKey, 0, -1)
	asksCmd := pipe.ZRange(ctx, asksKey, 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, bidSizeKey)
	askSizeCmd := pipe.HGetAll(ctx, askSizeKey)
	metaCmd := pipe.HGetAll(ctx, metaKey)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.OrderBook{}, fmt.Errorf("redis: get orderbook snapshot %s: %w", marketID, err)
	}

	meta, _ := metaCmd.Result()
	tsStr, ok := meta["ts"]
	if !ok {
		return domain.OrderBook{}, domain.ErrNotFound
	}
	book := domain.OrderBook{MarketID: marketID}
	if ns, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
		book.Timestamp = time.Unix(0, ns).UTC()
	}

	book.Bids = levels(bidsCmd.Val(), bidSizeCmd.Val())
	book.Asks = levels(asksCmd.Val(), askSizeCmd.Val())
	return book, nil
}

func levels(prices []string, sizes map[string]string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(prices))
	for _, p := range prices {
		out = append(out, domain.PriceLevel{
			Price: domain.ParseDecimal(p),
			Size:  domain.ParseDecimal(sizes[p]),
		})
	}
	return out
}

// Compile-time interface check.
var _ domain.OrderbookCache = (*OrderbookCache)(nil)
