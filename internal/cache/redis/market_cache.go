package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// MarketCache implements domain.MarketCache using Redis hashes with JSON-
// serialized market metadata and a secondary token-to-market index.
//
// Key schema:
//
//	market:{id}            - hash with field "data" containing JSON
//	market:token:{tokenID} - string value of the market ID
type MarketCache struct {
	c   *Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MarketCache{c: c, ttl: ttl}
}

func tokenIDs(m domain.MarketInfo) []string {
	var out []string
	for _, t := range []string{m.YesTokenID, m.NoTokenID} {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Set stores market metadata and indexes both of its token IDs.
func (mc *MarketCache) Set(ctx context.Context, market domain.MarketInfo) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.ID, err)
	}

	key := mc.c.key("market:", market.ID)

	pipe := mc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, mc.ttl)
	for _, tok := range tokenIDs(market) {
		pipe.Set(ctx, mc.c.key("market:token:", tok), market.ID, mc.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.ID, err)
	}
	return nil
}

// Get retrieves market metadata by ID.
// It returns domain.ErrNotFound when the key does not exist.
func (mc *MarketCache) Get(ctx context.Context, id string) (domain.MarketInfo, error) {
	data, err := mc.c.rdb.HGet(ctx, mc.c.key("market:", id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketInfo{}, domain.ErrNotFound
		}
		return domain.MarketInfo{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}

	var market domain.MarketInfo
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.MarketInfo{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return market, nil
}

// GetByToken looks up a market by one of its outcome token IDs.
func (mc *MarketCache) GetByToken(ctx context.Context, tokenID string) (domain.MarketInfo, error) {
	marketID, err := mc.c.rdb.Get(ctx, mc.c.key("market:token:", tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketInfo{}, domain.ErrNotFound
		}
		return domain.MarketInfo{}, fmt.Errorf("redis: get market by token %s: %w", tokenID, err)
	}
	return mc.Get(ctx, marketID)
}

// Invalidate removes a market and its token index entries.
func (mc *MarketCache) Invalidate(ctx context.Context, id string) error {
	market, err := mc.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}

	pipe := mc.c.rdb.TxPipeline()
	pipe.Del(ctx, mc.c.key("market:", id))
	if err == nil {
		for _, tok := range tokenIDs(market) {
			pipe.Del(ctx, mc.c.key("market:token:", tok))
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
