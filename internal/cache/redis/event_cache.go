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

// EventCache implements domain.EventCache using Redis hashes with JSON-
// serialized events and a secondary market-to-event index.
//
// Key schema:
//
//	event:{id}             - hash with field "data" containing JSON
//	event:mkt:{marketID}   - string value of the event ID
type EventCache struct {
	c   *Client
	ttl time.Duration
}

// NewEventCache creates an EventCache backed by the given Client.
func NewEventCache(c *Client, ttl time.Duration) *EventCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &EventCache{c: c, ttl: ttl}
}

// Set stores an event and indexes it under each of its outcome markets.
func (ec *EventCache) Set(ctx context.Context, event domain.EventInfo) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event %s: %w", event.EventID, err)
	}

	key := ec.c.key("event:", event.EventID)

	pipe := ec.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, ec.ttl)
	for _, marketID := range event.Outcomes {
		pipe.Set(ctx, ec.c.key("event:mkt:", marketID), event.EventID, ec.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set event %s: %w", event.EventID, err)
	}
	return nil
}

// Get retrieves an event by its ID.
// It returns domain.ErrNotFound when the key does not exist.
func (ec *EventCache) Get(ctx context.Context, id string) (domain.EventInfo, error) {
	data, err := ec.c.rdb.HGet(ctx, ec.c.key("event:", id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.EventInfo{}, domain.ErrNotFound
		}
		return domain.EventInfo{}, fmt.Errorf("redis: get event %s: %w", id, err)
	}

	var event domain.EventInfo
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.EventInfo{}, fmt.Errorf("redis: unmarshal event %s: %w", id, err)
	}
	return event, nil
}

// GetByMarketID looks up an event by one of its outcome market IDs.
// It returns domain.ErrNotFound if the mapping or event does not exist.
func (ec *EventCache) GetByMarketID(ctx context.Context, marketID string) (domain.EventInfo, error) {
	eventID, err := ec.c.rdb.Get(ctx, ec.c.key("event:mkt:", marketID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.EventInfo{}, domain.ErrNotFound
		}
		return domain.EventInfo{}, fmt.Errorf("redis: get event by market %s: %w", marketID, err)
	}
	return ec.Get(ctx, eventID)
}

// Invalidate removes an event from the cache. Market index entries expire on
// their own.
func (ec *EventCache) Invalidate(ctx context.Context, eventID string) error {
	if err := ec.c.rdb.Del(ctx, ec.c.key("event:", eventID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate event %s: %w", eventID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.EventCache = (*EventCache)(nil)
