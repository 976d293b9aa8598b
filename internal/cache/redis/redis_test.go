package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// newTestClient connects to the Redis named by PROPDESK_TEST_REDIS_ADDR and
// isolates the test under a random key prefix.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("PROPDESK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PROPDESK_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, KeyPrefix: "test:" + uuid.NewString() + ":"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPriceCacheRoundTrip(t *testing.T) {
	c := newTestClient(t)
	pc := NewPriceCache(c, time.Minute)
	ctx := context.Background()

	_, _, err := pc.GetPrice(ctx, "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, pc.SetPrice(ctx, "m1", decimal.RequireFromString("0.615"), ts))
	price, got, err := pc.GetPrice(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("0.615")))
	assert.True(t, got.Equal(ts))
}

func TestOrderbookCacheOrdersLevels(t *testing.T) {
	c := newTestClient(t)
	oc := NewOrderbookCache(c, time.Minute)
	ctx := context.Background()

	book := domain.OrderBook{
		MarketID: "m1",
		Bids: []domain.PriceLevel{
			{Price: decimal.RequireFromString("0.60"), Size: decimal.RequireFromString("10")},
			{Price: decimal.RequireFromString("0.62"), Size: decimal.RequireFromString("5.5")},
		},
		Asks: []domain.PriceLevel{
			{Price: decimal.RequireFromString("0.66"), Size: decimal.RequireFromString("7")},
			{Price: decimal.RequireFromString("0.64"), Size: decimal.RequireFromString("3")},
		},
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, oc.SetSnapshot(ctx, book))

	got, err := oc.GetSnapshot(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, got.Bids, 2)
	require.Len(t, got.Asks, 2)
	assert.True(t, got.Bids[0].Price.Equal(decimal.RequireFromString("0.62")))
	assert.True(t, got.Bids[0].Size.Equal(decimal.RequireFromString("5.5")))
	assert.True(t, got.Asks[0].Price.Equal(decimal.RequireFromString("0.64")))

	_, err = oc.GetSnapshot(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEventCacheIndexesOutcomes(t *testing.T) {
	c := newTestClient(t)
	ec := NewEventCache(c, time.Minute)
	ctx := context.Background()

	ev := domain.EventInfo{EventID: "e1", Outcomes: []string{"a", "b", "c"}, IsMultiOutcome: true}
	require.NoError(t, ec.Set(ctx, ev))

	got, err := ec.GetByMarketID(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	require.NoError(t, ec.Invalidate(ctx, "e1"))
	_, err = ec.GetByMarketID(ctx, "b")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockManagerExclusive(t *testing.T) {
	c := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "daily-reset", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "daily-reset", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	again, err := lm.Acquire(ctx, "daily-reset", time.Minute)
	require.NoError(t, err)
	again()
}

func TestRateLimiterWindow(t *testing.T) {
	c := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "u1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "u1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "u2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
