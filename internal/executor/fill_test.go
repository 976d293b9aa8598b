package executor

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func book(bids, asks [][2]string) domain.OrderBook {
	b := domain.OrderBook{MarketID: "m1", Timestamp: time.Now()}
	for _, l := range bids {
		b.Bids = append(b.Bids, domain.PriceLevel{Price: dec(l[0]), Size: dec(l[1])})
	}
	for _, l := range asks {
		b.Asks = append(b.Asks, domain.PriceLevel{Price: dec(l[0]), Size: dec(l[1])})
	}
	return b
}

var tightBook = book([][2]string{{"0.68", "1000"}}, [][2]string{{"0.70", "1000"}})

func TestQuoteBuyYesTakesAsk(t *testing.T) {
	fill, err := Quote(tightBook, domain.SideBuy, domain.DirectionYes, dec("50"), decimal.Zero, dec("0.05"))
	require.NoError(t, err)
	assert.True(t, fill.Price.Equal(dec("0.70")), "price %s", fill.Price)
	assert.True(t, fill.Shares.Equal(dec("71.428571")), "shares %s", fill.Shares)
	assert.True(t, fill.Amount.Equal(dec("50")))
	assert.True(t, fill.BestPrice.Equal(dec("0.70")))
}

func TestQuoteBuyNoTakesInvertedBid(t *testing.T) {
	fill, err := Quote(tightBook, domain.SideBuy, domain.DirectionNo, dec("50"), decimal.Zero, dec("0.05"))
	require.NoError(t, err)
	assert.True(t, fill.Price.Equal(dec("0.32")), "price %s", fill.Price)
	assert.True(t, fill.Shares.Equal(dec("156.25")))
}

func TestQuoteSell(t *testing.T) {
	t.Run("YES hits bid", func(t *testing.T) {
		fill, err := Quote(tightBook, domain.SideSell, domain.DirectionYes, decimal.Zero, dec("100"), dec("0.05"))
		require.NoError(t, err)
		assert.True(t, fill.Price.Equal(dec("0.68")))
		assert.True(t, fill.Amount.Equal(dec("68")))
	})
	t.Run("NO lifts inverted ask", func(t *testing.T) {
		fill, err := Quote(tightBook, domain.SideSell, domain.DirectionNo, decimal.Zero, dec("100"), dec("0.05"))
		require.NoError(t, err)
		assert.True(t, fill.Price.Equal(dec("0.30")))
		assert.True(t, fill.Amount.Equal(dec("30")))
	})
}

func TestQuoteWalksLevelsWithinSlippage(t *testing.T) {
	b := book(nil, [][2]string{{"0.72", "1000"}, {"0.70", "10"}})
	fill, err := Quote(b, domain.SideBuy, domain.DirectionYes, dec("50"), decimal.Zero, dec("0.05"))
	require.NoError(t, err)
	// 10 shares at 0.70 then the rest at 0.72.
	assert.True(t, fill.BestPrice.Equal(dec("0.70")))
	assert.True(t, fill.Price.GreaterThan(dec("0.70")))
	assert.True(t, fill.Price.LessThan(dec("0.72")))
	assert.True(t, fill.Shares.Equal(dec("69.722222")), "shares %s", fill.Shares)
}

func TestQuoteRejectsBeyondSlippage(t *testing.T) {
	b := book(nil, [][2]string{{"0.70", "10"}, {"0.80", "1000"}})
	_, err := Quote(b, domain.SideBuy, domain.DirectionYes, dec("50"), decimal.Zero, dec("0.05"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLiquidity)
	assert.Contains(t, err.Error(), "$7.00")
}

func TestQuoteSellRejectsThinBook(t *testing.T) {
	b := book([][2]string{{"0.60", "40"}}, nil)
	_, err := Quote(b, domain.SideSell, domain.DirectionYes, decimal.Zero, dec("100"), dec("0.05"))
	assert.ErrorIs(t, err, domain.ErrLiquidity)
	assert.Contains(t, err.Error(), "40 shares")
}

func TestQuoteEmptySide(t *testing.T) {
	b := book([][2]string{{"0.40", "100"}}, nil)
	_, err := Quote(b, domain.SideBuy, domain.DirectionYes, dec("10"), decimal.Zero, dec("0.05"))
	assert.ErrorIs(t, err, domain.ErrLiquidity)
}

func TestQuoteIgnoresInvalidLevels(t *testing.T) {
	b := book(nil, [][2]string{{"0", "100"}, {"1", "100"}, {"0.50", "0"}, {"0.55", "100"}})
	fill, err := Quote(b, domain.SideBuy, domain.DirectionYes, dec("11"), decimal.Zero, dec("0.05"))
	require.NoError(t, err)
	assert.True(t, fill.BestPrice.Equal(dec("0.55")))
	assert.True(t, fill.Shares.Equal(dec("20")))
}
