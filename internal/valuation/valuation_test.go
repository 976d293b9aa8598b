package valuation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDirectionAdjustedPrice(t *testing.T) {
	assert.True(t, DirectionAdjustedPrice(d("0.68"), domain.DirectionYes).Equal(d("0.68")))
	assert.True(t, DirectionAdjustedPrice(d("0.68"), domain.DirectionNo).Equal(d("0.32")))
}

func TestPositionMetrics(t *testing.T) {
	m := PositionMetrics(d("100"), d("0.30"), d("0.60"), domain.DirectionNo)
	assert.True(t, m.EffectivePrice.Equal(d("0.40")))
	assert.True(t, m.PositionValue.Equal(d("40")))
	assert.True(t, m.UnrealizedPnL.Equal(d("10")))

	m = PositionMetrics(d("50"), d("0.50"), d("0.40"), domain.DirectionYes)
	assert.True(t, m.UnrealizedPnL.Equal(d("-5")))
}

func TestPortfolioValueSourceSelection(t *testing.T) {
	positions := []domain.Position{
		{ID: "live", MarketID: "m1", Direction: domain.DirectionYes, Shares: d("100"), EntryPrice: d("0.50"), CurrentPrice: d("0.55")},
		{ID: "band", MarketID: "m2", Direction: domain.DirectionYes, Shares: d("100"), EntryPrice: d("0.50"), CurrentPrice: d("0.55")},
		{ID: "entry", MarketID: "m3", Direction: domain.DirectionNo, Shares: d("10"), EntryPrice: d("0.20")},
		{ID: "empty", MarketID: "m4", Direction: domain.DirectionYes, Shares: decimal.Zero, EntryPrice: d("0.50")},
	}
	live := map[string]decimal.Decimal{
		"m1": d("0.60"),
		"m2": d("0.995"),
		"m3": d("0.005"),
	}

	pf := PortfolioValue(positions, live)
	require.Len(t, pf.Positions, 3)

	assert.Equal(t, SourceLive, pf.Positions[0].Source)
	assert.True(t, pf.Positions[0].Value.Equal(d("60")))

	assert.Equal(t, SourceStored, pf.Positions[1].Source)
	assert.True(t, pf.Positions[1].Value.Equal(d("55")))

	assert.Equal(t, SourceEntry, pf.Positions[2].Source)
	assert.True(t, pf.Positions[2].Value.Equal(d("2")))

	assert.True(t, pf.TotalValue.Equal(d("117")))
}

func TestPortfolioValueBandIsExclusive(t *testing.T) {
	positions := []domain.Position{
		{ID: "p", MarketID: "m", Direction: domain.DirectionYes, Shares: d("10"), EntryPrice: d("0.50"), CurrentPrice: d("0.40")},
	}
	pf := PortfolioValue(positions, map[string]decimal.Decimal{"m": d("0.01")})
	assert.Equal(t, SourceStored, pf.Positions[0].Source)

	pf = PortfolioValue(positions, map[string]decimal.Decimal{"m": d("0.99")})
	assert.Equal(t, SourceStored, pf.Positions[0].Source)

	// A garbage upstream price parses to zero and falls back.
	pf = PortfolioValue(positions, map[string]decimal.Decimal{"m": domain.ParseDecimal("NaN")})
	assert.Equal(t, SourceStored, pf.Positions[0].Source)
}

func TestStoredValue(t *testing.T) {
	positions := []domain.Position{
		{MarketID: "a", Direction: domain.DirectionYes, Shares: d("10"), EntryPrice: d("0.5"), CurrentPrice: d("0.6")},
		{MarketID: "b", Direction: domain.DirectionNo, Shares: d("10"), EntryPrice: d("0.3")},
	}
	assert.True(t, StoredValue(positions).Equal(d("9")))
}
