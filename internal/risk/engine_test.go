package risk

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/platform/fake"
	"github.com/alanyoungcy/propdesk/internal/store/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testRules() domain.RulesConfig {
	return domain.RulesConfig{
		MaxTotalDrawdownPercent:     dec("0.10"),
		MaxDailyDrawdownPercent:     dec("0.05"),
		ProfitTargetPercent:         dec("0.10"),
		MaxPositionSizePercent:      dec("0.05"),
		MaxCategoryExposurePercent:  dec("0.10"),
		MinMarketVolume:             dec("100000"),
		LowVolumeThreshold:          dec("1000000"),
		LowVolumeMaxPositionPercent: dec("0.025"),
		DurationDays:                30,
	}.WithThresholds(dec("10000"))
}

type fixture struct {
	store  *memory.Store
	market *fake.Market
	engine *Engine
}

func newFixture(t *testing.T, mutate func(c *domain.Challenge)) *fixture {
	t.Helper()
	c := domain.Challenge{
		ID:                "c1",
		Owner:             "u1",
		Phase:             domain.PhaseChallenge,
		Status:            domain.ChallengeActive,
		StartingBalance:   dec("10000"),
		CurrentBalance:    dec("10000"),
		StartOfDayBalance: dec("10000"),
		HighWaterMark:     dec("10000"),
		Rules:             testRules(),
		StartedAt:         time.Now(),
	}
	if mutate != nil {
		mutate(&c)
	}
	s := memory.New()
	require.NoError(t, s.Create(context.Background(), c))

	m := fake.NewMarket()
	m.SetMarket(domain.MarketInfo{ID: "m1", Volume: dec("5000000"), Categories: []string{"politics"}})
	m.SetMarket(domain.MarketInfo{ID: "m2", Volume: dec("5000000"), Categories: []string{"politics"}})
	m.SetMarket(domain.MarketInfo{ID: "m3", Volume: dec("5000000"), Categories: []string{"sports"}})
	m.SetMarket(domain.MarketInfo{ID: "thin", Volume: dec("50000")})
	m.SetMarket(domain.MarketInfo{ID: "mid", Volume: dec("500000")})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{store: s, market: m, engine: NewEngine(s, s, m, logger)}
}

func (f *fixture) open(t *testing.T, id, marketID string, dir domain.Direction, size, shares, price string) {
	t.Helper()
	err := f.store.WithChallengeLock(context.Background(), "c1", func(ctx context.Context, tx domain.ChallengeTx) error {
		c := tx.Challenge()
		c.CurrentBalance = c.CurrentBalance.Sub(dec(size))
		if err := tx.UpdateChallenge(ctx, c); err != nil {
			return err
		}
		return tx.CreatePosition(ctx, domain.Position{
			ID: id, ChallengeID: "c1", MarketID: marketID, Direction: dir,
			SizeAmount: dec(size), Shares: dec(shares), EntryPrice: dec(price), CurrentPrice: dec(price),
			Status: domain.PositionOpen, OpenedAt: time.Now(),
		})
	})
	require.NoError(t, err)
}

func (f *fixture) validate(t *testing.T, marketID, amount string) Decision {
	t.Helper()
	d, err := f.engine.ValidateTrade(context.Background(), TradeRequest{
		ChallengeID: "c1", MarketID: marketID, Amount: dec(amount), Direction: domain.DirectionYes,
	})
	require.NoError(t, err)
	return d
}

func TestValidateTradeAllowsPlainTrade(t *testing.T) {
	f := newFixture(t, nil)
	d := f.validate(t, "m1", "100")
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)
}

func TestValidateTradeInactiveChallenge(t *testing.T) {
	f := newFixture(t, func(c *domain.Challenge) { c.Status = domain.ChallengeFailed })
	d := f.validate(t, "m1", "100")
	assert.False(t, d.Allowed)
	assert.Equal(t, "challenge_active", d.Rule)
}

func TestValidateTradePositionSizeCorrelated(t *testing.T) {
	f := newFixture(t, nil)
	f.market.SetEvent(domain.EventInfo{EventID: "e1", Outcomes: []string{"m1", "m2"}, IsMultiOutcome: true})
	f.open(t, "p1", "m1", domain.DirectionYes, "400", "800", "0.5")

	d := f.validate(t, "m2", "150")
	assert.False(t, d.Allowed)
	assert.Equal(t, "max_position_size", d.Rule)
	assert.Contains(t, d.Reason, "Position exceeds limit")

	d = f.validate(t, "m2", "90")
	assert.True(t, d.Allowed, d.Reason)
}

func TestValidateTradePositionSizeStandalone(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, "p1", "m1", domain.DirectionYes, "400", "800", "0.5")

	// Exposure in a different standalone market does not count.
	d := f.validate(t, "m3", "450")
	assert.True(t, d.Allowed, d.Reason)

	d = f.validate(t, "m1", "150")
	assert.False(t, d.Allowed)
	assert.Equal(t, "max_position_size", d.Rule)
}

func TestValidateTradeLowVolumeTightensCap(t *testing.T) {
	f := newFixture(t, nil)
	d := f.validate(t, "mid", "300")
	assert.False(t, d.Allowed)
	assert.Equal(t, "max_position_size", d.Rule)

	d = f.validate(t, "mid", "240")
	assert.True(t, d.Allowed, d.Reason)
}

func TestValidateTradeMinVolume(t *testing.T) {
	f := newFixture(t, nil)
	d := f.validate(t, "thin", "10")
	assert.False(t, d.Allowed)
	assert.Equal(t, "min_market_volume", d.Rule)
	assert.Contains(t, d.Reason, "too little trading activity")
}

func TestValidateTradeDrawdown(t *testing.T) {
	t.Run("total", func(t *testing.T) {
		f := newFixture(t, func(c *domain.Challenge) {
			c.CurrentBalance = dec("9050")
			c.StartOfDayBalance = dec("9050")
		})
		d, err := f.engine.ValidateTrade(context.Background(), TradeRequest{
			ChallengeID: "c1", MarketID: "m1", Amount: dec("10"), EstimatedLoss: dec("100"),
		})
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, "max_total_drawdown", d.Rule)
	})

	t.Run("daily", func(t *testing.T) {
		f := newFixture(t, func(c *domain.Challenge) {
			c.CurrentBalance = dec("9600")
			c.StartOfDayBalance = dec("10000")
		})
		d, err := f.engine.ValidateTrade(context.Background(), TradeRequest{
			ChallengeID: "c1", MarketID: "m1", Amount: dec("10"), EstimatedLoss: dec("150"),
		})
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, "max_daily_drawdown", d.Rule)

		d = f.validate(t, "m1", "10")
		assert.True(t, d.Allowed, d.Reason)
	})

	t.Run("zero percent disables both limits", func(t *testing.T) {
		f := newFixture(t, func(c *domain.Challenge) {
			c.Rules.MaxTotalDrawdownPercent = decimal.Zero
			c.Rules.MaxDailyDrawdownPercent = decimal.Zero
			c.Rules = c.Rules.WithThresholds(c.StartingBalance)
			c.CurrentBalance = dec("8000")
			c.StartOfDayBalance = dec("10000")
		})
		d, err := f.engine.ValidateTrade(context.Background(), TradeRequest{
			ChallengeID: "c1", MarketID: "m1", Amount: dec("10"), EstimatedLoss: dec("100"),
		})
		require.NoError(t, err)
		assert.True(t, d.Allowed, d.Reason)
	})

	t.Run("open positions count toward equity", func(t *testing.T) {
		f := newFixture(t, nil)
		f.open(t, "p1", "m1", domain.DirectionYes, "2000", "4000", "0.5")
		d := f.validate(t, "m3", "10")
		assert.True(t, d.Allowed, d.Reason)
	})
}

func TestValidateTradeOpenPositionCeiling(t *testing.T) {
	f := newFixture(t, func(c *domain.Challenge) {
		c.Rules.MaxOpenPositions = 2
		c.Rules.MaxCategoryExposurePercent = dec("1")
	})
	f.open(t, "p1", "m1", domain.DirectionYes, "10", "20", "0.5")
	f.open(t, "p2", "m2", domain.DirectionYes, "10", "20", "0.5")

	d := f.validate(t, "m3", "10")
	assert.False(t, d.Allowed)
	assert.Equal(t, "max_open_positions", d.Rule)

	// Adding to an existing position is not a new position.
	d = f.validate(t, "m1", "10")
	assert.True(t, d.Allowed, d.Reason)
}

func TestMaxOpenPositionsByTier(t *testing.T) {
	tests := []struct {
		balance string
		want    int
	}{
		{"5000", 10},
		{"10000", 15},
		{"25000", 20},
		{"50000", 25},
		{"100000", 30},
	}
	for _, tt := range tests {
		t.Run(tt.balance, func(t *testing.T) {
			assert.Equal(t, tt.want, MaxOpenPositions(domain.Challenge{StartingBalance: dec(tt.balance)}))
		})
	}
}

func TestValidateTradeCategoryIgnoresOtherCategories(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, "p1", "m1", domain.DirectionYes, "480", "960", "0.5")
	f.open(t, "p2", "m3", domain.DirectionYes, "480", "960", "0.5")

	// Only m1 shares a category with m2, so exposure is 480 + 10.
	d := f.validate(t, "m2", "10")
	assert.True(t, d.Allowed, d.Reason)
}

func TestValidateTradeCategoryExposureRule(t *testing.T) {
	f := newFixture(t, func(c *domain.Challenge) {
		c.Rules.MaxPositionSizePercent = dec("1")
		c.Rules.MaxCategoryExposurePercent = dec("0.05")
	})
	f.open(t, "p1", "m1", domain.DirectionYes, "400", "800", "0.5")

	d := f.validate(t, "m2", "150")
	assert.False(t, d.Allowed)
	assert.Equal(t, "max_category_exposure", d.Rule)

	d = f.validate(t, "m3", "150")
	assert.True(t, d.Allowed, d.Reason)
}

func TestValidateTradeVolumeImpact(t *testing.T) {
	f := newFixture(t, func(c *domain.Challenge) {
		c.Rules.MaxVolumeImpactPercent = dec("0.00001")
	})
	d := f.validate(t, "m1", "100")
	assert.False(t, d.Allowed)
	assert.Equal(t, "max_volume_impact", d.Rule)

	d = f.validate(t, "m1", "40")
	assert.True(t, d.Allowed, d.Reason)
}

func TestValidateTradeDeterministic(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, "p1", "m1", domain.DirectionYes, "400", "800", "0.5")
	first := f.validate(t, "m1", "150")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, f.validate(t, "m1", "150"))
	}
}

func TestValidateTradeUnknownChallenge(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.ValidateTrade(context.Background(), TradeRequest{ChallengeID: "nope", MarketID: "m1", Amount: dec("1")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
