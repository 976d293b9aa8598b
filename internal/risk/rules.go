package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/valuation"
)

// tradeContext is everything the rules look at. It is loaded once per
// validation so the rules themselves stay pure.
type tradeContext struct {
	challenge domain.Challenge
	open      []domain.Position
	market    domain.MarketInfo
	event     *domain.EventInfo
	// categories of the markets behind open positions, keyed by market id
	categories map[string][]string

	amount        decimal.Decimal
	estimatedLoss decimal.Decimal
	marketID      string
	direction     domain.Direction
}

func (tc *tradeContext) equity() decimal.Decimal {
	return tc.challenge.CurrentBalance.Add(valuation.StoredValue(tc.open))
}

// rule returns a non-empty reason when the trade must be rejected.
type rule struct {
	name  string
	check func(tc *tradeContext) string
}

// rules run in this order; the first failure wins.
var rules = []rule{
	{"challenge_active", checkActive},
	{"max_total_drawdown", checkTotalDrawdown},
	{"max_daily_drawdown", checkDailyDrawdown},
	{"min_market_volume", checkMarketVolume},
	{"max_position_size", checkPositionSize},
	{"max_open_positions", checkOpenPositions},
	{"max_category_exposure", checkCategoryExposure},
	{"max_volume_impact", checkVolumeImpact},
}

func checkActive(tc *tradeContext) string {
	if !tc.challenge.Active() {
		return fmt.Sprintf("Challenge is %s", tc.challenge.Status)
	}
	return ""
}

func checkTotalDrawdown(tc *tradeContext) string {
	r := tc.challenge.Rules
	if !r.MaxTotalDrawdownPercent.IsPositive() {
		return ""
	}
	floor := tc.challenge.StartingBalance.Mul(decimal.NewFromInt(1).Sub(r.MaxTotalDrawdownPercent))
	if tc.equity().Sub(tc.estimatedLoss).LessThan(floor) {
		return fmt.Sprintf("Trade would breach max drawdown: equity would fall below $%s", floor.StringFixed(2))
	}
	return ""
}

func checkDailyDrawdown(tc *tradeContext) string {
	r := tc.challenge.Rules
	if !r.MaxDailyDrawdownPercent.IsPositive() {
		return ""
	}
	sod := tc.challenge.StartOfDayBalance
	loss := sod.Sub(tc.equity().Sub(tc.estimatedLoss))
	limit := sod.Mul(r.MaxDailyDrawdownPercent)
	if loss.GreaterThan(limit) {
		return fmt.Sprintf("Trade would breach daily loss limit of $%s", limit.StringFixed(2))
	}
	return ""
}

func checkMarketVolume(tc *tradeContext) string {
	floor := tc.challenge.Rules.MinMarketVolume
	if tc.market.Volume.LessThan(floor) {
		return fmt.Sprintf("Market has too little trading activity (volume $%s, minimum $%s)",
			tc.market.Volume.StringFixed(0), floor.StringFixed(0))
	}
	return ""
}

// inScope reports whether marketID belongs to the same correlated event as
// the target market. Standalone markets only correlate with themselves.
func (tc *tradeContext) inScope(marketID string) bool {
	if marketID == tc.marketID {
		return true
	}
	return tc.event != nil && tc.event.Contains(marketID)
}

func checkPositionSize(tc *tradeContext) string {
	r := tc.challenge.Rules
	exposure := tc.amount
	for _, p := range tc.open {
		if tc.inScope(p.MarketID) {
			exposure = exposure.Add(p.SizeAmount)
		}
	}

	pct := r.MaxPositionSizePercent
	if !pct.IsPositive() {
		return ""
	}
	if r.LowVolumeThreshold.IsPositive() && tc.market.Volume.LessThan(r.LowVolumeThreshold) &&
		r.LowVolumeMaxPositionPercent.IsPositive() && r.LowVolumeMaxPositionPercent.LessThan(pct) {
		pct = r.LowVolumeMaxPositionPercent
	}
	limit := tc.challenge.StartingBalance.Mul(pct)
	if exposure.GreaterThan(limit) {
		return fmt.Sprintf("Position exceeds limit: exposure $%s would exceed $%s",
			exposure.StringFixed(2), limit.StringFixed(2))
	}
	return ""
}

// MaxOpenPositions returns the open-position ceiling for a challenge.
func MaxOpenPositions(c domain.Challenge) int {
	if c.Rules.MaxOpenPositions > 0 {
		return c.Rules.MaxOpenPositions
	}
	b := c.StartingBalance
	switch {
	case b.LessThanOrEqual(decimal.NewFromInt(5000)):
		return 10
	case b.LessThanOrEqual(decimal.NewFromInt(10000)):
		return 15
	case b.LessThanOrEqual(decimal.NewFromInt(25000)):
		return 20
	case b.LessThanOrEqual(decimal.NewFromInt(50000)):
		return 25
	}
	return 30
}

func checkOpenPositions(tc *tradeContext) string {
	for _, p := range tc.open {
		if p.MarketID == tc.marketID {
			return ""
		}
	}
	ceiling := MaxOpenPositions(tc.challenge)
	if len(tc.open) >= ceiling {
		return fmt.Sprintf("Maximum of %d open positions reached", ceiling)
	}
	return ""
}

func checkCategoryExposure(tc *tradeContext) string {
	if len(tc.market.Categories) == 0 || !tc.challenge.Rules.MaxCategoryExposurePercent.IsPositive() {
		return ""
	}
	target := make(map[string]struct{}, len(tc.market.Categories))
	for _, c := range tc.market.Categories {
		target[c] = struct{}{}
	}

	exposure := tc.amount
	for _, p := range tc.open {
		for _, c := range tc.categories[p.MarketID] {
			if _, ok := target[c]; ok {
				exposure = exposure.Add(p.SizeAmount)
				break
			}
		}
	}

	limit := tc.challenge.StartingBalance.Mul(tc.challenge.Rules.MaxCategoryExposurePercent)
	if exposure.GreaterThan(limit) {
		return fmt.Sprintf("Category exposure $%s would exceed $%s", exposure.StringFixed(2), limit.StringFixed(2))
	}
	return ""
}

func checkVolumeImpact(tc *tradeContext) string {
	limit := tc.challenge.Rules.MaxVolumeImpactPercent
	if !limit.IsPositive() || !tc.market.Volume.IsPositive() {
		return ""
	}
	if tc.amount.Div(tc.market.Volume).GreaterThan(limit) {
		return fmt.Sprintf("Trade is too large relative to market volume (max %s%%)",
			limit.Mul(decimal.NewFromInt(100)).StringFixed(2))
	}
	return ""
}
