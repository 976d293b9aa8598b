// Package valuation marks binary-outcome positions to market.
package valuation

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// Live prices outside (SanityLow, SanityHigh) are treated as unreliable.
var (
	SanityLow  = decimal.RequireFromString("0.01")
	SanityHigh = decimal.RequireFromString("0.99")
)

// PriceSource records which price was used to value a position.
type PriceSource string

const (
	SourceLive   PriceSource = "live"
	SourceStored PriceSource = "stored"
	SourceEntry  PriceSource = "entry"
)

// DirectionAdjustedPrice converts a raw YES probability into the price of the
// held side.
func DirectionAdjustedPrice(rawYes decimal.Decimal, dir domain.Direction) decimal.Decimal {
	if dir == domain.DirectionNo {
		return decimal.NewFromInt(1).Sub(rawYes)
	}
	return rawYes
}

// Metrics is the mark-to-market view of one position.
type Metrics struct {
	EffectivePrice decimal.Decimal
	PositionValue  decimal.Decimal
	UnrealizedPnL  decimal.Decimal
}

// PositionMetrics values shares bought at entryPrice (already direction-adjusted)
// against a raw YES price.
func PositionMetrics(shares, entryPrice, currentRaw decimal.Decimal, dir domain.Direction) Metrics {
	eff := DirectionAdjustedPrice(currentRaw, dir)
	return Metrics{
		EffectivePrice: eff,
		PositionValue:  shares.Mul(eff),
		UnrealizedPnL:  shares.Mul(eff.Sub(entryPrice)),
	}
}

// ValuedPosition is one line of a portfolio valuation.
type ValuedPosition struct {
	PositionID    string           `json:"position_id"`
	MarketID      string           `json:"market_id"`
	Direction     domain.Direction `json:"direction"`
	Shares        decimal.Decimal  `json:"shares"`
	Price         decimal.Decimal  `json:"price"`
	Value         decimal.Decimal  `json:"value"`
	UnrealizedPnL decimal.Decimal  `json:"unrealized_pnl"`
	Source        PriceSource      `json:"source"`
}

// Portfolio is the marked value of a set of positions.
type Portfolio struct {
	TotalValue decimal.Decimal  `json:"total_value"`
	Positions  []ValuedPosition `json:"positions"`
}

// InBand reports whether a raw price lies strictly inside the sanity band.
func InBand(raw decimal.Decimal) bool {
	return raw.GreaterThan(SanityLow) && raw.LessThan(SanityHigh)
}

// PortfolioValue marks positions using livePrices (raw YES probability keyed
// by market id). A live price is used only when it lies inside the sanity
// band; otherwise the stored current price, and failing that the entry price.
// Positions without shares are skipped.
func PortfolioValue(positions []domain.Position, livePrices map[string]decimal.Decimal) Portfolio {
	out := Portfolio{TotalValue: decimal.Zero, Positions: make([]ValuedPosition, 0, len(positions))}
	for _, p := range positions {
		if !p.Shares.IsPositive() {
			continue
		}

		var price decimal.Decimal
		var src PriceSource
		if raw, ok := livePrices[p.MarketID]; ok && InBand(raw) {
			price, src = DirectionAdjustedPrice(raw, p.Direction), SourceLive
		} else if p.CurrentPrice.IsPositive() {
			price, src = p.CurrentPrice, SourceStored
		} else {
			price, src = p.EntryPrice, SourceEntry
		}

		value := p.Shares.Mul(price)
		out.TotalValue = out.TotalValue.Add(value)
		out.Positions = append(out.Positions, ValuedPosition{
			PositionID:    p.ID,
			MarketID:      p.MarketID,
			Direction:     p.Direction,
			Shares:        p.Shares,
			Price:         price,
			Value:         value,
			UnrealizedPnL: p.Shares.Mul(price.Sub(p.EntryPrice)),
			Source:        src,
		})
	}
	return out
}

// StoredValue marks positions at their stored current price (entry price when
// unset). It is the valuation used inside pre-trade checks.
func StoredValue(positions []domain.Position) decimal.Decimal {
	return PortfolioValue(positions, nil).TotalValue
}
