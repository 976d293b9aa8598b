package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single price+size entry in an orderbook. Price is the YES
// probability, size is in shares.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is a snapshot of the YES token book of a market.
type OrderBook struct {
	MarketID  string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid returns the highest bid, or zero when there are no bids.
func (b OrderBook) BestBid() decimal.Decimal {
	best := decimal.Zero
	for _, l := range b.Bids {
		if l.Price.GreaterThan(best) {
			best = l.Price
		}
	}
	return best
}

// BestAsk returns the lowest ask, or zero when there are no asks.
func (b OrderBook) BestAsk() decimal.Decimal {
	best := decimal.Zero
	for _, l := range b.Asks {
		if best.IsZero() || l.Price.LessThan(best) {
			best = l.Price
		}
	}
	return best
}

// Mid returns the midpoint of the best bid and ask. With one side empty it
// returns the other side's best.
func (b OrderBook) Mid() decimal.Decimal {
	bid, ask := b.BestBid(), b.BestAsk()
	switch {
	case bid.IsZero():
		return ask
	case ask.IsZero():
		return bid
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2))
}
