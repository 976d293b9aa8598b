package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Platform names the venue a market is listed on.
type Platform string

const (
	PlatformPolymarket Platform = "polymarket"
	PlatformKalshi     Platform = "kalshi"
)

// MarketInfo is the metadata the risk rules need about a market.
type MarketInfo struct {
	ID              string
	Question        string
	YesTokenID      string
	NoTokenID       string
	EventID         string
	Volume          decimal.Decimal
	Categories      []string
	AcceptingOrders bool
	Closed          bool
	UpdatedAt       time.Time
}

// EventInfo groups the outcome markets of one real-world event.
type EventInfo struct {
	EventID        string
	Title          string
	Outcomes       []string // market ids
	IsMultiOutcome bool
}

// Contains reports whether marketID is one of the event's outcomes.
func (e EventInfo) Contains(marketID string) bool {
	for _, id := range e.Outcomes {
		if id == marketID {
			return true
		}
	}
	return false
}

// PriceQuote is the latest canonical YES probability of a market.
type PriceQuote struct {
	MarketID  string
	Price     decimal.Decimal
	Timestamp time.Time
}

// Resolution describes whether a market has settled.
type Resolution struct {
	MarketID        string
	IsResolved      bool
	WinningOutcome  string
	ResolutionPrice decimal.Decimal
	AcceptingOrders bool
}

// MarketData is the read-only market capability consumed by the engine.
// EventInfo returns (nil, nil) for a standalone market.
type MarketData interface {
	LatestPrice(ctx context.Context, marketID string) (PriceQuote, error)
	OrderBook(ctx context.Context, marketID string) (OrderBook, error)
	Market(ctx context.Context, marketID string) (MarketInfo, error)
	ActiveMarkets(ctx context.Context, limit int) ([]MarketInfo, error)
	EventInfo(ctx context.Context, marketID string) (*EventInfo, error)
}

// ResolutionOracle reports market settlement.
type ResolutionOracle interface {
	Resolution(ctx context.Context, marketID string) (Resolution, error)
}
