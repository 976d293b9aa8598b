package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide is BUY or SELL.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s TradeSide) Valid() bool { return s == SideBuy || s == SideSell }

// Trade is one immutable ledger row. RealizedPnL is only meaningful for SELL.
type Trade struct {
	ID             string
	PositionID     string
	ChallengeID    string
	MarketID       string
	Direction      Direction
	Type           TradeSide
	Price          decimal.Decimal
	Amount         decimal.Decimal
	Shares         decimal.Decimal
	RealizedPnL    decimal.Decimal
	Fee            decimal.Decimal
	IdempotencyKey string
	ExecutedAt     time.Time
}
