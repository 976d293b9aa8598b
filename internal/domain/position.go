package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the outcome side of a binary market a position holds.
type Direction string

const (
	DirectionYes Direction = "YES"
	DirectionNo  Direction = "NO"
)

// Valid reports whether d is YES or NO.
func (d Direction) Valid() bool { return d == DirectionYes || d == DirectionNo }

// Opposite returns the other side of the market.
func (d Direction) Opposite() Direction {
	if d == DirectionYes {
		return DirectionNo
	}
	return DirectionYes
}

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position is a challenge's holding in one market. EntryPrice and
// CurrentPrice are direction-adjusted: a NO position stores NO prices.
type Position struct {
	ID           string
	ChallengeID  string
	MarketID     string
	Direction    Direction
	SizeAmount   decimal.Decimal // cost basis in dollars
	Shares       decimal.Decimal
	EntryPrice   decimal.Decimal
	CurrentPrice decimal.Decimal
	Status       PositionStatus
	PnL          decimal.Decimal // realized
	FeesPaid     decimal.Decimal
	OpenedAt     time.Time
	ClosedAt     *time.Time
	UpdatedAt    time.Time
}
