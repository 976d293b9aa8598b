package executor

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// Shares and prices are kept at this many decimal places so that
// shares × price is exact in NUMERIC(30,12).
const (
	sharePlaces = 6
	pricePlaces = 6
)

var one = decimal.NewFromInt(1)

// Fill is the simulated execution of an order against a book snapshot.
// Price is the volume-weighted average in held-side terms.
type Fill struct {
	Price     decimal.Decimal
	Shares    decimal.Decimal
	Amount    decimal.Decimal // dollars spent on a BUY, received on a SELL
	BestPrice decimal.Decimal
}

type level struct {
	price decimal.Decimal // held-side price
	size  decimal.Decimal
}

// bookSide picks the side of the YES book an order consumes and converts it
// to held-side prices, best first.
//
//	BUY YES, SELL NO  -> asks
//	BUY NO,  SELL YES -> bids, NO priced at 1 - bid
func bookSide(book domain.OrderBook, side domain.TradeSide, dir domain.Direction) []level {
	useAsks := (side == domain.SideBuy) == (dir == domain.DirectionYes)

	src := book.Bids
	if useAsks {
		src = book.Asks
	}

	raw := make([]domain.PriceLevel, 0, len(src))
	for _, l := range src {
		if l.Price.IsPositive() && l.Price.LessThan(one) && l.Size.IsPositive() {
			raw = append(raw, l)
		}
	}
	if useAsks {
		sort.Slice(raw, func(i, j int) bool { return raw[i].Price.LessThan(raw[j].Price) })
	} else {
		sort.Slice(raw, func(i, j int) bool { return raw[i].Price.GreaterThan(raw[j].Price) })
	}

	out := make([]level, len(raw))
	for i, l := range raw {
		p := l.Price
		if dir == domain.DirectionNo {
			p = one.Sub(p)
		}
		out[i] = level{price: p, size: l.Size}
	}
	return out
}

// quoteBuy spends amount dollars walking levels from the best price. Levels
// priced more than maxSlippage (relative) above the best are not consumed.
func quoteBuy(levels []level, amount, maxSlippage decimal.Decimal) (Fill, error) {
	if len(levels) == 0 {
		return Fill{}, domain.Reject(domain.ErrLiquidity, "No liquidity available on this side of the book")
	}
	best := levels[0].price
	limit := best.Mul(one.Add(maxSlippage))

	remaining := amount
	shares := decimal.Zero
	for _, l := range levels {
		if l.price.GreaterThan(limit) || !remaining.IsPositive() {
			break
		}
		cost := l.price.Mul(l.size)
		if cost.GreaterThanOrEqual(remaining) {
			shares = shares.Add(remaining.Div(l.price))
			remaining = decimal.Zero
			break
		}
		shares = shares.Add(l.size)
		remaining = remaining.Sub(cost)
	}

	if remaining.IsPositive() {
		return Fill{}, domain.Reject(domain.ErrLiquidity, fmt.Sprintf(
			"Insufficient liquidity within %s%% slippage: at most $%s can be filled",
			maxSlippage.Mul(decimal.NewFromInt(100)).StringFixed(2), amount.Sub(remaining).StringFixed(2)))
	}

	shares = shares.Truncate(sharePlaces)
	if !shares.IsPositive() {
		return Fill{}, domain.Reject(domain.ErrLiquidity, "Order is too small to fill")
	}
	return Fill{
		Price:     amount.Div(shares).Round(pricePlaces),
		Shares:    shares,
		Amount:    amount,
		BestPrice: best,
	}, nil
}

// quoteSell sells shares walking levels from the best price. Levels priced
// more than maxSlippage (relative) below the best are not consumed.
func quoteSell(levels []level, shares, maxSlippage decimal.Decimal) (Fill, error) {
	if len(levels) == 0 {
		return Fill{}, domain.Reject(domain.ErrLiquidity, "No liquidity available on this side of the book")
	}
	best := levels[0].price
	limit := best.Mul(one.Sub(maxSlippage))

	remaining := shares
	proceeds := decimal.Zero
	for _, l := range levels {
		if l.price.LessThan(limit) || !remaining.IsPositive() {
			break
		}
		take := decimal.Min(l.size, remaining)
		proceeds = proceeds.Add(take.Mul(l.price))
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		return Fill{}, domain.Reject(domain.ErrLiquidity, fmt.Sprintf(
			"Insufficient liquidity within %s%% slippage: at most %s shares can be sold",
			maxSlippage.Mul(decimal.NewFromInt(100)).StringFixed(2), shares.Sub(remaining).String()))
	}

	price := proceeds.Div(shares).Round(pricePlaces)
	return Fill{
		Price:     price,
		Shares:    shares,
		Amount:    shares.Mul(price),
		BestPrice: best,
	}, nil
}

// Quote simulates a BUY of amount dollars or a SELL of shares against book.
func Quote(book domain.OrderBook, side domain.TradeSide, dir domain.Direction, amount, shares, maxSlippage decimal.Decimal) (Fill, error) {
	levels := bookSide(book, side, dir)
	if side == domain.SideBuy {
		return quoteBuy(levels, amount, maxSlippage)
	}
	return quoteSell(levels, shares, maxSlippage)
}
