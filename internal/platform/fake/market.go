// Package fake provides an in-memory market data source for tests and local
// runs without network access.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

var (
	_ domain.MarketData       = (*Market)(nil)
	_ domain.ResolutionOracle = (*Market)(nil)
)

// Market serves whatever state the caller installed with the Set methods.
// Markets without an explicit resolution are open and accepting orders.
type Market struct {
	mu          sync.RWMutex
	markets     map[string]domain.MarketInfo
	books       map[string]domain.OrderBook
	prices      map[string]decimal.Decimal
	events      map[string]domain.EventInfo // keyed by market id
	resolutions map[string]domain.Resolution
	priceErr    map[string]error
}

// NewMarket creates an empty fake.
func NewMarket() *Market {
	return &Market{
		markets:     make(map[string]domain.MarketInfo),
		books:       make(map[string]domain.OrderBook),
		prices:      make(map[string]decimal.Decimal),
		events:      make(map[string]domain.EventInfo),
		resolutions: make(map[string]domain.Resolution),
		priceErr:    make(map[string]error),
	}
}

// SetMarket installs market metadata.
func (m *Market) SetMarket(info domain.MarketInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info.AcceptingOrders = info.AcceptingOrders || !info.Closed
	m.markets[info.ID] = info
}

// SetBook installs an order book. Bids and asks are given as {price, size}
// pairs of YES prices.
func (m *Market) SetBook(marketID string, bids, asks [][2]string) {
	book := domain.OrderBook{MarketID: marketID, Timestamp: time.Now().UTC()}
	for _, l := range bids {
		book.Bids = append(book.Bids, domain.PriceLevel{Price: decimal.RequireFromString(l[0]), Size: decimal.RequireFromString(l[1])})
	}
	for _, l := range asks {
		book.Asks = append(book.Asks, domain.PriceLevel{Price: decimal.RequireFromString(l[0]), Size: decimal.RequireFromString(l[1])})
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[marketID] = book
}

// SetPrice installs the latest YES price of a market.
func (m *Market) SetPrice(marketID string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[marketID] = price
}

// FailPrice makes LatestPrice return err for a market.
func (m *Market) FailPrice(marketID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priceErr[marketID] = err
}

// SetEvent installs an event and indexes it under each outcome market.
func (m *Market) SetEvent(ev domain.EventInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ev.Outcomes {
		m.events[id] = ev
	}
}

// SetResolution installs the settlement state of a market.
func (m *Market) SetResolution(r domain.Resolution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolutions[r.MarketID] = r
}

// LatestPrice returns the installed price, else the book midpoint.
func (m *Market) LatestPrice(_ context.Context, marketID string) (domain.PriceQuote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.priceErr[marketID]; err != nil {
		return domain.PriceQuote{}, err
	}
	if p, ok := m.prices[marketID]; ok {
		return domain.PriceQuote{MarketID: marketID, Price: p, Timestamp: time.Now().UTC()}, nil
	}
	if b, ok := m.books[marketID]; ok {
		return domain.PriceQuote{MarketID: marketID, Price: b.Mid(), Timestamp: b.Timestamp}, nil
	}
	return domain.PriceQuote{}, fmt.Errorf("fake: price %s: %w", marketID, domain.ErrNotFound)
}

// OrderBook returns the installed book.
func (m *Market) OrderBook(_ context.Context, marketID string) (domain.OrderBook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[marketID]
	if !ok {
		return domain.OrderBook{}, fmt.Errorf("fake: book %s: %w", marketID, domain.ErrNotFound)
	}
	return b, nil
}

// Market returns the installed metadata.
func (m *Market) Market(_ context.Context, marketID string) (domain.MarketInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.markets[marketID]
	if !ok {
		return domain.MarketInfo{}, fmt.Errorf("fake: market %s: %w", marketID, domain.ErrNotFound)
	}
	return info, nil
}

// ActiveMarkets returns every installed market that is not closed.
func (m *Market) ActiveMarkets(_ context.Context, limit int) ([]domain.MarketInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.MarketInfo
	for _, info := range m.markets {
		if info.Closed {
			continue
		}
		out = append(out, info)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// EventInfo returns the event of a market, or nil when standalone.
func (m *Market) EventInfo(_ context.Context, marketID string) (*domain.EventInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[marketID]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

// Resolution returns the installed settlement state.
func (m *Market) Resolution(_ context.Context, marketID string) (domain.Resolution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.resolutions[marketID]; ok {
		return r, nil
	}
	info, ok := m.markets[marketID]
	return domain.Resolution{MarketID: marketID, AcceptingOrders: !ok || info.AcceptingOrders}, nil
}
