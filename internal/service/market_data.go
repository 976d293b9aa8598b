package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// MarketSource is the venue's metadata API.
type MarketSource interface {
	GetMarket(ctx context.Context, id string) (domain.MarketInfo, error)
	GetMarkets(ctx context.Context, limit, offset int) ([]domain.MarketInfo, error)
	GetEvent(ctx context.Context, id string) (domain.EventInfo, error)
	GetMarketResolution(ctx context.Context, marketID string) (domain.Resolution, error)
}

// BookSource is the venue's order book API. Books are keyed by token id and
// labelled with the market id.
type BookSource interface {
	GetBook(ctx context.Context, marketID, tokenID string) (domain.OrderBook, error)
	GetMidpoint(ctx context.Context, marketID, tokenID string) (domain.PriceQuote, error)
}

// MarketDataConfig wires a MarketDataService. Caches are optional; without
// them every call goes to the venue.
type MarketDataConfig struct {
	Markets MarketSource
	Books   BookSource

	MarketCache domain.MarketCache
	EventCache  domain.EventCache
	PriceCache  domain.PriceCache
	BookCache   domain.OrderbookCache

	// PriceMaxAge is how long a cached price is served before refetching.
	PriceMaxAge time.Duration
	// BookMaxAge bounds the age of a cached book used when the live fetch fails.
	BookMaxAge time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

// MarketDataService implements domain.MarketData and domain.ResolutionOracle
// on top of the venue REST APIs with read-through Redis caching. Books used
// for fills are always fetched live when the venue is reachable.
type MarketDataService struct {
	cfg    MarketDataConfig
	logger *slog.Logger
	now    func() time.Time
}

var (
	_ domain.MarketData       = (*MarketDataService)(nil)
	_ domain.ResolutionOracle = (*MarketDataService)(nil)
)

// NewMarketDataService creates a MarketDataService.
func NewMarketDataService(cfg MarketDataConfig) *MarketDataService {
	if cfg.PriceMaxAge <= 0 {
		cfg.PriceMaxAge = 30 * time.Second
	}
	if cfg.BookMaxAge <= 0 {
		cfg.BookMaxAge = 5 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MarketDataService{
		cfg:    cfg,
		logger: cfg.Logger.With(slog.String("component", "market_data")),
		now:    now,
	}
}

// Market returns market metadata, checking the cache first.
func (s *MarketDataService) Market(ctx context.Context, marketID string) (domain.MarketInfo, error) {
	if s.cfg.MarketCache != nil {
		if m, err := s.cfg.MarketCache.Get(ctx, marketID); err == nil {
			return m, nil
		}
	}

	m, err := s.cfg.Markets.GetMarket(ctx, marketID)
	if err != nil {
		return domain.MarketInfo{}, fmt.Errorf("market_data: market %s: %w", marketID, err)
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *MarketDataService) cacheMarket(ctx context.Context, m domain.MarketInfo) {
	if s.cfg.MarketCache == nil {
		return
	}
	if err := s.cfg.MarketCache.Set(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "market cache set failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

// ActiveMarkets lists open markets ordered by volume.
func (s *MarketDataService) ActiveMarkets(ctx context.Context, limit int) ([]domain.MarketInfo, error) {
	if limit <= 0 {
		limit = 100
	}
	markets, err := s.cfg.Markets.GetMarkets(ctx, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("market_data: active markets: %w", err)
	}
	for _, m := range markets {
		s.cacheMarket(ctx, m)
	}
	return markets, nil
}

// EventInfo returns the multi-outcome event a market belongs to, or nil for
// a standalone market.
func (s *MarketDataService) EventInfo(ctx context.Context, marketID string) (*domain.EventInfo, error) {
	if s.cfg.EventCache != nil {
		if ev, err := s.cfg.EventCache.GetByMarketID(ctx, marketID); err == nil {
			return &ev, nil
		}
	}

	m, err := s.Market(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if m.EventID == "" {
		return nil, nil
	}
	ev, err := s.cfg.Markets.GetEvent(ctx, m.EventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("market_data: event %s: %w", m.EventID, err)
	}
	if !ev.IsMultiOutcome {
		return nil, nil
	}
	if s.cfg.EventCache != nil {
		if err := s.cfg.EventCache.Set(ctx, ev); err != nil {
			s.logger.WarnContext(ctx, "event cache set failed",
				slog.String("event_id", ev.EventID),
				slog.String("error", err.Error()),
			)
		}
	}
	return &ev, nil
}

// LatestPrice returns the YES midpoint, served from cache while fresh.
func (s *MarketDataService) LatestPrice(ctx context.Context, marketID string) (domain.PriceQuote, error) {
	if s.cfg.PriceCache != nil {
		price, ts, err := s.cfg.PriceCache.GetPrice(ctx, marketID)
		if err == nil && s.now().Sub(ts) < s.cfg.PriceMaxAge {
			return domain.PriceQuote{MarketID: marketID, Price: price, Timestamp: ts}, nil
		}
	}

	m, err := s.Market(ctx, marketID)
	if err != nil {
		return domain.PriceQuote{}, err
	}
	q, err := s.cfg.Books.GetMidpoint(ctx, marketID, m.YesTokenID)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("market_data: price %s: %w", marketID, err)
	}
	if s.cfg.PriceCache != nil {
		if err := s.cfg.PriceCache.SetPrice(ctx, marketID, q.Price, q.Timestamp); err != nil {
			s.logger.WarnContext(ctx, "price cache set failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}
	return q, nil
}

// OrderBook fetches the live YES book and records it as the latest snapshot.
// When the venue is unreachable a snapshot younger than BookMaxAge is used.
func (s *MarketDataService) OrderBook(ctx context.Context, marketID string) (domain.OrderBook, error) {
	m, err := s.Market(ctx, marketID)
	if err != nil {
		return domain.OrderBook{}, err
	}

	book, err := s.cfg.Books.GetBook(ctx, marketID, m.YesTokenID)
	if err != nil {
		if cached, ok := s.recentSnapshot(ctx, marketID); ok {
			s.logger.WarnContext(ctx, "live book unavailable, using snapshot",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
			return cached, nil
		}
		return domain.OrderBook{}, fmt.Errorf("market_data: book %s: %w", marketID, err)
	}

	if s.cfg.BookCache != nil {
		if err := s.cfg.BookCache.SetSnapshot(ctx, book); err != nil {
			s.logger.WarnContext(ctx, "book cache set failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.cfg.PriceCache != nil {
		if mid := book.Mid(); mid.IsPositive() {
			_ = s.cfg.PriceCache.SetPrice(ctx, marketID, mid, book.Timestamp)
		}
	}
	return book, nil
}

func (s *MarketDataService) recentSnapshot(ctx context.Context, marketID string) (domain.OrderBook, bool) {
	if s.cfg.BookCache == nil {
		return domain.OrderBook{}, false
	}
	book, err := s.cfg.BookCache.GetSnapshot(ctx, marketID)
	if err != nil || s.now().Sub(book.Timestamp) > s.cfg.BookMaxAge {
		return domain.OrderBook{}, false
	}
	return book, true
}

// Resolution reports whether a market has settled. It is never cached.
func (s *MarketDataService) Resolution(ctx context.Context, marketID string) (domain.Resolution, error) {
	res, err := s.cfg.Markets.GetMarketResolution(ctx, marketID)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("market_data: resolution %s: %w", marketID, err)
	}
	if res.IsResolved && s.cfg.MarketCache != nil {
		_ = s.cfg.MarketCache.Invalidate(ctx, marketID)
	}
	return res, nil
}
