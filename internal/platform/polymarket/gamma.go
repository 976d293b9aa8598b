package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery, metadata and settlement state.
type GammaClient struct {
	rest restClient
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, requestsPerSecond float64, timeout time.Duration) *GammaClient {
	return &GammaClient{rest: newRESTClient(baseURL, requestsPerSecond, timeout)}
}

func (g *GammaClient) getMarket(ctx context.Context, id string) (APIMarket, error) {
	body, err := g.rest.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}
	var m APIMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	return m, nil
}

// GetMarket returns a single market by its ID.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (domain.MarketInfo, error) {
	m, err := g.getMarket(ctx, id)
	if err != nil {
		return domain.MarketInfo{}, err
	}
	return m.ToDomainMarket(), nil
}

// GetMarkets returns a page of open markets ordered by volume.
func (g *GammaClient) GetMarkets(ctx context.Context, limit, offset int) ([]domain.MarketInfo, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("order", "volume")
	params.Set("ascending", "false")

	body, err := g.rest.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get markets: %w", err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}

	markets := make([]domain.MarketInfo, 0, len(apiMarkets))
	for i := range apiMarkets {
		markets = append(markets, apiMarkets[i].ToDomainMarket())
	}
	return markets, nil
}

// GetMarketResolution fetches a market and derives its settlement state.
func (g *GammaClient) GetMarketResolution(ctx context.Context, marketID string) (domain.Resolution, error) {
	m, err := g.getMarket(ctx, marketID)
	if err != nil {
		return domain.Resolution{}, err
	}
	return m.ToDomainResolution(), nil
}

// GetEvent returns a single event by its ID.
func (g *GammaClient) GetEvent(ctx context.Context, id string) (domain.EventInfo, error) {
	body, err := g.rest.doGet(ctx, "/events/"+url.PathEscape(id))
	if err != nil {
		return domain.EventInfo{}, fmt.Errorf("polymarket/gamma: get event %s: %w", id, err)
	}

	var event APIEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return domain.EventInfo{}, fmt.Errorf("polymarket/gamma: decode event: %w", err)
	}
	return event.ToDomainEvent(), nil
}
