package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// ClobClient is the read-only REST client for the Polymarket CLOB (Central
// Limit Order Book) API. Books and midpoints are public endpoints.
type ClobClient struct {
	rest restClient
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
func NewClobClient(baseURL string, requestsPerSecond float64, timeout time.Duration) *ClobClient {
	return &ClobClient{rest: newRESTClient(baseURL, requestsPerSecond, timeout)}
}

// GetBook returns the book of a token, labelled with marketID.
func (c *ClobClient) GetBook(ctx context.Context, marketID, tokenID string) (domain.OrderBook, error) {
	body, err := c.rest.doGet(ctx, "/book?token_id="+url.QueryEscape(tokenID))
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}

	var book APIBook
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	return book.ToDomainBook(marketID), nil
}

// GetMidpoint returns the midpoint price of a token.
func (c *ClobClient) GetMidpoint(ctx context.Context, marketID, tokenID string) (domain.PriceQuote, error) {
	body, err := c.rest.doGet(ctx, "/midpoint?token_id="+url.QueryEscape(tokenID))
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("polymarket/clob: get midpoint %s: %w", tokenID, err)
	}

	var mid APIMidpoint
	if err := json.Unmarshal(body, &mid); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("polymarket/clob: decode midpoint: %w", err)
	}
	price := domain.ParseDecimal(mid.Mid)
	if !price.IsPositive() {
		return domain.PriceQuote{}, fmt.Errorf("polymarket/clob: midpoint %s: %w", tokenID, domain.ErrNotFound)
	}
	return domain.PriceQuote{MarketID: marketID, Price: price, Timestamp: time.Now().UTC()}, nil
}
