package kalshi

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// Client is a read-only REST client for the Kalshi exchange API. It resolves
// markets to their events so the arbitrage guard can see sibling outcomes of
// Kalshi markets.
type Client struct {
	baseURL    string
	apiKeyID   string
	privateKey *rsa.PrivateKey
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new Kalshi REST client.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
// Market data endpoints are public; requests are signed only after
// SetRSAPrivateKey.
func NewClient(baseURL, apiKeyID string, requestsPerSecond float64, timeout time.Duration) *Client {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKeyID:   apiKeyID,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1),
	}
}

// SetRSAPrivateKey loads an RSA private key from PEM-encoded bytes and
// configures the client for RSA-signed authentication.
func (c *Client) SetRSAPrivateKey(pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		c.privateKey = pkcs1Key
		return nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	c.privateKey = rsaKey
	return nil
}

// GetMarket returns a single market by its ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (APIMarket, error) {
	body, err := c.doGet(ctx, "/markets/"+url.PathEscape(ticker))
	if err != nil {
		return APIMarket{}, fmt.Errorf("kalshi: get market %s: %w", ticker, err)
	}
	var resp marketResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return APIMarket{}, fmt.Errorf("kalshi: decode market: %w", err)
	}
	return resp.Market, nil
}

// GetEvent returns an event with its nested markets.
func (c *Client) GetEvent(ctx context.Context, eventTicker string) (domain.EventInfo, error) {
	body, err := c.doGet(ctx, "/events/"+url.PathEscape(eventTicker)+"?with_nested_markets=false")
	if err != nil {
		return domain.EventInfo{}, fmt.Errorf("kalshi: get event %s: %w", eventTicker, err)
	}
	var resp eventResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.EventInfo{}, fmt.Errorf("kalshi: decode event: %w", err)
	}

	outcomes := make([]string, 0, len(resp.Markets))
	for _, m := range resp.Markets {
		outcomes = append(outcomes, m.Ticker)
	}
	return domain.EventInfo{
		EventID:        resp.Event.EventTicker,
		Title:          resp.Event.Title,
		Outcomes:       outcomes,
		IsMultiOutcome: resp.Event.MutuallyExclusive && len(outcomes) > 1,
	}, nil
}

// EventInfo returns the mutually exclusive event marketID belongs to, or nil
// when the market stands alone.
func (c *Client) EventInfo(ctx context.Context, marketID string) (*domain.EventInfo, error) {
	m, err := c.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if m.EventTicker == "" {
		return nil, nil
	}
	ev, err := c.GetEvent(ctx, m.EventTicker)
	if err != nil {
		return nil, err
	}
	if !ev.IsMultiOutcome {
		return nil, nil
	}
	return &ev, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet waits for the limiter, sends a GET (signed when a key is set) and
// returns the body of a 2xx response.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.privateKey != nil {
		if err := c.signRequest(req); err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// signRequest adds RSA-PSS-SHA256 authentication headers. The signed message
// is timestamp + method + path, where path excludes the query string.
func (c *Client) signRequest(req *http.Request) error {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := ts + req.Method + req.URL.Path

	hash := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("RSA sign: %w", err)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return nil
}

// checkStatus maps non-2xx HTTP status codes to domain errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)
	detail := fmt.Sprintf("%s (%s)", apiErr.Error.Message, apiErr.Error.Code)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, detail)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, detail)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, detail)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, detail)
	}
}
