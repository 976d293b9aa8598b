package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

const openMarketJSON = `{
	"id": "512",
	"question": "Will it rain tomorrow?",
	"conditionId": "0xabc",
	"active": true,
	"closed": false,
	"acceptingOrders": "true",
	"outcomes": "[\"Yes\",\"No\"]",
	"outcomePrices": "[\"0.62\",\"0.38\"]",
	"clobTokenIds": "[\"111\",\"222\"]",
	"volume": "1523456.75",
	"tags": [{"id": "1", "label": "Weather", "slug": "weather"}],
	"events": [{"id": "90", "title": "Rain", "tags": [{"label": "Science"}, {"slug": "weather"}]}]
}`

const resolvedMarketJSON = `{
	"id": "513",
	"closed": true,
	"acceptingOrders": false,
	"outcomePrices": "[\"0\",\"1\"]",
	"clobTokenIds": "[\"333\",\"444\"]",
	"volume": 2000
}`

const eventJSON = `{"id": "90", "title": "Who wins?", "markets": [{"id": "a"}, {"id": "b"}, {"id": "c"}]}`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/markets/512", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(openMarketJSON)) })
	mux.HandleFunc("/markets/513", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(resolvedMarketJSON)) })
	mux.HandleFunc("/events/90", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(eventJSON)) })
	mux.HandleFunc("/book", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "111", r.URL.Query().Get("token_id"))
		_, _ = w.Write([]byte(`{"bids":[{"price":"0.61","size":"120"}],"asks":[{"price":"0.63","size":"80.5"}],"timestamp":"1767225600000"}`))
	})
	mux.HandleFunc("/midpoint", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"mid":"0.62"}`)) })
	mux.HandleFunc("/limited", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTooManyRequests) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGammaGetMarket(t *testing.T) {
	srv := newServer(t)
	g := NewGammaClient(srv.URL, 100, time.Second)

	m, err := g.GetMarket(context.Background(), "512")
	require.NoError(t, err)
	assert.Equal(t, "512", m.ID)
	assert.Equal(t, "111", m.YesTokenID)
	assert.Equal(t, "222", m.NoTokenID)
	assert.Equal(t, "90", m.EventID)
	assert.True(t, m.Volume.Equal(decimal.RequireFromString("1523456.75")))
	assert.True(t, m.AcceptingOrders)
	assert.Equal(t, []string{"weather", "science"}, m.Categories)
}

func TestGammaResolution(t *testing.T) {
	srv := newServer(t)
	g := NewGammaClient(srv.URL, 100, time.Second)

	open, err := g.GetMarketResolution(context.Background(), "512")
	require.NoError(t, err)
	assert.False(t, open.IsResolved)
	assert.True(t, open.AcceptingOrders)

	res, err := g.GetMarketResolution(context.Background(), "513")
	require.NoError(t, err)
	assert.True(t, res.IsResolved)
	assert.Equal(t, "NO", res.WinningOutcome)
	assert.True(t, res.ResolutionPrice.IsZero())
	assert.False(t, res.AcceptingOrders)
}

func TestGammaGetEvent(t *testing.T) {
	srv := newServer(t)
	g := NewGammaClient(srv.URL, 100, time.Second)

	ev, err := g.GetEvent(context.Background(), "90")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ev.Outcomes)
	assert.True(t, ev.IsMultiOutcome)
}

func TestGammaNotFound(t *testing.T) {
	srv := newServer(t)
	g := NewGammaClient(srv.URL, 100, time.Second)
	_, err := g.GetMarket(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClobBookAndMidpoint(t *testing.T) {
	srv := newServer(t)
	c := NewClobClient(srv.URL, 100, time.Second)

	book, err := c.GetBook(context.Background(), "512", "111")
	require.NoError(t, err)
	assert.Equal(t, "512", book.MarketID)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)
	assert.True(t, book.Asks[0].Size.Equal(decimal.RequireFromString("80.5")))
	assert.Equal(t, int64(1767225600000), book.Timestamp.UnixMilli())

	q, err := c.GetMidpoint(context.Background(), "512", "111")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("0.62")))
}

func TestRateLimitedStatus(t *testing.T) {
	srv := newServer(t)
	rc := newRESTClient(srv.URL, 100, time.Second)
	_, err := rc.doGet(context.Background(), "/limited")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}
