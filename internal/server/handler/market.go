package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// MarketHandler serves read-only market endpoints backed by the market data
// service.
type MarketHandler struct {
	markets domain.MarketData
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets domain.MarketData, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

type marketResponse struct {
	ID              string          `json:"id"`
	Question        string          `json:"question"`
	EventID         string          `json:"event_id,omitempty"`
	Volume          decimal.Decimal `json:"volume"`
	Categories      []string        `json:"categories"`
	AcceptingOrders bool            `json:"accepting_orders"`
	Closed          bool            `json:"closed"`
}

func toMarketResponse(m domain.MarketInfo) marketResponse {
	cats := m.Categories
	if cats == nil {
		cats = []string{}
	}
	return marketResponse{
		ID:              m.ID,
		Question:        m.Question,
		EventID:         m.EventID,
		Volume:          m.Volume,
		Categories:      cats,
		AcceptingOrders: m.AcceptingOrders,
		Closed:          m.Closed,
	}
}

// listMarketsResponse wraps the list endpoint output.
type listMarketsResponse struct {
	Markets []marketResponse `json:"markets"`
	Limit   int              `json:"limit"`
}

// ListMarkets returns open markets ordered by volume.
// GET /api/markets?limit=50
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ActiveMarkets(r.Context(), opts.Limit)
	if err != nil {
		writeDomainError(w, r, h.logger, "list markets", err)
		return
	}

	out := make([]marketResponse, 0, len(markets))
	for _, m := range markets {
		out = append(out, toMarketResponse(m))
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: out, Limit: opts.Limit})
}

// GetMarket returns a single market with its latest YES price.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.markets.Market(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get market", err)
		return
	}

	resp := struct {
		marketResponse
		Price     *decimal.Decimal `json:"price,omitempty"`
		PricedAt  *time.Time       `json:"priced_at,omitempty"`
		EventSize int              `json:"event_outcomes,omitempty"`
	}{marketResponse: toMarketResponse(market)}

	if q, err := h.markets.LatestPrice(r.Context(), id); err == nil {
		resp.Price, resp.PricedAt = &q.Price, &q.Timestamp
	} else {
		h.logger.DebugContext(r.Context(), "price unavailable",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}
	if ev, err := h.markets.EventInfo(r.Context(), id); err == nil && ev != nil {
		resp.EventSize = len(ev.Outcomes)
	}
	writeJSON(w, http.StatusOK, resp)
}
