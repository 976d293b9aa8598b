package kalshi

// --------------------------------------------------------------------------
// Kalshi API DTOs
// --------------------------------------------------------------------------

// APIMarket is a market as returned by the Kalshi REST API. Only the fields
// needed to place a market inside its event are decoded.
type APIMarket struct {
	Ticker      string `json:"ticker"`
	EventTicker string `json:"event_ticker"`
	Title       string `json:"title"`
	Status      string `json:"status"` // "open", "closed", "settled"
	Result      string `json:"result"` // "yes", "no", "" (unsettled)
}

// APIEvent is the event header returned by GET /events/{ticker}.
type APIEvent struct {
	EventTicker       string `json:"event_ticker"`
	Title             string `json:"title"`
	Category          string `json:"category"`
	MutuallyExclusive bool   `json:"mutually_exclusive"`
}

type marketResponse struct {
	Market APIMarket `json:"market"`
}

type eventResponse struct {
	Event   APIEvent    `json:"event"`
	Markets []APIMarket `json:"markets"`
}

// errorResponse is a Kalshi API error body.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
