package polymarket

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether flags are sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexNumber unmarshals a JSON number or numeric string into a decimal.
type flexNumber string

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*n = flexNumber(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*n = flexNumber(num.String())
	return nil
}

func (n flexNumber) Decimal() decimal.Decimal { return domain.ParseDecimal(string(n)) }

// jsonList decodes the JSON-encoded string arrays Gamma uses for outcomes,
// prices and token ids, e.g. "[\"Yes\",\"No\"]".
func jsonList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APITag is a category label attached to markets and events.
type APITag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// APIEventRef is the abbreviated event embedded in a market response.
type APIEventRef struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Tags  []APITag `json:"tags"`
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID                  string        `json:"id"`
	Question            string        `json:"question"`
	ConditionID         string        `json:"conditionId"`
	Slug                string        `json:"slug"`
	Active              flexBool      `json:"active"`
	Closed              flexBool      `json:"closed"`
	AcceptingOrders     flexBool      `json:"acceptingOrders"`
	Outcomes            string        `json:"outcomes"`      // JSON-encoded: "[\"Yes\",\"No\"]"
	OutcomePrices       string        `json:"outcomePrices"` // JSON-encoded: "[\"0.5\",\"0.5\"]"
	ClobTokenIDs        string        `json:"clobTokenIds"`  // JSON-encoded: "[\"123\",\"456\"]"
	Volume              flexNumber    `json:"volume"`
	NegRisk             bool          `json:"negRisk"`
	UMAResolutionStatus string        `json:"umaResolutionStatus"`
	Tags                []APITag      `json:"tags"`
	Events              []APIEventRef `json:"events"`
	UpdatedAt           string        `json:"updatedAt"`
}

// APIEvent represents an event as returned by the Polymarket Gamma API.
// An event groups one or more outcome markets.
type APIEvent struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Slug    string      `json:"slug"`
	Active  flexBool    `json:"active"`
	Closed  flexBool    `json:"closed"`
	NegRisk bool        `json:"negRisk"`
	Tags    []APITag    `json:"tags"`
	Markets []APIMarket `json:"markets"`
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIBook is the response of GET /book.
type APIBook struct {
	Market    string          `json:"market"`
	AssetID   string          `json:"asset_id"`
	Bids      []APIPriceLevel `json:"bids"`
	Asks      []APIPriceLevel `json:"asks"`
	Timestamp string          `json:"timestamp"`
	Hash      string          `json:"hash"`
}

// APIPriceLevel is a single level of a CLOB book.
type APIPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// APIMidpoint is the response of GET /midpoint.
type APIMidpoint struct {
	Mid string `json:"mid"`
}

// --------------------------------------------------------------------------
// Conversion helpers: API types -> domain types
// --------------------------------------------------------------------------

// ToDomainMarket converts a Gamma APIMarket to a domain.MarketInfo. The first
// token is YES, the second NO.
func (m *APIMarket) ToDomainMarket() domain.MarketInfo {
	info := domain.MarketInfo{
		ID:              m.ID,
		Question:        m.Question,
		Volume:          m.Volume.Decimal(),
		Closed:          bool(m.Closed),
		AcceptingOrders: bool(m.AcceptingOrders) && !bool(m.Closed),
		UpdatedAt:       time.Now().UTC(),
	}
	if tokens := jsonList(m.ClobTokenIDs); len(tokens) >= 2 {
		info.YesTokenID, info.NoTokenID = tokens[0], tokens[1]
	}
	if len(m.Events) > 0 {
		info.EventID = m.Events[0].ID
	}
	info.Categories = categories(m.Tags, m.Events)
	if t, err := time.Parse(time.RFC3339, m.UpdatedAt); err == nil {
		info.UpdatedAt = t
	}
	return info
}

func categories(tags []APITag, events []APIEventRef) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(ts []APITag) {
		for _, t := range ts {
			label := strings.ToLower(strings.TrimSpace(t.Slug))
			if label == "" {
				label = strings.ToLower(strings.TrimSpace(t.Label))
			}
			if label == "" {
				continue
			}
			if _, ok := seen[label]; ok {
				continue
			}
			seen[label] = struct{}{}
			out = append(out, label)
		}
	}
	add(tags)
	for _, e := range events {
		add(e.Tags)
	}
	return out
}

// ToDomainResolution derives settlement from a closed market's outcome
// prices. A market is resolved once it is closed and one outcome trades at 1.
func (m *APIMarket) ToDomainResolution() domain.Resolution {
	res := domain.Resolution{
		MarketID:        m.ID,
		AcceptingOrders: bool(m.AcceptingOrders) && !bool(m.Closed),
	}
	if !bool(m.Closed) {
		return res
	}
	prices := jsonList(m.OutcomePrices)
	if len(prices) == 0 {
		return res
	}
	one := decimal.NewFromInt(1)
	for i, p := range prices[:min(len(prices), 2)] {
		if !domain.ParseDecimal(p).Equal(one) {
			continue
		}
		res.IsResolved = true
		res.WinningOutcome = "YES"
		res.ResolutionPrice = one
		if i == 1 {
			res.WinningOutcome = "NO"
			res.ResolutionPrice = decimal.Zero
		}
		return res
	}
	if strings.EqualFold(m.UMAResolutionStatus, "resolved") {
		// Resolved without a winner (50/50 split).
		res.IsResolved = true
		res.ResolutionPrice = domain.ParseDecimal(prices[0])
	}
	return res
}

// ToDomainEvent converts a Gamma APIEvent to a domain.EventInfo.
func (e *APIEvent) ToDomainEvent() domain.EventInfo {
	ev := domain.EventInfo{EventID: e.ID, Title: e.Title}
	for _, m := range e.Markets {
		ev.Outcomes = append(ev.Outcomes, m.ID)
	}
	ev.IsMultiOutcome = len(ev.Outcomes) > 1
	return ev
}

// ToDomainBook converts a CLOB book of the YES token to a domain.OrderBook.
func (b *APIBook) ToDomainBook(marketID string) domain.OrderBook {
	book := domain.OrderBook{MarketID: marketID, Timestamp: parseTimestamp(b.Timestamp)}
	for _, l := range b.Bids {
		book.Bids = append(book.Bids, domain.PriceLevel{Price: domain.ParseDecimal(l.Price), Size: domain.ParseDecimal(l.Size)})
	}
	for _, l := range b.Asks {
		book.Asks = append(book.Asks, domain.PriceLevel{Price: domain.ParseDecimal(l.Price), Size: domain.ParseDecimal(l.Size)})
	}
	return book
}

// parseTimestamp accepts unix milliseconds or RFC 3339.
func parseTimestamp(s string) time.Time {
	if ms := domain.ParseDecimal(s); ms.IsPositive() {
		return time.UnixMilli(ms.IntPart()).UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now().UTC()
}
