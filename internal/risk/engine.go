// Package risk implements the pre-trade risk rules of a challenge account.
package risk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// TradeRequest is a proposed trade to validate.
type TradeRequest struct {
	ChallengeID   string
	MarketID      string
	Amount        decimal.Decimal
	EstimatedLoss decimal.Decimal
	Direction     domain.Direction
}

// Decision is the outcome of ValidateTrade. Rule names the check that
// rejected the trade.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Rule    string `json:"rule,omitempty"`
}

// Engine evaluates the ordered rule chain against a challenge.
type Engine struct {
	challenges domain.ChallengeStore
	positions  domain.PositionStore
	markets    domain.MarketData
	logger     *slog.Logger
}

// NewEngine creates a risk Engine.
func NewEngine(challenges domain.ChallengeStore, positions domain.PositionStore, markets domain.MarketData, logger *slog.Logger) *Engine {
	return &Engine{
		challenges: challenges,
		positions:  positions,
		markets:    markets,
		logger:     logger.With(slog.String("component", "risk_engine")),
	}
}

// ValidateTrade runs every rule in order and returns the first rejection.
// Rejections are returned as a Decision; the error is reserved for failures
// to load the data the rules need.
func (e *Engine) ValidateTrade(ctx context.Context, req TradeRequest) (Decision, error) {
	ch, err := e.challenges.GetByID(ctx, req.ChallengeID)
	if err != nil {
		return Decision{}, fmt.Errorf("risk: load challenge: %w", err)
	}
	if req.Direction == "" {
		req.Direction = domain.DirectionYes
	}

	tc := &tradeContext{
		challenge:     ch,
		amount:        req.Amount,
		estimatedLoss: req.EstimatedLoss,
		marketID:      req.MarketID,
		direction:     req.Direction,
	}
	// An inactive challenge is rejected before any further I/O.
	if reason := checkActive(tc); reason != "" {
		return e.reject(ctx, req, rules[0].name, reason), nil
	}

	if err := e.load(ctx, tc); err != nil {
		return Decision{}, err
	}

	for _, r := range rules[1:] {
		if reason := r.check(tc); reason != "" {
			return e.reject(ctx, req, r.name, reason), nil
		}
	}
	return Decision{Allowed: true}, nil
}

func (e *Engine) load(ctx context.Context, tc *tradeContext) error {
	open, err := e.positions.GetOpen(ctx, tc.challenge.ID)
	if err != nil {
		return fmt.Errorf("risk: load positions: %w", err)
	}
	tc.open = open

	market, err := e.markets.Market(ctx, tc.marketID)
	if err != nil {
		return fmt.Errorf("risk: load market %s: %w", tc.marketID, err)
	}
	tc.market = market

	// Without event data the market is treated as standalone.
	event, err := e.markets.EventInfo(ctx, tc.marketID)
	if err != nil {
		e.logger.WarnContext(ctx, "event lookup failed, treating market as standalone",
			slog.String("market_id", tc.marketID),
			slog.String("error", err.Error()),
		)
		event = nil
	}
	tc.event = event

	tc.categories = make(map[string][]string, len(open))
	for _, p := range open {
		if _, seen := tc.categories[p.MarketID]; seen {
			continue
		}
		if p.MarketID == tc.marketID {
			tc.categories[p.MarketID] = market.Categories
			continue
		}
		info, err := e.markets.Market(ctx, p.MarketID)
		if err != nil {
			e.logger.WarnContext(ctx, "market lookup failed for open position",
				slog.String("market_id", p.MarketID),
				slog.String("error", err.Error()),
			)
			tc.categories[p.MarketID] = nil
			continue
		}
		tc.categories[p.MarketID] = info.Categories
	}
	return nil
}

func (e *Engine) reject(ctx context.Context, req TradeRequest, ruleName, reason string) Decision {
	e.logger.InfoContext(ctx, "trade rejected",
		slog.String("challenge_id", req.ChallengeID),
		slog.String("market_id", req.MarketID),
		slog.String("amount", req.Amount.String()),
		slog.String("rule", ruleName),
		slog.String("reason", reason),
	)
	return Decision{Allowed: false, Reason: reason, Rule: ruleName}
}
