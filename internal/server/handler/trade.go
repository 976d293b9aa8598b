package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/propdesk/internal/arbitrage"
	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/executor"
	"github.com/alanyoungcy/propdesk/internal/risk"
)

// IdempotencyHeader carries the client's retry key for trade submissions.
const IdempotencyHeader = "Idempotency-Key"

// TradeExecutor settles trades.
type TradeExecutor interface {
	ExecuteTrade(ctx context.Context, req executor.Request) (executor.Result, error)
}

// RiskValidator dry-runs the pre-trade rules.
type RiskValidator interface {
	ValidateTrade(ctx context.Context, req risk.TradeRequest) (risk.Decision, error)
}

// ArbitrageChecker dry-runs the arbitrage guard.
type ArbitrageChecker interface {
	WouldCreateArbitrage(ctx context.Context, challengeID, marketID string, direction domain.Direction, platform domain.Platform) (arbitrage.Check, error)
}

// TradeHandler serves trade submission and the pre-trade dry runs.
type TradeHandler struct {
	executor TradeExecutor
	risk     RiskValidator
	arb      ArbitrageChecker
	logger   *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(exec TradeExecutor, riskValidator RiskValidator, arb ArbitrageChecker, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{executor: exec, risk: riskValidator, arb: arb, logger: logger}
}

type tradeRequest struct {
	MarketID  string          `json:"market_id"`
	Side      string          `json:"side"`
	Direction string          `json:"direction"`
	Amount    decimal.Decimal `json:"amount"`
	Shares    decimal.Decimal `json:"shares"`
	Platform  string          `json:"platform"`
}

type executeResponse struct {
	Trade    tradeResponse `json:"trade"`
	Replayed bool          `json:"replayed"`
}

// Execute submits a trade for the X-User-ID trader.
// POST /api/challenges/{id}/trades
func (h *TradeHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var body tradeRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeDomainError(w, r, h.logger, "execute trade", err)
		return
	}

	res, err := h.executor.ExecuteTrade(r.Context(), executor.Request{
		UserID:         r.Header.Get(UserHeader),
		ChallengeID:    pathParam(r, "id"),
		MarketID:       body.MarketID,
		Side:           domain.TradeSide(strings.ToUpper(body.Side)),
		Direction:      domain.Direction(strings.ToUpper(body.Direction)),
		Amount:         body.Amount,
		Shares:         body.Shares,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
		Platform:       domain.Platform(strings.ToLower(body.Platform)),
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "execute trade", err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, executeResponse{Trade: toTradeResponse(res.Trade), Replayed: res.Replayed})
}

func (body tradeRequest) direction() (domain.Direction, error) {
	dir := domain.Direction(strings.ToUpper(body.Direction))
	if dir == "" {
		dir = domain.DirectionYes
	}
	if !dir.Valid() {
		return "", domain.Invalid("direction", "must be YES or NO, got %q", body.Direction)
	}
	return dir, nil
}

// Validate runs the risk rules against a proposed BUY without executing it.
// POST /api/challenges/{id}/validate
func (h *TradeHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var body tradeRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeDomainError(w, r, h.logger, "validate trade", err)
		return
	}
	dir, err := body.direction()
	if err != nil {
		writeDomainError(w, r, h.logger, "validate trade", err)
		return
	}
	if body.MarketID == "" {
		writeError(w, http.StatusBadRequest, "market_id: is required")
		return
	}

	decision, err := h.risk.ValidateTrade(r.Context(), risk.TradeRequest{
		ChallengeID: pathParam(r, "id"),
		MarketID:    body.MarketID,
		Amount:      body.Amount,
		Direction:   dir,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "validate trade", err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// ArbitrageCheck reports whether a proposed BUY would lock in a risk-free
// combination.
// POST /api/challenges/{id}/arbitrage-check
func (h *TradeHandler) ArbitrageCheck(w http.ResponseWriter, r *http.Request) {
	var body tradeRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeDomainError(w, r, h.logger, "arbitrage check", err)
		return
	}
	dir, err := body.direction()
	if err != nil {
		writeDomainError(w, r, h.logger, "arbitrage check", err)
		return
	}
	if body.MarketID == "" {
		writeError(w, http.StatusBadRequest, "market_id: is required")
		return
	}

	check, err := h.arb.WouldCreateArbitrage(r.Context(), pathParam(r, "id"), body.MarketID, dir,
		domain.Platform(strings.ToLower(body.Platform)))
	if err != nil {
		writeDomainError(w, r, h.logger, "arbitrage check", err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}
