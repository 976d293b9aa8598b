package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/evaluator"
	"github.com/alanyoungcy/propdesk/internal/service"
)

// ChallengeService is the lifecycle surface the challenge handler needs.
type ChallengeService interface {
	Tiers() []service.Tier
	Create(ctx context.Context, owner, tier string) (domain.Challenge, error)
	Get(ctx context.Context, id string) (domain.Challenge, error)
	ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Challenge, error)
	Cancel(ctx context.Context, id, owner string) (domain.Challenge, error)
	Positions(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Position, error)
	Trades(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Trade, error)
	Portfolio(ctx context.Context, id string) (service.PortfolioView, error)
}

// ChallengeEvaluator runs the rule check on demand.
type ChallengeEvaluator interface {
	Evaluate(ctx context.Context, challengeID string) (evaluator.Result, error)
}

// LedgerReader serves archived ledgers.
type LedgerReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

// ChallengeHandler serves challenge endpoints.
type ChallengeHandler struct {
	challenges ChallengeService
	evaluator  ChallengeEvaluator
	ledgers    LedgerReader // optional
	ledgerPath func(challengeID string) string
	logger     *slog.Logger
}

// NewChallengeHandler creates a ChallengeHandler.
func NewChallengeHandler(challenges ChallengeService, eval ChallengeEvaluator, logger *slog.Logger) *ChallengeHandler {
	return &ChallengeHandler{challenges: challenges, evaluator: eval, logger: logger}
}

// WithLedgers enables GET /api/challenges/{id}/ledger for archived challenges.
func (h *ChallengeHandler) WithLedgers(reader LedgerReader, path func(challengeID string) string) *ChallengeHandler {
	h.ledgers = reader
	h.ledgerPath = path
	return h
}

type challengeResponse struct {
	ID                string             `json:"id"`
	Owner             string             `json:"owner"`
	Tier              string             `json:"tier"`
	Phase             string             `json:"phase"`
	Status            string             `json:"status"`
	StartingBalance   decimal.Decimal    `json:"starting_balance"`
	CurrentBalance    decimal.Decimal    `json:"current_balance"`
	StartOfDayBalance decimal.Decimal    `json:"start_of_day_balance"`
	HighWaterMark     decimal.Decimal    `json:"high_water_mark"`
	Rules             domain.RulesConfig `json:"rules"`
	StartedAt         time.Time          `json:"started_at"`
	EndsAt            *time.Time         `json:"ends_at,omitempty"`
	PendingFailureAt  *time.Time         `json:"pending_failure_at,omitempty"`
	PhaseStartedAt    time.Time          `json:"phase_started_at"`
	FailureReason     string             `json:"failure_reason,omitempty"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
	ArchivedAt        *time.Time         `json:"archived_at,omitempty"`
}

func toChallengeResponse(c domain.Challenge) challengeResponse {
	return challengeResponse{
		ID:                c.ID,
		Owner:             c.Owner,
		Tier:              c.Tier,
		Phase:             string(c.Phase),
		Status:            string(c.Status),
		StartingBalance:   c.StartingBalance,
		CurrentBalance:    c.CurrentBalance,
		StartOfDayBalance: c.StartOfDayBalance,
		HighWaterMark:     c.HighWaterMark,
		Rules:             c.Rules,
		StartedAt:         c.StartedAt,
		EndsAt:            c.EndsAt,
		PendingFailureAt:  c.PendingFailureAt,
		PhaseStartedAt:    c.PhaseStartedAt,
		FailureReason:     c.FailureReason,
		CompletedAt:       c.CompletedAt,
		ArchivedAt:        c.ArchivedAt,
	}
}

type positionResponse struct {
	ID           string          `json:"id"`
	MarketID     string          `json:"market_id"`
	Direction    string          `json:"direction"`
	Status       string          `json:"status"`
	SizeAmount   decimal.Decimal `json:"size_amount"`
	Shares       decimal.Decimal `json:"shares"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	PnL          decimal.Decimal `json:"realized_pnl"`
	FeesPaid     decimal.Decimal `json:"fees_paid"`
	OpenedAt     time.Time       `json:"opened_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
}

type tradeResponse struct {
	ID             string          `json:"id"`
	PositionID     string          `json:"position_id"`
	ChallengeID    string          `json:"challenge_id"`
	MarketID       string          `json:"market_id"`
	Direction      string          `json:"direction"`
	Type           string          `json:"type"`
	Price          decimal.Decimal `json:"price"`
	Amount         decimal.Decimal `json:"amount"`
	Shares         decimal.Decimal `json:"shares"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	Fee            decimal.Decimal `json:"fee"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	ExecutedAt     time.Time       `json:"executed_at"`
}

func toTradeResponse(t domain.Trade) tradeResponse {
	return tradeResponse{
		ID:             t.ID,
		PositionID:     t.PositionID,
		ChallengeID:    t.ChallengeID,
		MarketID:       t.MarketID,
		Direction:      string(t.Direction),
		Type:           string(t.Type),
		Price:          t.Price,
		Amount:         t.Amount,
		Shares:         t.Shares,
		RealizedPnL:    t.RealizedPnL,
		Fee:            t.Fee,
		IdempotencyKey: t.IdempotencyKey,
		ExecutedAt:     t.ExecutedAt,
	}
}

type tierResponse struct {
	Name            string             `json:"name"`
	StartingBalance decimal.Decimal    `json:"starting_balance"`
	Rules           domain.RulesConfig `json:"rules"`
}

// ListTiers returns the purchasable challenge sizes.
// GET /api/tiers
func (h *ChallengeHandler) ListTiers(w http.ResponseWriter, r *http.Request) {
	tiers := h.challenges.Tiers()
	out := make([]tierResponse, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, tierResponse{
			Name:            t.Name,
			StartingBalance: t.StartingBalance,
			Rules:           t.Rules.WithThresholds(t.StartingBalance),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": out})
}

type createChallengeRequest struct {
	Owner string `json:"owner"`
	Tier  string `json:"tier"`
}

// Create opens a challenge. The owner defaults to the X-User-ID header.
// POST /api/challenges
func (h *ChallengeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createChallengeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, "create challenge", err)
		return
	}
	if req.Owner == "" {
		req.Owner = r.Header.Get(UserHeader)
	}

	c, err := h.challenges.Create(r.Context(), req.Owner, req.Tier)
	if err != nil {
		writeDomainError(w, r, h.logger, "create challenge", err)
		return
	}
	writeJSON(w, http.StatusCreated, toChallengeResponse(c))
}

// List returns an owner's challenges.
// GET /api/challenges?owner=...&limit=50&offset=0
func (h *ChallengeHandler) List(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = r.Header.Get(UserHeader)
	}

	list, err := h.challenges.ListByOwner(r.Context(), owner, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list challenges", err)
		return
	}
	out := make([]challengeResponse, 0, len(list))
	for _, c := range list {
		out = append(out, toChallengeResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"challenges": out})
}

// Get returns one challenge.
// GET /api/challenges/{id}
func (h *ChallengeHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.challenges.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get challenge", err)
		return
	}
	writeJSON(w, http.StatusOK, toChallengeResponse(c))
}

// Cancel ends an active challenge. Only its owner may cancel it.
// POST /api/challenges/{id}/cancel
func (h *ChallengeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	user := r.Header.Get(UserHeader)
	if user == "" {
		writeError(w, http.StatusBadRequest, UserHeader+" header required")
		return
	}
	c, err := h.challenges.Cancel(r.Context(), pathParam(r, "id"), user)
	if err != nil {
		writeDomainError(w, r, h.logger, "cancel challenge", err)
		return
	}
	writeJSON(w, http.StatusOK, toChallengeResponse(c))
}

// Evaluate runs the rule check immediately.
// POST /api/challenges/{id}/evaluate
func (h *ChallengeHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	res, err := h.evaluator.Evaluate(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "evaluate challenge", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Positions lists every position of a challenge.
// GET /api/challenges/{id}/positions
func (h *ChallengeHandler) Positions(w http.ResponseWriter, r *http.Request) {
	list, err := h.challenges.Positions(r.Context(), pathParam(r, "id"), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list positions", err)
		return
	}
	out := make([]positionResponse, 0, len(list))
	for _, p := range list {
		out = append(out, positionResponse{
			ID:           p.ID,
			MarketID:     p.MarketID,
			Direction:    string(p.Direction),
			Status:       string(p.Status),
			SizeAmount:   p.SizeAmount,
			Shares:       p.Shares,
			EntryPrice:   p.EntryPrice,
			CurrentPrice: p.CurrentPrice,
			PnL:          p.PnL,
			FeesPaid:     p.FeesPaid,
			OpenedAt:     p.OpenedAt,
			ClosedAt:     p.ClosedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// Trades lists the ledger of a challenge, newest first.
// GET /api/challenges/{id}/trades
func (h *ChallengeHandler) Trades(w http.ResponseWriter, r *http.Request) {
	list, err := h.challenges.Trades(r.Context(), pathParam(r, "id"), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list trades", err)
		return
	}
	out := make([]tradeResponse, 0, len(list))
	for _, t := range list {
		out = append(out, toTradeResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}

// Portfolio returns the mark-to-market view of a challenge.
// GET /api/challenges/{id}/portfolio
func (h *ChallengeHandler) Portfolio(w http.ResponseWriter, r *http.Request) {
	pf, err := h.challenges.Portfolio(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "portfolio", err)
		return
	}
	writeJSON(w, http.StatusOK, pf)
}

// Ledger streams the archived JSONL ledger of a finished challenge.
// GET /api/challenges/{id}/ledger
func (h *ChallengeHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	if h.ledgers == nil {
		writeError(w, http.StatusNotImplemented, "ledger archive not configured")
		return
	}
	id := pathParam(r, "id")
	c, err := h.challenges.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get ledger", err)
		return
	}
	if c.ArchivedAt == nil {
		writeError(w, http.StatusNotFound, "ledger not archived yet")
		return
	}

	body, err := h.ledgers.Get(r.Context(), h.ledgerPath(id))
	if err != nil {
		writeDomainError(w, r, h.logger, "get ledger", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "ledger stream interrupted",
			slog.String("challenge_id", id),
			slog.String("error", err.Error()),
		)
	}
}
