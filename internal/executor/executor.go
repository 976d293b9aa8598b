// Package executor settles simulated trades against live order books.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/propdesk/internal/arbitrage"
	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/evaluator"
	"github.com/alanyoungcy/propdesk/internal/risk"
)

// TradesStream is the event bus stream every settled trade is appended to.
const TradesStream = "trades"

// RiskValidator runs the pre-trade risk rules.
type RiskValidator interface {
	ValidateTrade(ctx context.Context, req risk.TradeRequest) (risk.Decision, error)
}

// ArbitrageChecker blocks risk-free position combinations.
type ArbitrageChecker interface {
	WouldCreateArbitrage(ctx context.Context, challengeID, marketID string, direction domain.Direction, platform domain.Platform) (arbitrage.Check, error)
}

// ChallengeEvaluator re-evaluates a challenge after its balance changed.
type ChallengeEvaluator interface {
	Evaluate(ctx context.Context, challengeID string) (evaluator.Result, error)
}

// Request is a trade submitted by a trader. BUY uses Amount (dollars), SELL
// uses Shares.
type Request struct {
	UserID         string
	ChallengeID    string
	MarketID       string
	Side           domain.TradeSide
	Direction      domain.Direction
	Amount         decimal.Decimal
	Shares         decimal.Decimal
	IdempotencyKey string
	Platform       domain.Platform
}

// Result is the settled trade. Replayed is set when the idempotency key
// matched an earlier execution.
type Result struct {
	Trade    domain.Trade
	Replayed bool
}

// Config wires the executor.
type Config struct {
	Challenges domain.ChallengeStore
	Trades     domain.TradeStore
	Locker     domain.ChallengeLocker
	Markets    domain.MarketData
	Oracle     domain.ResolutionOracle
	Risk       RiskValidator
	Arbitrage  ArbitrageChecker
	Evaluator  ChallengeEvaluator
	Bus        domain.EventBus // optional
	Logger     *slog.Logger

	// MaxSlippage is the relative distance from the best price beyond which
	// book levels are not consumed.
	MaxSlippage decimal.Decimal
	// FeeRate is charged on traded notional as a separate ledger line.
	FeeRate decimal.Decimal
	// A market priced at or beyond these bounds that no longer accepts
	// orders is treated as resolved.
	ResolvedHigh   decimal.Decimal
	ResolvedLow    decimal.Decimal
	IdempotencyTTL time.Duration
	Now            func() time.Time
}

// Executor runs the trade pipeline: validation, idempotency, tradeability,
// fill discovery, risk and arbitrage checks, then atomic settlement.
type Executor struct {
	cfg    Config
	dedup  *Dedup
	logger *slog.Logger
	now    func() time.Time
}

// NewExecutor creates an Executor.
func NewExecutor(cfg Config) *Executor {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 10 * time.Minute
	}
	if cfg.ResolvedHigh.IsZero() {
		cfg.ResolvedHigh = decimal.RequireFromString("0.95")
	}
	if cfg.ResolvedLow.IsZero() {
		cfg.ResolvedLow = decimal.RequireFromString("0.05")
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Executor{
		cfg:    cfg,
		dedup:  NewDedup(cfg.IdempotencyTTL),
		logger: cfg.Logger.With(slog.String("component", "executor")),
		now:    now,
	}
}

// Dedup exposes the idempotency cache so the owner can schedule Cleanup.
func (e *Executor) Dedup() *Dedup { return e.dedup }

func validate(req *Request) error {
	if req.UserID == "" {
		return domain.Invalid("user_id", "is required")
	}
	if req.ChallengeID == "" {
		return domain.Invalid("challenge_id", "is required")
	}
	if req.MarketID == "" {
		return domain.Invalid("market_id", "is required")
	}
	if !req.Side.Valid() {
		return domain.Invalid("side", "must be BUY or SELL, got %q", req.Side)
	}
	if req.Direction == "" {
		req.Direction = domain.DirectionYes
	}
	if !req.Direction.Valid() {
		return domain.Invalid("direction", "must be YES or NO, got %q", req.Direction)
	}
	if req.Platform == "" {
		req.Platform = domain.PlatformPolymarket
	}
	switch req.Side {
	case domain.SideBuy:
		if !req.Amount.IsPositive() {
			return domain.Invalid("amount", "must be positive")
		}
	case domain.SideSell:
		req.Shares = req.Shares.Truncate(sharePlaces)
		if !req.Shares.IsPositive() {
			return domain.Invalid("shares", "must be positive")
		}
	}
	return nil
}

// ExecuteTrade runs a trade to completion or returns the reason it was
// refused. Rejections are *domain.RejectionError, bad input is
// *domain.ValidationError.
func (e *Executor) ExecuteTrade(ctx context.Context, req Request) (Result, error) {
	if err := validate(&req); err != nil {
		return Result{}, err
	}

	ch, err := e.cfg.Challenges.GetByID(ctx, req.ChallengeID)
	if err != nil {
		return Result{}, fmt.Errorf("executor: load challenge: %w", err)
	}
	if ch.Owner != req.UserID {
		return Result{}, fmt.Errorf("executor: challenge %s: %w", req.ChallengeID, domain.ErrUnauthorized)
	}

	if t, ok := e.replay(ctx, req); ok {
		return Result{Trade: t, Replayed: true}, nil
	}
	if !ch.Active() {
		return Result{}, domain.Reject(domain.ErrChallengeNotActive, fmt.Sprintf("Challenge is %s", ch.Status))
	}

	if err := e.checkTradeable(ctx, req.MarketID); err != nil {
		return Result{}, err
	}

	book, err := e.cfg.Markets.OrderBook(ctx, req.MarketID)
	if err != nil {
		return Result{}, fmt.Errorf("executor: order book %s: %w", req.MarketID, err)
	}
	fill, err := Quote(book, req.Side, req.Direction, req.Amount, req.Shares, e.cfg.MaxSlippage)
	if err != nil {
		return Result{}, err
	}

	if req.Side == domain.SideBuy {
		if err := e.preTradeChecks(ctx, req); err != nil {
			return Result{}, err
		}
	}

	var trade domain.Trade
	var replayed bool
	err = e.cfg.Locker.WithChallengeLock(ctx, req.ChallengeID, func(ctx context.Context, tx domain.ChallengeTx) error {
		if req.IdempotencyKey != "" {
			prev, err := tx.TradeByIdempotencyKey(ctx, req.IdempotencyKey)
			if err == nil {
				trade, replayed = prev, true
				return nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("executor: idempotency lookup: %w", err)
			}
		}
		var err error
		if req.Side == domain.SideBuy {
			trade, err = e.settleBuy(ctx, tx, req, fill)
		} else {
			trade, err = e.settleSell(ctx, tx, req, fill)
		}
		return err
	})
	if err != nil {
		return Result{}, err
	}
	e.dedup.Remember(trade)
	if replayed {
		return Result{Trade: trade, Replayed: true}, nil
	}

	e.logger.InfoContext(ctx, "trade executed",
		slog.String("challenge_id", trade.ChallengeID),
		slog.String("trade_id", trade.ID),
		slog.String("market_id", trade.MarketID),
		slog.String("type", string(trade.Type)),
		slog.String("direction", string(trade.Direction)),
		slog.String("price", trade.Price.String()),
		slog.String("shares", trade.Shares.String()),
	)
	e.publish(ctx, trade)

	if e.cfg.Evaluator != nil {
		if _, err := e.cfg.Evaluator.Evaluate(ctx, req.ChallengeID); err != nil {
			e.logger.ErrorContext(ctx, "post-trade evaluation failed",
				slog.String("challenge_id", req.ChallengeID),
				slog.String("error", err.Error()),
			)
		}
	}
	return Result{Trade: trade}, nil
}

func (e *Executor) replay(ctx context.Context, req Request) (domain.Trade, bool) {
	if req.IdempotencyKey == "" {
		return domain.Trade{}, false
	}
	if t, ok := e.dedup.Lookup(req.ChallengeID, req.IdempotencyKey); ok {
		return t, true
	}
	t, err := e.cfg.Trades.GetByIdempotencyKey(ctx, req.ChallengeID, req.IdempotencyKey)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.WarnContext(ctx, "idempotency lookup failed, checking again under lock",
				slog.String("challenge_id", req.ChallengeID),
				slog.String("error", err.Error()),
			)
		}
		return domain.Trade{}, false
	}
	e.dedup.Remember(t)
	return t, true
}

func (e *Executor) checkTradeable(ctx context.Context, marketID string) error {
	res, err := e.cfg.Oracle.Resolution(ctx, marketID)
	if err != nil {
		return fmt.Errorf("executor: resolution %s: %w", marketID, err)
	}
	if res.IsResolved {
		return domain.Reject(domain.ErrMarketResolved, "Market has resolved and can no longer be traded")
	}
	if res.AcceptingOrders {
		return nil
	}
	quote, err := e.cfg.Markets.LatestPrice(ctx, marketID)
	if err != nil {
		return fmt.Errorf("executor: latest price %s: %w", marketID, err)
	}
	if quote.Price.GreaterThanOrEqual(e.cfg.ResolvedHigh) || quote.Price.LessThanOrEqual(e.cfg.ResolvedLow) {
		return domain.Reject(domain.ErrMarketResolved, "Market is effectively resolved and no longer accepting orders")
	}
	return nil
}

func (e *Executor) preTradeChecks(ctx context.Context, req Request) error {
	decision, err := e.cfg.Risk.ValidateTrade(ctx, risk.TradeRequest{
		ChallengeID: req.ChallengeID,
		MarketID:    req.MarketID,
		Amount:      req.Amount,
		Direction:   req.Direction,
	})
	if err != nil {
		return fmt.Errorf("executor: risk check: %w", err)
	}
	if !decision.Allowed {
		return domain.Reject(domain.ErrRiskRejected, decision.Reason)
	}

	check, err := e.cfg.Arbitrage.WouldCreateArbitrage(ctx, req.ChallengeID, req.MarketID, req.Direction, req.Platform)
	if err != nil {
		return fmt.Errorf("executor: arbitrage check: %w", err)
	}
	if check.IsArb {
		return domain.Reject(domain.ErrArbitrageRejected, check.Reason)
	}
	return nil
}

func (e *Executor) fee(notional decimal.Decimal) decimal.Decimal {
	if !e.cfg.FeeRate.IsPositive() {
		return decimal.Zero
	}
	return notional.Mul(e.cfg.FeeRate).Round(sharePlaces)
}

func (e *Executor) settleBuy(ctx context.Context, tx domain.ChallengeTx, req Request, fill Fill) (domain.Trade, error) {
	ch := tx.Challenge()
	if !ch.Active() {
		return domain.Trade{}, domain.Reject(domain.ErrChallengeNotActive, fmt.Sprintf("Challenge is %s", ch.Status))
	}

	fee := e.fee(fill.Amount)
	cost := fill.Amount.Add(fee)
	if cost.GreaterThan(ch.CurrentBalance) {
		return domain.Trade{}, domain.Reject(domain.ErrInsufficientFunds, fmt.Sprintf(
			"Insufficient balance: $%s required, $%s available", cost.StringFixed(2), ch.CurrentBalance.StringFixed(2)))
	}

	open, err := tx.OpenPositions(ctx)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("executor: open positions: %w", err)
	}
	// Re-run the binary check on the locked position set.
	if c := arbitrage.OppositeSide(open, req.MarketID, req.Direction); c.IsArb {
		return domain.Trade{}, domain.Reject(domain.ErrArbitrageRejected, c.Reason)
	}

	now := e.now()
	var pos domain.Position
	var existing bool
	for _, p := range open {
		if p.MarketID == req.MarketID && p.Direction == req.Direction {
			pos, existing = p, true
			break
		}
	}

	if existing {
		total := pos.Shares.Add(fill.Shares)
		pos.EntryPrice = pos.Shares.Mul(pos.EntryPrice).Add(fill.Shares.Mul(fill.Price)).Div(total).Round(pricePlaces)
		pos.Shares = total
		pos.SizeAmount = pos.SizeAmount.Add(fill.Amount)
		pos.CurrentPrice = fill.Price
		pos.FeesPaid = pos.FeesPaid.Add(fee)
		pos.UpdatedAt = now
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return domain.Trade{}, fmt.Errorf("executor: update position: %w", err)
		}
	} else {
		pos = domain.Position{
			ID:           uuid.NewString(),
			ChallengeID:  req.ChallengeID,
			MarketID:     req.MarketID,
			Direction:    req.Direction,
			SizeAmount:   fill.Amount,
			Shares:       fill.Shares,
			EntryPrice:   fill.Price,
			CurrentPrice: fill.Price,
			Status:       domain.PositionOpen,
			PnL:          decimal.Zero,
			FeesPaid:     fee,
			OpenedAt:     now,
			UpdatedAt:    now,
		}
		if err := tx.CreatePosition(ctx, pos); err != nil {
			return domain.Trade{}, fmt.Errorf("executor: create position: %w", err)
		}
	}

	ch.CurrentBalance = ch.CurrentBalance.Sub(cost)
	ch.UpdatedAt = now
	if err := tx.UpdateChallenge(ctx, ch); err != nil {
		return domain.Trade{}, fmt.Errorf("executor: update balance: %w", err)
	}

	trade := domain.Trade{
		ID:             uuid.NewString(),
		PositionID:     pos.ID,
		ChallengeID:    req.ChallengeID,
		MarketID:       req.MarketID,
		Direction:      req.Direction,
		Type:           domain.SideBuy,
		Price:          fill.Price,
		Amount:         fill.Amount,
		Shares:         fill.Shares,
		RealizedPnL:    decimal.Zero,
		Fee:            fee,
		IdempotencyKey: req.IdempotencyKey,
		ExecutedAt:     now,
	}
	if err := tx.InsertTrade(ctx, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("executor: insert trade: %w", err)
	}
	return trade, nil
}

func (e *Executor) settleSell(ctx context.Context, tx domain.ChallengeTx, req Request, fill Fill) (domain.Trade, error) {
	ch := tx.Challenge()
	if !ch.Active() {
		return domain.Trade{}, domain.Reject(domain.ErrChallengeNotActive, fmt.Sprintf("Challenge is %s", ch.Status))
	}

	open, err := tx.OpenPositions(ctx)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("executor: open positions: %w", err)
	}
	var pos domain.Position
	found := false
	for _, p := range open {
		if p.MarketID == req.MarketID && p.Direction == req.Direction {
			pos, found = p, true
			break
		}
	}
	if !found {
		return domain.Trade{}, domain.Reject(domain.ErrPositionNotFound,
			fmt.Sprintf("No open %s position on this market", req.Direction))
	}
	if pos.Shares.LessThan(req.Shares) {
		return domain.Trade{}, domain.Reject(domain.ErrPositionNotFound, fmt.Sprintf(
			"Position holds %s shares, cannot sell %s", pos.Shares.String(), req.Shares.String()))
	}

	now := e.now()
	fee := e.fee(fill.Amount)
	realized := fill.Shares.Mul(fill.Price.Sub(pos.EntryPrice))

	if pos.Shares.Equal(fill.Shares) {
		pos.Shares = decimal.Zero
		pos.SizeAmount = decimal.Zero
		pos.Status = domain.PositionClosed
		pos.ClosedAt = &now
	} else {
		remaining := pos.Shares.Sub(fill.Shares)
		pos.SizeAmount = pos.SizeAmount.Mul(remaining).Div(pos.Shares).Round(sharePlaces)
		pos.Shares = remaining
	}
	pos.PnL = pos.PnL.Add(realized)
	pos.FeesPaid = pos.FeesPaid.Add(fee)
	pos.CurrentPrice = fill.Price
	pos.UpdatedAt = now
	if err := tx.UpdatePosition(ctx, pos); err != nil {
		return domain.Trade{}, fmt.Errorf("executor: update position: %w", err)
	}

	ch.CurrentBalance = ch.CurrentBalance.Add(fill.Amount).Sub(fee)
	ch.UpdatedAt = now
	if err := tx.UpdateChallenge(ctx, ch); err != nil {
		return domain.Trade{}, fmt.Errorf("executor: update balance: %w", err)
	}

	trade := domain.Trade{
		ID:             uuid.NewString(),
		PositionID:     pos.ID,
		ChallengeID:    req.ChallengeID,
		MarketID:       req.MarketID,
		Direction:      req.Direction,
		Type:           domain.SideSell,
		Price:          fill.Price,
		Amount:         fill.Amount,
		Shares:         fill.Shares,
		RealizedPnL:    realized,
		Fee:            fee,
		IdempotencyKey: req.IdempotencyKey,
		ExecutedAt:     now,
	}
	if err := tx.InsertTrade(ctx, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("executor: insert trade: %w", err)
	}
	return trade, nil
}

type tradeEvent struct {
	Event       string           `json:"event"`
	TradeID     string           `json:"trade_id"`
	ChallengeID string           `json:"challenge_id"`
	MarketID    string           `json:"market_id"`
	Type        domain.TradeSide `json:"type"`
	Direction   domain.Direction `json:"direction"`
	Price       decimal.Decimal  `json:"price"`
	Shares      decimal.Decimal  `json:"shares"`
	Amount      decimal.Decimal  `json:"amount"`
	ExecutedAt  time.Time        `json:"executed_at"`
}

func (e *Executor) publish(ctx context.Context, t domain.Trade) {
	if e.cfg.Bus == nil {
		return
	}
	payload, err := json.Marshal(tradeEvent{
		Event:       "trade_executed",
		TradeID:     t.ID,
		ChallengeID: t.ChallengeID,
		MarketID:    t.MarketID,
		Type:        t.Type,
		Direction:   t.Direction,
		Price:       t.Price,
		Shares:      t.Shares,
		Amount:      t.Amount,
		ExecutedAt:  t.ExecutedAt,
	})
	if err != nil {
		return
	}
	if err := e.cfg.Bus.StreamAppend(ctx, TradesStream, payload); err != nil {
		e.logger.WarnContext(ctx, "publish trade failed",
			slog.String("trade_id", t.ID),
			slog.String("error", err.Error()),
		)
	}
}
