// Package evaluator drives the challenge state machine: time limit, drawdown,
// daily loss, profit target and the high-water mark.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/valuation"
)

// closePlaces is the precision of closing trade amounts.
const closePlaces = 6

// ChallengesChannel is the event bus channel transitions are published on.
const ChallengesChannel = "challenges"

// Failure and transition reasons.
const (
	ReasonTimeLimit        = "Time limit exceeded"
	ReasonMaxDrawdown      = "Max drawdown exceeded"
	ReasonDailyLoss        = "Daily loss limit exceeded"
	ReasonDailyLossPending = "Daily loss limit breached, pending failure"
	ReasonFunded           = "Profit target reached, account funded"
	ReasonPassed           = "Profit target reached"
)

// Notifier delivers operator and trader alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Result is the outcome of an evaluation.
type Result struct {
	ChallengeID      string                 `json:"challenge_id"`
	Status           domain.ChallengeStatus `json:"status"`
	Phase            domain.ChallengePhase  `json:"phase"`
	Reason           string                 `json:"reason,omitempty"`
	Equity           decimal.Decimal        `json:"equity"`
	HighWaterMark    decimal.Decimal        `json:"high_water_mark"`
	PendingFailureAt *time.Time             `json:"pending_failure_at,omitempty"`
	Transitioned     bool                   `json:"transitioned"`
}

// Config wires the evaluator.
type Config struct {
	Challenges domain.ChallengeStore
	Positions  domain.PositionStore
	Locker     domain.ChallengeLocker
	Markets    domain.MarketData // optional, stored prices are used without it
	Audit      domain.AuditStore // optional
	Bus        domain.EventBus   // optional
	Notifier   Notifier          // optional
	Logger     *slog.Logger

	// GracePeriod bounds how long a daily-loss breach may stay pending
	// before the challenge fails.
	GracePeriod time.Duration
	Now         func() time.Time
}

// Evaluator applies the challenge rules. It is safe for concurrent use; all
// state changes happen under the challenge lock.
type Evaluator struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Evaluator.
func New(cfg Config) *Evaluator {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 24 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Evaluator{
		cfg:    cfg,
		logger: cfg.Logger.With(slog.String("component", "evaluator")),
		now:    now,
	}
}

// Evaluate checks a challenge against its rules and persists any transition.
// Calling it again without an intervening change yields the same result.
func (e *Evaluator) Evaluate(ctx context.Context, challengeID string) (Result, error) {
	return e.run(ctx, challengeID, false)
}

// DailyReset rolls a challenge into a new trading day. A daily-loss breach
// still in effect at the boundary fails the challenge; otherwise the
// start-of-day balance is re-marked and any pending failure cleared. It runs
// at most once per UTC day per challenge.
func (e *Evaluator) DailyReset(ctx context.Context, challengeID string) (Result, error) {
	return e.run(ctx, challengeID, true)
}

func (e *Evaluator) run(ctx context.Context, challengeID string, reset bool) (Result, error) {
	prices, err := e.livePrices(ctx, challengeID)
	if err != nil {
		return Result{}, err
	}

	var res Result
	var before domain.Challenge
	var liquidated []domain.Trade
	err = e.cfg.Locker.WithChallengeLock(ctx, challengeID, func(ctx context.Context, tx domain.ChallengeTx) error {
		before = tx.Challenge()
		open, err := tx.OpenPositions(ctx)
		if err != nil {
			return fmt.Errorf("evaluator: open positions: %w", err)
		}
		portfolio := valuation.PortfolioValue(open, prices)
		equity := before.CurrentBalance.Add(portfolio.TotalValue)

		now := e.now()
		var after domain.Challenge
		if reset {
			after, res = DailyRoll(before, equity, now)
		} else {
			after, res = Decide(before, equity, now, e.cfg.GracePeriod)
		}
		if after.Phase != before.Phase {
			closed, err := closeAtMark(ctx, tx, open, portfolio, now)
			if err != nil {
				return err
			}
			liquidated = closed
		}
		if changed(before, after) {
			after.UpdatedAt = now
			if err := tx.UpdateChallenge(ctx, after); err != nil {
				return fmt.Errorf("evaluator: update challenge: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	for _, t := range liquidated {
		e.logger.InfoContext(ctx, "position closed at phase change",
			slog.String("challenge_id", t.ChallengeID),
			slog.String("position_id", t.PositionID),
			slog.String("price", t.Price.String()),
			slog.String("realized_pnl", t.RealizedPnL.StringFixed(2)),
		)
	}
	if res.Transitioned || pendingStarted(before, res) {
		e.announce(ctx, before, res)
	}
	return res, nil
}

// closeAtMark closes every open position at the price it was valued at and
// writes the matching SELL rows. The next phase starts flat; its balance is
// reset by Decide, so the proceeds are not credited.
func closeAtMark(ctx context.Context, tx domain.ChallengeTx, open []domain.Position, portfolio valuation.Portfolio, now time.Time) ([]domain.Trade, error) {
	marks := make(map[string]decimal.Decimal, len(portfolio.Positions))
	for _, vp := range portfolio.Positions {
		marks[vp.PositionID] = vp.Price
	}

	trades := make([]domain.Trade, 0, len(open))
	for _, pos := range open {
		price, ok := marks[pos.ID]
		if !ok {
			price = pos.CurrentPrice
		}
		shares := pos.Shares
		realized := shares.Mul(price.Sub(pos.EntryPrice))

		pos.Shares = decimal.Zero
		pos.SizeAmount = decimal.Zero
		pos.CurrentPrice = price
		pos.PnL = pos.PnL.Add(realized)
		pos.Status = domain.PositionClosed
		pos.ClosedAt = &now
		pos.UpdatedAt = now
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return nil, fmt.Errorf("evaluator: close position %s: %w", pos.ID, err)
		}

		trade := domain.Trade{
			ID:             uuid.NewString(),
			PositionID:     pos.ID,
			ChallengeID:    pos.ChallengeID,
			MarketID:       pos.MarketID,
			Direction:      pos.Direction,
			Type:           domain.SideSell,
			Price:          price,
			Amount:         shares.Mul(price).Round(closePlaces),
			Shares:         shares,
			RealizedPnL:    realized,
			Fee:            decimal.Zero,
			IdempotencyKey: "phase-close:" + pos.ID,
			ExecutedAt:     now,
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return nil, fmt.Errorf("evaluator: insert closing trade: %w", err)
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

// livePrices fetches the latest YES price of every market with an open
// position. Failures leave the market out so valuation falls back to stored
// prices.
func (e *Evaluator) livePrices(ctx context.Context, challengeID string) (map[string]decimal.Decimal, error) {
	if e.cfg.Markets == nil || e.cfg.Positions == nil {
		return nil, nil
	}
	open, err := e.cfg.Positions.GetOpen(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("evaluator: load positions: %w", err)
	}
	prices := make(map[string]decimal.Decimal, len(open))
	for _, p := range open {
		if _, ok := prices[p.MarketID]; ok {
			continue
		}
		q, err := e.cfg.Markets.LatestPrice(ctx, p.MarketID)
		if err != nil {
			e.logger.WarnContext(ctx, "latest price unavailable, using stored price",
				slog.String("market_id", p.MarketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		prices[p.MarketID] = q.Price
	}
	return prices, nil
}

func pendingStarted(before domain.Challenge, res Result) bool {
	return before.PendingFailureAt == nil && res.PendingFailureAt != nil
}

func changed(a, b domain.Challenge) bool {
	return a.Status != b.Status ||
		a.Phase != b.Phase ||
		!a.CurrentBalance.Equal(b.CurrentBalance) ||
		!a.StartOfDayBalance.Equal(b.StartOfDayBalance) ||
		!a.HighWaterMark.Equal(b.HighWaterMark) ||
		!timeEq(a.PendingFailureAt, b.PendingFailureAt) ||
		!timeEq(a.EndsAt, b.EndsAt) ||
		!timeEq(a.LastDailyResetAt, b.LastDailyResetAt) ||
		!timeEq(a.CompletedAt, b.CompletedAt) ||
		a.FailureReason != b.FailureReason
}

func timeEq(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

type transitionEvent struct {
	Event       string                 `json:"event"`
	ChallengeID string                 `json:"challenge_id"`
	Owner       string                 `json:"owner"`
	FromStatus  domain.ChallengeStatus `json:"from_status"`
	ToStatus    domain.ChallengeStatus `json:"to_status"`
	FromPhase   domain.ChallengePhase  `json:"from_phase"`
	ToPhase     domain.ChallengePhase  `json:"to_phase"`
	Reason      string                 `json:"reason"`
	Equity      decimal.Decimal        `json:"equity"`
	At          time.Time              `json:"at"`
}

func eventName(before domain.Challenge, res Result) string {
	switch {
	case res.Status == domain.ChallengeFailed:
		return "challenge_failed"
	case res.Status == domain.ChallengePassed:
		return "challenge_passed"
	case res.Phase != before.Phase:
		return "challenge_funded"
	case res.PendingFailureAt != nil:
		return "challenge_pending_failure"
	}
	return "challenge_updated"
}

// announce records a transition in the audit log, the event bus and the
// notifier. Each sink is best-effort.
func (e *Evaluator) announce(ctx context.Context, before domain.Challenge, res Result) {
	ev := transitionEvent{
		Event:       eventName(before, res),
		ChallengeID: before.ID,
		Owner:       before.Owner,
		FromStatus:  before.Status,
		ToStatus:    res.Status,
		FromPhase:   before.Phase,
		ToPhase:     res.Phase,
		Reason:      res.Reason,
		Equity:      res.Equity,
		At:          e.now(),
	}
	e.logger.InfoContext(ctx, "challenge transition",
		slog.String("challenge_id", ev.ChallengeID),
		slog.String("event", ev.Event),
		slog.String("status", string(ev.ToStatus)),
		slog.String("phase", string(ev.ToPhase)),
		slog.String("reason", ev.Reason),
		slog.String("equity", ev.Equity.StringFixed(2)),
	)

	if e.cfg.Audit != nil {
		detail := map[string]any{
			"challenge_id": ev.ChallengeID,
			"from_status":  ev.FromStatus,
			"to_status":    ev.ToStatus,
			"from_phase":   ev.FromPhase,
			"to_phase":     ev.ToPhase,
			"reason":       ev.Reason,
			"equity":       ev.Equity.String(),
		}
		if err := e.cfg.Audit.Log(ctx, ev.Event, detail); err != nil {
			e.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	if e.cfg.Bus != nil {
		if payload, err := json.Marshal(ev); err == nil {
			if err := e.cfg.Bus.Publish(ctx, ChallengesChannel, payload); err != nil {
				e.logger.WarnContext(ctx, "publish transition failed", slog.String("error", err.Error()))
			}
		}
	}

	if e.cfg.Notifier != nil {
		title := fmt.Sprintf("Challenge %s: %s", ev.ChallengeID, ev.Event)
		msg := fmt.Sprintf("%s\nstatus: %s, phase: %s, equity: $%s", ev.Reason, ev.ToStatus, ev.ToPhase, ev.Equity.StringFixed(2))
		if err := e.cfg.Notifier.Notify(ctx, ev.Event, title, msg); err != nil {
			e.logger.WarnContext(ctx, "notify transition failed", slog.String("error", err.Error()))
		}
	}
}
