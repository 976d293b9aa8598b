package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/evaluator"
	"github.com/alanyoungcy/propdesk/internal/executor"
	"github.com/alanyoungcy/propdesk/internal/valuation"
)

const settlePlaces = 6

// ResolutionSettler pays out open positions on resolved markets: each share
// is redeemed at the resolution price of the held side and the position is
// closed with a SELL ledger row keyed "settle:{position id}".
type ResolutionSettler struct {
	positions domain.PositionStore
	locker    domain.ChallengeLocker
	oracle    domain.ResolutionOracle
	bus       domain.EventBus // optional
	logger    *slog.Logger
	now       func() time.Time
}

var _ evaluator.Settler = (*ResolutionSettler)(nil)

// NewResolutionSettler creates a ResolutionSettler.
func NewResolutionSettler(
	positions domain.PositionStore,
	locker domain.ChallengeLocker,
	oracle domain.ResolutionOracle,
	bus domain.EventBus,
	logger *slog.Logger,
) *ResolutionSettler {
	return &ResolutionSettler{
		positions: positions,
		locker:    locker,
		oracle:    oracle,
		bus:       bus,
		logger:    logger.With(slog.String("component", "settlement")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SettleResolved closes every open position of challengeID whose market has
// resolved and returns how many were closed. Resolutions are fetched before
// the challenge lock is taken.
func (s *ResolutionSettler) SettleResolved(ctx context.Context, challengeID string) (int, error) {
	open, err := s.positions.GetOpen(ctx, challengeID)
	if err != nil {
		return 0, fmt.Errorf("settlement: open positions: %w", err)
	}
	if len(open) == 0 {
		return 0, nil
	}

	resolved := make(map[string]domain.Resolution)
	checked := make(map[string]bool, len(open))
	for _, p := range open {
		if checked[p.MarketID] {
			continue
		}
		checked[p.MarketID] = true
		res, err := s.oracle.Resolution(ctx, p.MarketID)
		if err != nil {
			s.logger.DebugContext(ctx, "resolution fetch failed",
				slog.String("market_id", p.MarketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if res.IsResolved {
			resolved[p.MarketID] = res
		}
	}
	if len(resolved) == 0 {
		return 0, nil
	}

	var settled []domain.Trade
	err = s.locker.WithChallengeLock(ctx, challengeID, func(ctx context.Context, tx domain.ChallengeTx) error {
		settled = settled[:0]
		ch := tx.Challenge()
		if !ch.Active() {
			return nil
		}
		current, err := tx.OpenPositions(ctx)
		if err != nil {
			return fmt.Errorf("settlement: open positions: %w", err)
		}

		now := s.now()
		for _, pos := range current {
			res, ok := resolved[pos.MarketID]
			if !ok {
				continue
			}
			trade, err := settle(ctx, tx, &ch, pos, res, now)
			if err != nil {
				return err
			}
			settled = append(settled, trade)
		}
		if len(settled) == 0 {
			return nil
		}
		ch.UpdatedAt = now
		if err := tx.UpdateChallenge(ctx, ch); err != nil {
			return fmt.Errorf("settlement: update balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, t := range settled {
		s.logger.InfoContext(ctx, "position settled",
			slog.String("challenge_id", t.ChallengeID),
			slog.String("position_id", t.PositionID),
			slog.String("market_id", t.MarketID),
			slog.String("payout", t.Amount.StringFixed(2)),
			slog.String("realized_pnl", t.RealizedPnL.StringFixed(2)),
		)
		s.publish(ctx, t)
	}
	return len(settled), nil
}

func settle(ctx context.Context, tx domain.ChallengeTx, ch *domain.Challenge, pos domain.Position, res domain.Resolution, now time.Time) (domain.Trade, error) {
	payout := valuation.DirectionAdjustedPrice(res.ResolutionPrice, pos.Direction)
	shares := pos.Shares
	amount := shares.Mul(payout).Round(settlePlaces)
	realized := shares.Mul(payout.Sub(pos.EntryPrice))

	pos.Shares = decimal.Zero
	pos.SizeAmount = decimal.Zero
	pos.CurrentPrice = payout
	pos.PnL = pos.PnL.Add(realized)
	pos.Status = domain.PositionClosed
	pos.ClosedAt = &now
	pos.UpdatedAt = now
	if err := tx.UpdatePosition(ctx, pos); err != nil {
		return domain.Trade{}, fmt.Errorf("settlement: close position %s: %w", pos.ID, err)
	}
	ch.CurrentBalance = ch.CurrentBalance.Add(amount)

	trade := domain.Trade{
		ID:             uuid.NewString(),
		PositionID:     pos.ID,
		ChallengeID:    pos.ChallengeID,
		MarketID:       pos.MarketID,
		Direction:      pos.Direction,
		Type:           domain.SideSell,
		Price:          payout,
		Amount:         amount,
		Shares:         shares,
		RealizedPnL:    realized,
		Fee:            decimal.Zero,
		IdempotencyKey: "settle:" + pos.ID,
		ExecutedAt:     now,
	}
	if err := tx.InsertTrade(ctx, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("settlement: insert trade: %w", err)
	}
	return trade, nil
}

func (s *ResolutionSettler) publish(ctx context.Context, t domain.Trade) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":        "position_settled",
		"trade_id":     t.ID,
		"challenge_id": t.ChallengeID,
		"position_id":  t.PositionID,
		"market_id":    t.MarketID,
		"direction":    t.Direction,
		"price":        t.Price,
		"shares":       t.Shares,
		"amount":       t.Amount,
		"realized_pnl": t.RealizedPnL,
		"executed_at":  t.ExecutedAt,
	})
	if err != nil {
		return
	}
	if err := s.bus.StreamAppend(ctx, executor.TradesStream, payload); err != nil {
		s.logger.WarnContext(ctx, "publish settlement failed",
			slog.String("trade_id", t.ID),
			slog.String("error", err.Error()),
		)
	}
}
