package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/valuation"
)

// Tier is a purchasable challenge size and its risk rules.
type Tier struct {
	Name            string
	StartingBalance decimal.Decimal
	Rules           domain.RulesConfig
}

// ChallengeServiceConfig wires a ChallengeService.
type ChallengeServiceConfig struct {
	Challenges domain.ChallengeStore
	Positions  domain.PositionStore
	Trades     domain.TradeStore
	Locker     domain.ChallengeLocker
	Markets    domain.MarketData // optional, stored prices are used without it
	Audit      domain.AuditStore // optional
	Tiers      []Tier
	Logger     *slog.Logger
	Now        func() time.Time
}

// ChallengeService creates, queries and cancels challenge accounts.
type ChallengeService struct {
	cfg    ChallengeServiceConfig
	tiers  map[string]Tier
	logger *slog.Logger
	now    func() time.Time
}

// NewChallengeService creates a ChallengeService. Tier names are matched
// case-insensitively.
func NewChallengeService(cfg ChallengeServiceConfig) *ChallengeService {
	tiers := make(map[string]Tier, len(cfg.Tiers))
	for _, t := range cfg.Tiers {
		tiers[strings.ToLower(t.Name)] = t
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &ChallengeService{
		cfg:    cfg,
		tiers:  tiers,
		logger: cfg.Logger.With(slog.String("component", "challenge_service")),
		now:    now,
	}
}

// Tiers returns the configured tiers in configuration order.
func (s *ChallengeService) Tiers() []Tier {
	out := make([]Tier, len(s.cfg.Tiers))
	copy(out, s.cfg.Tiers)
	return out
}

// Create opens a new challenge for owner on the named tier.
func (s *ChallengeService) Create(ctx context.Context, owner, tierName string) (domain.Challenge, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return domain.Challenge{}, domain.Invalid("owner", "is required")
	}
	tier, ok := s.tiers[strings.ToLower(strings.TrimSpace(tierName))]
	if !ok {
		return domain.Challenge{}, domain.Invalid("tier", "unknown tier %q", tierName)
	}

	now := s.now()
	c := domain.Challenge{
		ID:                uuid.NewString(),
		Owner:             owner,
		Tier:              tier.Name,
		Phase:             domain.PhaseChallenge,
		Status:            domain.ChallengeActive,
		StartingBalance:   tier.StartingBalance,
		CurrentBalance:    tier.StartingBalance,
		StartOfDayBalance: tier.StartingBalance,
		HighWaterMark:     tier.StartingBalance,
		Rules:             tier.Rules.WithThresholds(tier.StartingBalance),
		StartedAt:         now,
		PhaseStartedAt:    now,
		LastDailyResetAt:  &now,
		UpdatedAt:         now,
	}
	if days := tier.Rules.DurationDays; days > 0 {
		ends := now.AddDate(0, 0, days)
		c.EndsAt = &ends
	}

	if err := s.cfg.Challenges.Create(ctx, c); err != nil {
		return domain.Challenge{}, fmt.Errorf("service: create challenge: %w", err)
	}
	s.logger.InfoContext(ctx, "challenge created",
		slog.String("challenge_id", c.ID),
		slog.String("owner", c.Owner),
		slog.String("tier", c.Tier),
	)
	s.audit(ctx, "challenge_created", map[string]any{
		"challenge_id":     c.ID,
		"owner":            c.Owner,
		"tier":             c.Tier,
		"starting_balance": c.StartingBalance.String(),
	})
	return c, nil
}

// Get returns one challenge.
func (s *ChallengeService) Get(ctx context.Context, id string) (domain.Challenge, error) {
	c, err := s.cfg.Challenges.GetByID(ctx, id)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("service: get challenge %s: %w", id, err)
	}
	return c, nil
}

// ListByOwner returns an owner's challenges, newest first.
func (s *ChallengeService) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Challenge, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, domain.Invalid("owner", "is required")
	}
	out, err := s.cfg.Challenges.ListByOwner(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list challenges: %w", err)
	}
	return out, nil
}

// Positions returns every position of a challenge.
func (s *ChallengeService) Positions(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Position, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	out, err := s.cfg.Positions.ListByChallenge(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list positions: %w", err)
	}
	return out, nil
}

// Trades returns the ledger of a challenge, newest first.
func (s *ChallengeService) Trades(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Trade, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	out, err := s.cfg.Trades.ListByChallenge(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list trades: %w", err)
	}
	return out, nil
}

// Cancel ends an active challenge at the owner's request. Open positions are
// left as they are.
func (s *ChallengeService) Cancel(ctx context.Context, id, owner string) (domain.Challenge, error) {
	var out domain.Challenge
	err := s.cfg.Locker.WithChallengeLock(ctx, id, func(ctx context.Context, tx domain.ChallengeTx) error {
		c := tx.Challenge()
		if owner != "" && c.Owner != owner {
			return fmt.Errorf("service: cancel challenge %s: %w", id, domain.ErrUnauthorized)
		}
		if !c.Active() {
			return domain.Reject(domain.ErrChallengeNotActive, fmt.Sprintf("Challenge is %s", c.Status))
		}
		now := s.now()
		c.Status = domain.ChallengeCancelled
		c.FailureReason = "Cancelled by owner"
		c.PendingFailureAt = nil
		c.CompletedAt = &now
		c.UpdatedAt = now
		if err := tx.UpdateChallenge(ctx, c); err != nil {
			return fmt.Errorf("service: cancel challenge %s: %w", id, err)
		}
		out = c
		return nil
	})
	if err != nil {
		return domain.Challenge{}, err
	}

	s.logger.InfoContext(ctx, "challenge cancelled", slog.String("challenge_id", id))
	s.audit(ctx, "challenge_cancelled", map[string]any{"challenge_id": id, "owner": out.Owner})
	return out, nil
}

// PortfolioView is the mark-to-market state of a challenge.
type PortfolioView struct {
	ChallengeID    string                     `json:"challenge_id"`
	Balance        decimal.Decimal            `json:"balance"`
	PositionsValue decimal.Decimal            `json:"positions_value"`
	Equity         decimal.Decimal            `json:"equity"`
	Positions      []valuation.ValuedPosition `json:"positions"`
}

// Portfolio values the open positions of a challenge at live prices. Markets
// whose price cannot be fetched fall back to stored prices.
func (s *ChallengeService) Portfolio(ctx context.Context, id string) (PortfolioView, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return PortfolioView{}, err
	}
	open, err := s.cfg.Positions.GetOpen(ctx, id)
	if err != nil {
		return PortfolioView{}, fmt.Errorf("service: open positions: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(open))
	if s.cfg.Markets != nil {
		for _, p := range open {
			if _, ok := prices[p.MarketID]; ok {
				continue
			}
			q, err := s.cfg.Markets.LatestPrice(ctx, p.MarketID)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.WarnContext(ctx, "latest price unavailable, using stored price",
						slog.String("market_id", p.MarketID),
						slog.String("error", err.Error()),
					)
				}
				continue
			}
			prices[p.MarketID] = q.Price
		}
	}

	pf := valuation.PortfolioValue(open, prices)
	return PortfolioView{
		ChallengeID:    id,
		Balance:        c.CurrentBalance,
		PositionsValue: pf.TotalValue,
		Equity:         c.CurrentBalance.Add(pf.TotalValue),
		Positions:      pf.Positions,
	}, nil
}

func (s *ChallengeService) audit(ctx context.Context, event string, detail map[string]any) {
	if s.cfg.Audit == nil {
		return
	}
	if err := s.cfg.Audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
