// Package arbitrage blocks trades that would leave a challenge holding a
// risk-free combination of outcomes.
package arbitrage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// EventResolver looks up the event a market belongs to. It returns (nil, nil)
// for a standalone market.
type EventResolver interface {
	EventInfo(ctx context.Context, marketID string) (*domain.EventInfo, error)
}

// Check is the outcome of WouldCreateArbitrage.
type Check struct {
	IsArb  bool   `json:"is_arbitrage"`
	Reason string `json:"reason,omitempty"`
}

// Detector checks proposed trades against a challenge's open positions.
type Detector struct {
	positions domain.PositionStore
	resolvers map[domain.Platform]EventResolver
	fallback  domain.Platform
	logger    *slog.Logger
}

// DetectorConfig configures the detector.
type DetectorConfig struct {
	Positions domain.PositionStore
	// Resolvers maps a platform to its event source. Unknown platforms use
	// the Default platform's resolver.
	Resolvers map[domain.Platform]EventResolver
	Default   domain.Platform
	Logger    *slog.Logger
}

// NewDetector creates a Detector.
func NewDetector(cfg DetectorConfig) *Detector {
	def := cfg.Default
	if def == "" {
		def = domain.PlatformPolymarket
	}
	return &Detector{
		positions: cfg.Positions,
		resolvers: cfg.Resolvers,
		fallback:  def,
		logger:    cfg.Logger.With(slog.String("component", "arb_detector")),
	}
}

// WouldCreateArbitrage reports whether buying direction on marketID would
// complete a risk-free position. The binary check runs first; the
// multi-outcome check only applies to markets inside a multi-outcome event.
func (d *Detector) WouldCreateArbitrage(ctx context.Context, challengeID, marketID string, direction domain.Direction, platform domain.Platform) (Check, error) {
	open, err := d.positions.GetOpen(ctx, challengeID)
	if err != nil {
		return Check{}, fmt.Errorf("arbitrage: load positions: %w", err)
	}

	if c := OppositeSide(open, marketID, direction); c.IsArb {
		d.logBlocked(ctx, challengeID, marketID, c.Reason)
		return c, nil
	}

	resolver := d.resolver(platform)
	if resolver == nil {
		return Check{}, nil
	}
	event, err := resolver.EventInfo(ctx, marketID)
	if err != nil {
		return Check{}, fmt.Errorf("arbitrage: resolve event for %s: %w", marketID, err)
	}
	if c := CompletesEvent(open, event, marketID); c.IsArb {
		d.logBlocked(ctx, challengeID, marketID, c.Reason)
		return c, nil
	}
	return Check{}, nil
}

func (d *Detector) resolver(p domain.Platform) EventResolver {
	if r, ok := d.resolvers[p]; ok {
		return r
	}
	return d.resolvers[d.fallback]
}

func (d *Detector) logBlocked(ctx context.Context, challengeID, marketID, reason string) {
	d.logger.InfoContext(ctx, "arbitrage blocked",
		slog.String("challenge_id", challengeID),
		slog.String("market_id", marketID),
		slog.String("reason", reason),
	)
}

// OppositeSide blocks holding both YES and NO of the same binary market.
func OppositeSide(open []domain.Position, marketID string, direction domain.Direction) Check {
	for _, p := range open {
		if p.MarketID == marketID && p.Status == domain.PositionOpen && p.Direction != direction {
			return Check{
				IsArb:  true,
				Reason: fmt.Sprintf("Cannot buy %s: you already hold %s on this market", direction, p.Direction),
			}
		}
	}
	return Check{}
}

// CompletesEvent blocks buying the last uncovered outcome of a multi-outcome
// event when every other outcome is already held.
func CompletesEvent(open []domain.Position, event *domain.EventInfo, marketID string) Check {
	if event == nil || !event.IsMultiOutcome || len(event.Outcomes) < 2 {
		return Check{}
	}

	held := make(map[string]struct{})
	for _, p := range open {
		if p.Status != domain.PositionOpen || p.MarketID == marketID {
			continue
		}
		if event.Contains(p.MarketID) {
			held[p.MarketID] = struct{}{}
		}
	}

	n := len(event.Outcomes)
	if event.Contains(marketID) && len(held) == n-1 {
		return Check{
			IsArb:  true,
			Reason: fmt.Sprintf("Cannot buy the last outcome: you already hold %d of %d outcomes in this event", n-1, n),
		}
	}
	return Check{}
}
