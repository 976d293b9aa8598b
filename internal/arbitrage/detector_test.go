package arbitrage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/platform/fake"
	"github.com/alanyoungcy/propdesk/internal/store/memory"
)

type errResolver struct{ err error }

func (r errResolver) EventInfo(context.Context, string) (*domain.EventInfo, error) {
	return nil, r.err
}

func setup(t *testing.T, positions ...domain.Position) (*memory.Store, *fake.Market) {
	t.Helper()
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, domain.Challenge{ID: "c1", Status: domain.ChallengeActive}))
	require.NoError(t, s.WithChallengeLock(ctx, "c1", func(ctx context.Context, tx domain.ChallengeTx) error {
		for _, p := range positions {
			if err := tx.CreatePosition(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}))
	return s, fake.NewMarket()
}

func pos(id, marketID string, dir domain.Direction) domain.Position {
	return domain.Position{
		ID: id, ChallengeID: "c1", MarketID: marketID, Direction: dir,
		Shares: decimal.NewFromInt(10), Status: domain.PositionOpen, OpenedAt: time.Now(),
	}
}

func newDetector(s *memory.Store, r EventResolver) *Detector {
	return NewDetector(DetectorConfig{
		Positions: s,
		Resolvers: map[domain.Platform]EventResolver{domain.PlatformPolymarket: r},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestBinaryOppositeDirectionBlocked(t *testing.T) {
	s, m := setup(t, pos("p1", "m1", domain.DirectionYes))
	d := newDetector(s, m)

	c, err := d.WouldCreateArbitrage(context.Background(), "c1", "m1", domain.DirectionNo, domain.PlatformPolymarket)
	require.NoError(t, err)
	assert.True(t, c.IsArb)
	assert.Contains(t, c.Reason, "already hold YES")

	c, err = d.WouldCreateArbitrage(context.Background(), "c1", "m1", domain.DirectionYes, domain.PlatformPolymarket)
	require.NoError(t, err)
	assert.False(t, c.IsArb)
}

func TestMultiOutcomeLastLegBlocked(t *testing.T) {
	event := domain.EventInfo{EventID: "e", Outcomes: []string{"a", "b", "c", "d"}, IsMultiOutcome: true}

	tests := []struct {
		name string
		held []string
		buy  string
		want bool
	}{
		{"n-1 held", []string{"a", "b", "c"}, "d", true},
		{"n-2 held", []string{"a", "b"}, "d", false},
		{"none held", nil, "a", false},
		{"adding to held outcome", []string{"a", "b"}, "a", false},
		{"outside event", []string{"a", "b", "c"}, "z", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ps []domain.Position
			for _, id := range tt.held {
				ps = append(ps, pos("pos-"+id, id, domain.DirectionYes))
			}
			s, m := setup(t, ps...)
			m.SetEvent(event)
			d := newDetector(s, m)

			c, err := d.WouldCreateArbitrage(context.Background(), "c1", tt.buy, domain.DirectionYes, domain.PlatformPolymarket)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.IsArb, c.Reason)
		})
	}
}

func TestStandaloneMarketSkipsEventCheck(t *testing.T) {
	s, m := setup(t, pos("p1", "x", domain.DirectionYes))
	d := newDetector(s, m)
	c, err := d.WouldCreateArbitrage(context.Background(), "c1", "y", domain.DirectionYes, domain.PlatformPolymarket)
	require.NoError(t, err)
	assert.False(t, c.IsArb)
}

func TestUnknownPlatformFallsBackToDefault(t *testing.T) {
	s, m := setup(t, pos("p1", "a", domain.DirectionYes))
	m.SetEvent(domain.EventInfo{EventID: "e", Outcomes: []string{"a", "b"}, IsMultiOutcome: true})
	d := newDetector(s, m)

	c, err := d.WouldCreateArbitrage(context.Background(), "c1", "b", domain.DirectionYes, "unknown")
	require.NoError(t, err)
	assert.True(t, c.IsArb)
}

func TestResolverErrorPropagates(t *testing.T) {
	s, _ := setup(t)
	boom := errors.New("upstream down")
	d := newDetector(s, errResolver{err: boom})

	_, err := d.WouldCreateArbitrage(context.Background(), "c1", "m1", domain.DirectionYes, domain.PlatformPolymarket)
	assert.ErrorIs(t, err, boom)
}

func TestCompletesEventIgnoresNonMultiOutcome(t *testing.T) {
	open := []domain.Position{pos("p1", "a", domain.DirectionYes)}
	ev := &domain.EventInfo{EventID: "e", Outcomes: []string{"a", "b"}, IsMultiOutcome: false}
	assert.False(t, CompletesEvent(open, ev, "b").IsArb)
	assert.False(t, CompletesEvent(open, nil, "b").IsArb)
}
