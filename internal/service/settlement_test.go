package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/executor"
	"github.com/alanyoungcy/propdesk/internal/platform/fake"
	"github.com/alanyoungcy/propdesk/internal/store/memory"
)

type busRecorder struct {
	mu      sync.Mutex
	streams []string
}

func (b *busRecorder) Publish(context.Context, string, []byte) error { return nil }

func (b *busRecorder) StreamAppend(_ context.Context, stream string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams = append(b.streams, stream)
	return nil
}

func TestSettleResolvedPaysOutHeldSide(t *testing.T) {
	store := memory.New()
	market := fake.NewMarket()
	svc := newChallengeService(store, market)
	bus := &busRecorder{}
	settler := NewResolutionSettler(store, store, market, bus, discard())
	ctx := context.Background()

	c, err := svc.Create(ctx, "alice", "10K")
	require.NoError(t, err)
	// Balance already reflects the cost of both positions.
	err = store.WithChallengeLock(ctx, c.ID, func(ctx context.Context, tx domain.ChallengeTx) error {
		ch := tx.Challenge()
		ch.CurrentBalance = dec("9200")
		return tx.UpdateChallenge(ctx, ch)
	})
	require.NoError(t, err)

	openPosition(t, store, c.ID, domain.Position{
		ID: "yes", ChallengeID: c.ID, MarketID: "won", Direction: domain.DirectionYes,
		SizeAmount: dec("600"), Shares: dec("1000"), EntryPrice: dec("0.6"), CurrentPrice: dec("0.6"),
		Status: domain.PositionOpen, OpenedAt: fixedNow,
	})
	openPosition(t, store, c.ID, domain.Position{
		ID: "no", ChallengeID: c.ID, MarketID: "lost", Direction: domain.DirectionNo,
		SizeAmount: dec("200"), Shares: dec("500"), EntryPrice: dec("0.4"), CurrentPrice: dec("0.4"),
		Status: domain.PositionOpen, OpenedAt: fixedNow,
	})
	openPosition(t, store, c.ID, domain.Position{
		ID: "open", ChallengeID: c.ID, MarketID: "live", Direction: domain.DirectionYes,
		SizeAmount: dec("100"), Shares: dec("200"), EntryPrice: dec("0.5"), CurrentPrice: dec("0.5"),
		Status: domain.PositionOpen, OpenedAt: fixedNow,
	})
	market.SetResolution(domain.Resolution{MarketID: "won", IsResolved: true, WinningOutcome: "YES", ResolutionPrice: dec("1")})
	market.SetResolution(domain.Resolution{MarketID: "lost", IsResolved: true, WinningOutcome: "YES", ResolutionPrice: dec("1")})

	n, err := settler.SettleResolved(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := store.GetByID(ctx, c.ID)
	require.NoError(t, err)
	// YES pays 1000 x 1, NO pays 500 x 0.
	assert.True(t, got.CurrentBalance.Equal(dec("10200")), got.CurrentBalance.String())

	open, err := store.GetOpen(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "open", open[0].ID)

	won, err := store.Ledger().GetByIdempotencyKey(ctx, c.ID, "settle:yes")
	require.NoError(t, err)
	assert.Equal(t, domain.SideSell, won.Type)
	assert.True(t, won.RealizedPnL.Equal(dec("400")), won.RealizedPnL.String())

	lost, err := store.Ledger().GetByIdempotencyKey(ctx, c.ID, "settle:no")
	require.NoError(t, err)
	assert.True(t, lost.Amount.IsZero())
	assert.True(t, lost.RealizedPnL.Equal(dec("-200")), lost.RealizedPnL.String())

	assert.Equal(t, []string{executor.TradesStream, executor.TradesStream}, bus.streams)

	n, err = settler.SettleResolved(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSettleResolvedSkipsInactiveChallenge(t *testing.T) {
	store := memory.New()
	market := fake.NewMarket()
	svc := newChallengeService(store, market)
	settler := NewResolutionSettler(store, store, market, nil, discard())
	ctx := context.Background()

	c, err := svc.Create(ctx, "alice", "10K")
	require.NoError(t, err)
	openPosition(t, store, c.ID, domain.Position{
		ID: "p1", ChallengeID: c.ID, MarketID: "m1", Direction: domain.DirectionYes,
		SizeAmount: dec("500"), Shares: dec("1000"), EntryPrice: dec("0.5"), CurrentPrice: dec("0.5"),
		Status: domain.PositionOpen, OpenedAt: fixedNow,
	})
	_, err = svc.Cancel(ctx, c.ID, "alice")
	require.NoError(t, err)
	market.SetResolution(domain.Resolution{MarketID: "m1", IsResolved: true, ResolutionPrice: dec("1")})

	n, err := settler.SettleResolved(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}
