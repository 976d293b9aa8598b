package evaluator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/platform/fake"
	"github.com/alanyoungcy/propdesk/internal/store/memory"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type recordingBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.messages == nil {
		b.messages = make(map[string][][]byte)
	}
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *recordingBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return b.Publish(ctx, stream, payload)
}

func (b *recordingBus) Count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages[channel])
}

type harness struct {
	store    *memory.Store
	market   *fake.Market
	notifier *recordingNotifier
	bus      *recordingBus
	eval     *Evaluator
	clock    time.Time
}

func newHarness(t *testing.T, c domain.Challenge, positions ...domain.Position) *harness {
	t.Helper()
	h := &harness{
		store:    memory.New(),
		market:   fake.NewMarket(),
		notifier: &recordingNotifier{},
		bus:      &recordingBus{},
		clock:    t0,
	}
	ctx := context.Background()
	require.NoError(t, h.store.Create(ctx, c))
	require.NoError(t, h.store.WithChallengeLock(ctx, c.ID, func(ctx context.Context, tx domain.ChallengeTx) error {
		for _, p := range positions {
			if err := tx.CreatePosition(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}))
	h.eval = New(Config{
		Challenges:  h.store,
		Positions:   h.store,
		Locker:      h.store,
		Markets:     h.market,
		Audit:       h.store,
		Bus:         h.bus,
		Notifier:    h.notifier,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		GracePeriod: 24 * time.Hour,
		Now:         func() time.Time { return h.clock },
	})
	return h
}

func openPosition(marketID, shares, entry string) domain.Position {
	return domain.Position{
		ID: "p-" + marketID, ChallengeID: "c1", MarketID: marketID, Direction: domain.DirectionYes,
		SizeAmount: dec(shares).Mul(dec(entry)), Shares: dec(shares), EntryPrice: dec(entry), CurrentPrice: dec(entry),
		Status: domain.PositionOpen, OpenedAt: t0.Add(-time.Hour),
	}
}

func TestEvaluateFailsOnDrawdownFromLivePrices(t *testing.T) {
	c := challenge()
	c.CurrentBalance = dec("8000")
	// 2000 shares bought at 0.50, now marked at 0.45: equity 8900.
	h := newHarness(t, c, openPosition("m1", "2000", "0.50"))
	h.market.SetPrice("m1", dec("0.45"))

	res, err := h.eval.Evaluate(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeFailed, res.Status)
	assert.Equal(t, ReasonMaxDrawdown, res.Reason)
	assert.True(t, res.Equity.Equal(dec("8900")))

	stored, err := h.store.GetByID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeFailed, stored.Status)

	assert.Equal(t, []string{"challenge_failed"}, h.notifier.Events())
	assert.Equal(t, 1, h.bus.Count(ChallengesChannel))
	audit, err := h.store.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "challenge_failed", audit[0].Event)
}

func TestEvaluateFallsBackToStoredPriceOutsideBand(t *testing.T) {
	c := challenge()
	c.CurrentBalance = dec("9000")
	h := newHarness(t, c, openPosition("m1", "2000", "0.50"))
	// A price at the extreme is ignored; the stored 0.50 keeps equity at 10000.
	h.market.SetPrice("m1", dec("0.995"))

	res, err := h.eval.Evaluate(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeActive, res.Status)
	assert.True(t, res.Equity.Equal(dec("10000")))
}

func TestEvaluateIsIdempotent(t *testing.T) {
	c := challenge()
	c.CurrentBalance = dec("9400")
	h := newHarness(t, c)

	first, err := h.eval.Evaluate(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, first.PendingFailureAt)

	h.clock = t0.Add(time.Minute)
	second, err := h.eval.Evaluate(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Phase, second.Phase)
	assert.Equal(t, first.PendingFailureAt.Unix(), second.PendingFailureAt.Unix())

	// Only the first evaluation announced the pending failure.
	assert.Equal(t, []string{"challenge_pending_failure"}, h.notifier.Events())
}

func TestEvaluateSoftPassPersists(t *testing.T) {
	c := challenge()
	c.CurrentBalance = dec("11100")
	h := newHarness(t, c)

	res, err := h.eval.Evaluate(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFunded, res.Phase)

	stored, err := h.store.GetByID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFunded, stored.Phase)
	assert.True(t, stored.CurrentBalance.Equal(dec("10000")))
	assert.Nil(t, stored.EndsAt)
	assert.Equal(t, []string{"challenge_funded"}, h.notifier.Events())

	// Funded at the starting balance: no further transition.
	res, err = h.eval.Evaluate(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeActive, res.Status)
	assert.Len(t, h.notifier.Events(), 1)
}

func TestEvaluateSoftPassClosesOpenPositions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, challenge(), openPosition("m1", "2000", "0.50"))
	h.market.SetPrice("m1", dec("0.55"))

	res, err := h.eval.Evaluate(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFunded, res.Phase)
	assert.True(t, res.Equity.Equal(dec("11100")), "equity %s", res.Equity)

	open, err := h.store.GetOpen(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, open)

	trades := h.store.Trades("c1")
	require.Len(t, trades, 1)
	assert.Equal(t, domain.SideSell, trades[0].Type)
	assert.True(t, trades[0].Price.Equal(dec("0.55")))
	assert.True(t, trades[0].Amount.Equal(dec("1100")))
	assert.True(t, trades[0].RealizedPnL.Equal(dec("100")))
	assert.Equal(t, "phase-close:p-m1", trades[0].IdempotencyKey)

	// The funded phase starts flat at the starting balance.
	res, err = h.eval.Evaluate(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeActive, res.Status)
	assert.Equal(t, domain.PhaseFunded, res.Phase)
	assert.True(t, res.Equity.Equal(dec("10000")), "equity %s", res.Equity)
	assert.Equal(t, []string{"challenge_funded"}, h.notifier.Events())
}

func TestDailyResetUsesMarkedEquity(t *testing.T) {
	c := challenge()
	c.CurrentBalance = dec("9500")
	h := newHarness(t, c, openPosition("m1", "1000", "0.50"))
	h.market.SetPrice("m1", dec("0.60"))

	res, err := h.eval.DailyReset(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeActive, res.Status)

	stored, err := h.store.GetByID(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, stored.StartOfDayBalance.Equal(dec("10100")))
	require.NotNil(t, stored.LastDailyResetAt)
}

func TestEvaluateUnknownChallenge(t *testing.T) {
	h := newHarness(t, challenge())
	_, err := h.eval.Evaluate(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
