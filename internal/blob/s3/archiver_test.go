package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/store/memory"
)

type memWriter struct {
	objects   map[string][]byte
	multipart int
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	w.objects[path] = b
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	w.multipart++
	return w.Put(ctx, path, data, "")
}

func TestArchiveChallengeWritesJSONL(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c := domain.Challenge{
		ID: "c1", Owner: "u1", Status: domain.ChallengeFailed, Phase: domain.PhaseChallenge,
		StartingBalance: decimal.NewFromInt(10000), CurrentBalance: decimal.NewFromInt(8800),
		FailureReason: "max drawdown breached", StartedAt: now,
	}
	require.NoError(t, store.Create(ctx, c))
	pos := domain.Position{
		ID: "p1", ChallengeID: "c1", MarketID: "m1", Direction: domain.DirectionYes,
		SizeAmount: decimal.NewFromInt(500), Shares: decimal.NewFromInt(1000),
		EntryPrice: decimal.RequireFromString("0.5"), Status: domain.PositionOpen, OpenedAt: now,
	}
	trade := domain.Trade{
		ID: "t1", PositionID: "p1", ChallengeID: "c1", MarketID: "m1", Direction: domain.DirectionYes,
		Type: domain.SideBuy, Price: decimal.RequireFromString("0.5"), Amount: decimal.NewFromInt(500),
		Shares: decimal.NewFromInt(1000), Fee: decimal.Zero, RealizedPnL: decimal.Zero, ExecutedAt: now,
	}
	require.NoError(t, store.WithChallengeLock(ctx, "c1", func(ctx context.Context, tx domain.ChallengeTx) error {
		if err := tx.CreatePosition(ctx, pos); err != nil {
			return err
		}
		return tx.InsertTrade(ctx, trade)
	}))

	w := &memWriter{}
	a := NewArchiver(w, store, store, store.Ledger(), store)
	path, err := a.ArchiveChallenge(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "challenges/c1/ledger.jsonl", path)
	assert.Zero(t, w.multipart)

	var kinds []string
	sc := bufio.NewScanner(bytes.NewReader(w.objects[path]))
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		kinds = append(kinds, line["kind"].(string))
		if line["kind"] == "trade" {
			assert.Equal(t, "BUY", line["side"])
			assert.Equal(t, "0.5", line["price"])
		}
	}
	assert.Equal(t, []string{"challenge", "position", "trade"}, kinds)

	entries, err := store.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "archive.ledger", entries[0].Event)
}

func TestArchiveChallengeMissing(t *testing.T) {
	store := memory.New()
	a := NewArchiver(&memWriter{}, store, store, store.Ledger(), nil)
	_, err := a.ArchiveChallenge(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
}
