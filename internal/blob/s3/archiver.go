package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// multipartThreshold is the payload size above which ledgers are uploaded in parts.
const multipartThreshold = minPartSize

// LedgerSource returns a challenge's trades in execution order.
type LedgerSource interface {
	Ledger(ctx context.Context, challengeID string) ([]domain.Trade, error)
}

// Archiver implements domain.LedgerArchiver. It writes the full history of a
// finished challenge as JSONL to challenges/{id}/ledger.jsonl: one challenge
// line, then every position, then every trade. Database rows are kept.
type Archiver struct {
	writer     domain.BlobWriter
	challenges domain.ChallengeStore
	positions  domain.PositionStore
	trades     LedgerSource
	audit      domain.AuditStore // optional
}

var _ domain.LedgerArchiver = (*Archiver)(nil)

// NewArchiver creates a new Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	challenges domain.ChallengeStore,
	positions domain.PositionStore,
	trades LedgerSource,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer:     writer,
		challenges: challenges,
		positions:  positions,
		trades:     trades,
		audit:      audit,
	}
}

// ArchiveChallenge uploads the ledger of challengeID and returns its object path.
func (a *Archiver) ArchiveChallenge(ctx context.Context, challengeID string) (string, error) {
	c, err := a.challenges.GetByID(ctx, challengeID)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive challenge: %w", err)
	}
	positions, err := a.positions.ListByChallenge(ctx, challengeID, domain.ListOpts{})
	if err != nil {
		return "", fmt.Errorf("s3blob: archive positions: %w", err)
	}
	trades, err := a.trades.Ledger(ctx, challengeID)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive trades: %w", err)
	}

	records := make([]ledgerLine, 0, 1+len(positions)+len(trades))
	records = append(records, challengeLine(c))
	for _, p := range positions {
		records = append(records, positionLine(p))
	}
	for _, t := range trades {
		records = append(records, tradeLine(t))
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := LedgerPath(challengeID)
	if int64(len(buf)) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive upload: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.ledger", map[string]any{
			"challenge_id": challengeID,
			"path":         path,
			"positions":    len(positions),
			"trades":       len(trades),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return path, nil
}

// LedgerPath is the object key of a challenge's archived ledger.
func LedgerPath(challengeID string) string {
	return fmt.Sprintf("challenges/%s/ledger.jsonl", challengeID)
}

// ledgerLine is one JSONL record. Kind is "challenge", "position" or "trade".
type ledgerLine struct {
	Kind        string           `json:"kind"`
	ID          string           `json:"id"`
	ChallengeID string           `json:"challenge_id,omitempty"`
	PositionID  string           `json:"position_id,omitempty"`
	MarketID    string           `json:"market_id,omitempty"`
	Direction   string           `json:"direction,omitempty"`
	Side        string           `json:"side,omitempty"`
	Status      string           `json:"status,omitempty"`
	Phase       string           `json:"phase,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Shares      *decimal.Decimal `json:"shares,omitempty"`
	PnL         *decimal.Decimal `json:"pnl,omitempty"`
	Fee         *decimal.Decimal `json:"fee,omitempty"`
	Balance     *decimal.Decimal `json:"balance,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Key         string           `json:"idempotency_key,omitempty"`
	At          time.Time        `json:"at"`
	ClosedAt    *time.Time       `json:"closed_at,omitempty"`
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

func challengeLine(c domain.Challenge) ledgerLine {
	return ledgerLine{
		Kind:     "challenge",
		ID:       c.ID,
		Status:   string(c.Status),
		Phase:    string(c.Phase),
		Amount:   ptr(c.StartingBalance),
		Balance:  ptr(c.CurrentBalance),
		Reason:   c.FailureReason,
		At:       c.StartedAt,
		ClosedAt: c.CompletedAt,
	}
}

func positionLine(p domain.Position) ledgerLine {
	return ledgerLine{
		Kind:        "position",
		ID:          p.ID,
		ChallengeID: p.ChallengeID,
		MarketID:    p.MarketID,
		Direction:   string(p.Direction),
		Status:      string(p.Status),
		Price:       ptr(p.EntryPrice),
		Amount:      ptr(p.SizeAmount),
		Shares:      ptr(p.Shares),
		PnL:         ptr(p.PnL),
		Fee:         ptr(p.FeesPaid),
		At:          p.OpenedAt,
		ClosedAt:    p.ClosedAt,
	}
}

func tradeLine(t domain.Trade) ledgerLine {
	return ledgerLine{
		Kind:        "trade",
		ID:          t.ID,
		ChallengeID: t.ChallengeID,
		PositionID:  t.PositionID,
		MarketID:    t.MarketID,
		Direction:   string(t.Direction),
		Side:        string(t.Type),
		Price:       ptr(t.Price),
		Amount:      ptr(t.Amount),
		Shares:      ptr(t.Shares),
		PnL:         ptr(t.RealizedPnL),
		Fee:         ptr(t.Fee),
		Key:         t.IdempotencyKey,
		At:          t.ExecutedAt,
	}
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
