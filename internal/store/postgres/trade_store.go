package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

var _ domain.TradeStore = (*TradeStore)(nil)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, position_id, challenge_id, market_id, direction, type,
	price, amount, shares, realized_pnl, fee, idempotency_key, executed_at`

func scanTradeRow(row pgx.Row) (domain.Trade, error) {
	var (
		t         domain.Trade
		direction string
		side      string
		key       *string
	)
	err := row.Scan(
		&t.ID, &t.PositionID, &t.ChallengeID, &t.MarketID, &direction, &side,
		&t.Price, &t.Amount, &t.Shares, &t.RealizedPnL, &t.Fee, &key, &t.ExecutedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.Direction = domain.Direction(direction)
	t.Type = domain.TradeSide(side)
	if key != nil {
		t.IdempotencyKey = *key
	}
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTradeRow(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetByIdempotencyKey finds a trade by its client key.
func (s *TradeStore) GetByIdempotencyKey(ctx context.Context, challengeID, key string) (domain.Trade, error) {
	return tradeByKey(ctx, s.pool, challengeID, key)
}

// ListByChallenge returns the trades of a challenge, newest first.
func (s *TradeStore) ListByChallenge(ctx context.Context, challengeID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := withListOpts(
		`SELECT `+tradeSelectCols+` FROM trades WHERE challenge_id = $1`,
		[]any{challengeID}, "executed_at", "executed_at DESC, id DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades of %s: %w", challengeID, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// Ledger returns the trades of a challenge in execution order.
func (s *TradeStore) Ledger(ctx context.Context, challengeID string) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE challenge_id = $1 ORDER BY executed_at, id`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: ledger of %s: %w", challengeID, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan ledger: %w", err)
	}
	return trades, nil
}

func tradeByKey(ctx context.Context, q querier, challengeID, key string) (domain.Trade, error) {
	if key == "" {
		return domain.Trade{}, fmt.Errorf("postgres: trade key %q: %w", key, domain.ErrNotFound)
	}
	row := q.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE challenge_id = $1 AND idempotency_key = $2`, challengeID, key)

	t, err := scanTradeRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, fmt.Errorf("postgres: trade key %q: %w", key, domain.ErrNotFound)
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade by key %q: %w", key, err)
	}
	return t, nil
}

func insertTrade(ctx context.Context, q querier, t domain.Trade) error {
	const query = `
		INSERT INTO trades (` + tradeSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	var key *string
	if t.IdempotencyKey != "" {
		key = &t.IdempotencyKey
	}
	_, err := q.Exec(ctx, query,
		t.ID, t.PositionID, t.ChallengeID, t.MarketID, string(t.Direction), string(t.Type),
		t.Price, t.Amount, t.Shares, t.RealizedPnL, t.Fee, key, t.ExecutedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: trade key %q: %w", t.IdempotencyKey, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}
